// msgclient is an interactive message client that speaks HTTP/1.1 over one
// long-lived raw TCP connection.
//
// Usage:
//
//	msgclient [serverIP] [serverPort]
//	msgclient --help
package main

import (
	"fmt"
	"os"

	"github.com/nczempin/rawhttp-msgclient/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
