// Package session drives the interactive menu of the message client.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/nczempin/rawhttp-msgclient/client"
	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
	"github.com/nczempin/rawhttp-msgclient/protocol"
)

const menu = `
===== MENU =====
1 - Send message (POST /messages)
2 - List messages (GET /messages)
3 - Quit (close TCP connection)
4 - Edit message (PATCH /messages/message)`

// Driver reads menu choices from in and runs them against one HttpClient.
type Driver struct {
	client *client.HttpClient
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	lines <-chan string
}

func NewDriver(c *client.HttpClient, in io.Reader, out io.Writer, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{client: c, in: in, out: out, logger: logger}
}

// Run shows the menu until the user quits or input ends, both of which close
// the connection gracefully. It returns ctx.Err() when ctx is canceled and
// leaves closing to the caller in that case. Errors the session cannot
// continue after are returned as is.
func (d *Driver) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	d.lines = scanLines(d.in, done)

	conn := d.client.Connection()
	fmt.Fprintf(d.out, "Connected to %s (approx. %.3fs)\n", conn.Endpoint(), conn.DialTime().Seconds())

	for {
		fmt.Fprintln(d.out, menu)
		choice, err := d.prompt(ctx, "Choice: ")
		if err != nil {
			return d.stop(err)
		}
		d.logger.Debug("menu choice", zap.String("choice", choice))

		switch choice {
		case "1":
			err = d.postMessage(ctx)
		case "2":
			err = d.listMessages(ctx)
		case "3":
			d.quit()
			return nil
		case "4":
			err = d.updateMessage(ctx)
		default:
			fmt.Fprintln(d.out, "Invalid option. Try 1, 2, 3 or 4.")
			continue
		}
		if err != nil {
			return d.stop(err)
		}
	}
}

// stop ends the session. End of input counts as quitting.
func (d *Driver) stop(err error) error {
	if errors.Is(err, io.EOF) {
		d.quit()
		return nil
	}
	return err
}

func (d *Driver) postMessage(ctx context.Context) error {
	text, err := d.prompt(ctx, "Message to send: ")
	if err != nil {
		return err
	}

	fmt.Fprintln(d.out, "\n[step] Sending POST request ...")
	resp, err := d.client.PostMessage(ctx, text)
	if err = d.check(resp, err); err != nil || resp == nil {
		return err
	}
	WriteResponse(d.out, resp)
	return nil
}

func (d *Driver) listMessages(ctx context.Context) error {
	fmt.Fprintln(d.out, "\n[step] Sending GET /messages ...")
	resp, err := d.client.ListMessages(ctx)
	if err = d.check(resp, err); err != nil || resp == nil {
		return err
	}
	if resp.StatusCode == 200 {
		WriteMessages(d.out, resp.Body)
	} else {
		fmt.Fprintf(d.out, "[warning] Status %d, showing raw response:\n", resp.StatusCode)
		WriteResponse(d.out, resp)
	}
	return nil
}

func (d *Driver) updateMessage(ctx context.Context) error {
	id, err := d.prompt(ctx, "ID (UUID) of the message to edit: ")
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(d.out, "Empty ID, operation cancelled.")
		return nil
	}
	text, err := d.prompt(ctx, "New message text: ")
	if err != nil {
		return err
	}

	fmt.Fprintln(d.out, "\n[step] Sending PATCH /messages/message ...")
	resp, err := d.client.UpdateMessage(ctx, id, text)
	if err = d.check(resp, err); err != nil || resp == nil {
		return err
	}
	if resp.StatusCode == 200 {
		WriteUpdated(d.out, resp)
	} else {
		fmt.Fprintf(d.out, "[warning] Status %d, showing raw response:\n", resp.StatusCode)
		WriteResponse(d.out, resp)
	}
	return nil
}

// check reports errors the session survives and returns the rest. After
// check returns nil, a nil resp means there is nothing to display.
func (d *Driver) check(resp *protocol.HttpResponse, err error) error {
	switch {
	case err == nil:
		if resp != nil && resp.ConnectionClose() {
			fmt.Fprintln(d.out, "[info] Server sent Connection: close, reconnecting automatically.")
		}
		return nil
	case httperrors.IsHttp(err, httperrors.InvalidRequest):
		fmt.Fprintf(d.out, "[error] %v\n", err)
		return nil
	case httperrors.IsNonFatal(err):
		fmt.Fprintf(d.out, "[warning] %v\n", err)
		return nil
	default:
		if resp != nil && resp.ConnectionClose() {
			fmt.Fprintln(d.out, "[error] Server sent Connection: close and reconnecting failed.")
		}
		d.logger.Error("request failed", zap.Error(err))
		return err
	}
}

func (d *Driver) quit() {
	fmt.Fprintln(d.out, "\n[step] Closing TCP connection gracefully (FIN) ...")
	outcome := d.client.Close()
	if outcome.Partial() {
		for _, err := range outcome.Errors() {
			fmt.Fprintf(d.out, "-> %v\n", err)
		}
	}
	fmt.Fprintln(d.out, "Connection closed. Exiting.")
}

func (d *Driver) prompt(ctx context.Context, label string) (string, error) {
	fmt.Fprint(d.out, label)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-d.lines:
		if !ok {
			return "", io.EOF
		}
		return strings.TrimSpace(line), nil
	}
}

// scanLines feeds lines from r until r ends or done is closed. A read that is
// blocked when done closes keeps its goroutine until r returns.
func scanLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}
