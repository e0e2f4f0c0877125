package transport

import (
	"context"
)

// Unix returns an endpoint for a unix domain socket at path.
func Unix(path string) Endpoint {
	return Endpoint{Network: "unix", Host: path}
}

// OpenUnix opens a Connection over a unix domain socket.
// Sockets without keep-alive support are opened with the probe flag unset.
func OpenUnix(ctx context.Context, path string, opts Options) (*Connection, error) {
	return Open(ctx, Unix(path), opts)
}
