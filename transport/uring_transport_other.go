//go:build !linux

package transport

import (
	"context"
	"errors"
	"net"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

var errNoUring = errors.New("io_uring is only available on linux")

// UringDialer is unavailable outside linux.
type UringDialer struct{}

func NewUringDialer(entries uint) (*UringDialer, error) {
	return nil, httperrors.NewTransportError(httperrors.ConnectError, errNoUring)
}

func (d *UringDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, errNoUring
}

func (d *UringDialer) Close() {}
