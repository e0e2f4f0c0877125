//go:build linux

package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"syscall"

	"github.com/iceber/iouring-go"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

// UringDialer submits the TCP connect through io_uring and then adopts the
// socket into a regular net.Conn, so deadlines, keep-alive and half-close
// behave exactly as with net.Dialer.
type UringDialer struct {
	iour *iouring.IOURing
}

// NewUringDialer creates a dialer backed by an io_uring instance with the
// given queue depth.
func NewUringDialer(entries uint) (*UringDialer, error) {
	iour, err := iouring.New(entries)
	if err != nil {
		return nil, httperrors.NewTransportError(httperrors.ConnectError, fmt.Errorf("io_uring init: %w", err))
	}
	return &UringDialer{iour: iour}, nil
}

// DialContext implements Dialer for tcp, tcp4 and tcp6.
func (d *UringDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("io_uring dialer: unsupported network %q", network)
	}

	addr, err := resolve(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}

	family := syscall.AF_INET6
	var sa syscall.Sockaddr
	if addr.Addr().Is4() {
		family = syscall.AF_INET
		sa = &syscall.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}
	} else {
		sa = &syscall.SockaddrInet6{Port: int(addr.Port()), Addr: addr.Addr().As16()}
	}

	fd, err := syscall.Socket(family, syscall.SOCK_STREAM|syscall.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create socket: %w", err)
	}

	ch := make(chan iouring.Result, 1)
	if _, err := d.iour.SubmitRequest(iouring.Connect(fd, sa), ch); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("failed to submit connect request: %w", err)
	}

	select {
	case result := <-ch:
		if _, err := result.ReturnInt(); err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}
	case <-ctx.Done():
		// the pending completion lands in the buffered channel and is dropped
		syscall.Close(fd)
		return nil, ctx.Err()
	}

	// net.FileConn dups the descriptor and switches it to non-blocking mode
	file := os.NewFile(uintptr(fd), "uring-"+address)
	defer file.Close()

	conn, err := net.FileConn(file)
	if err != nil {
		return nil, fmt.Errorf("failed to adopt socket: %w", err)
	}
	return conn, nil
}

// resolve looks up address within ctx and picks the first usable IP.
func resolve(ctx context.Context, network, address string) (netip.AddrPort, error) {
	host, portText, err := net.SplitHostPort(address)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := net.DefaultResolver.LookupPort(ctx, network, portText)
	if err != nil {
		return netip.AddrPort{}, err
	}

	ipNetwork := "ip"
	switch network {
	case "tcp4":
		ipNetwork = "ip4"
	case "tcp6":
		ipNetwork = "ip6"
	}
	ips, err := net.DefaultResolver.LookupNetIP(ctx, ipNetwork, host)
	if err != nil {
		if ctx.Err() != nil {
			return netip.AddrPort{}, ctx.Err()
		}
		return netip.AddrPort{}, err
	}
	if len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("no addresses for %s", host)
	}
	return netip.AddrPortFrom(ips[0].Unmap(), uint16(port)), nil
}

// Close releases the io_uring instance.
func (d *UringDialer) Close() {
	if d.iour != nil {
		d.iour.Close()
		d.iour = nil
	}
}
