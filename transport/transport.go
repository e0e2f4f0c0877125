package transport

import (
	"context"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultDrainTimeout    = time.Second
	DefaultKeepAlivePeriod = 15 * time.Second
)

// Dialer establishes the byte stream a Connection owns.
// *net.Dialer satisfies it; UringDialer is the io_uring alternative on linux.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// State is the lifecycle state of a Connection.
type State int

const (
	Disconnected State = iota
	Connected
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Endpoint is the remote side of a Connection.
// For unix sockets Host holds the socket path and Port is ignored.
type Endpoint struct {
	Network string
	Host    string
	Port    uint16
}

// TCP returns a tcp endpoint for host:port.
func TCP(host string, port uint16) Endpoint {
	return Endpoint{Network: "tcp", Host: host, Port: port}
}

func (e Endpoint) network() string {
	if e.Network == "" {
		return "tcp"
	}
	return e.Network
}

// Address returns the dialable address of the endpoint.
func (e Endpoint) Address() string {
	if e.network() == "unix" {
		return e.Host
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) String() string {
	return e.network() + "://" + e.Address()
}

// Options tune how a Connection is opened and torn down.
// Zero values fall back to the package defaults.
type Options struct {
	ConnectTimeout  time.Duration
	WriteTimeout    time.Duration
	DrainTimeout    time.Duration
	KeepAlivePeriod time.Duration
	Dialer          Dialer
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.KeepAlivePeriod <= 0 {
		o.KeepAlivePeriod = DefaultKeepAlivePeriod
	}
	if o.Dialer == nil {
		// keep-alive is switched on explicitly after the dial
		o.Dialer = &net.Dialer{KeepAlive: -1}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Outcome is the best-effort result of tearing a socket down.
// Teardown never fails the caller; a partial outcome carries what went wrong.
type Outcome struct {
	Err error
}

// Succeeded reports whether every teardown step completed cleanly.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Partial reports whether at least one teardown step failed.
func (o Outcome) Partial() bool {
	return o.Err != nil
}

// Errors lists the individual teardown failures.
func (o Outcome) Errors() []error {
	return multierr.Errors(o.Err)
}

func (o Outcome) String() string {
	if o.Succeeded() {
		return "succeeded"
	}
	return "partial"
}
