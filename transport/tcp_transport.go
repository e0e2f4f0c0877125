package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

type keepAliver interface {
	SetKeepAlive(keepalive bool) error
	SetKeepAlivePeriod(d time.Duration) error
}

type closeWriter interface {
	CloseWrite() error
}

// Connection owns exactly one socket to one endpoint.
// It is not safe for concurrent use; callers serialize whole request/response
// cycles themselves.
type Connection struct {
	endpoint  Endpoint
	opts      Options
	logger    *zap.Logger
	conn      net.Conn
	localAddr string
	state     State
	keepAlive bool
	dialTime  time.Duration
}

// Open dials the endpoint and returns a Connection in state Connected.
// The dial is bounded by Options.ConnectTimeout; any failure, DNS and
// route errors included, is reported as ConnectError.
func Open(ctx context.Context, endpoint Endpoint, opts Options) (*Connection, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(zap.Stringer("endpoint", endpoint))

	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := opts.Dialer.DialContext(dialCtx, endpoint.network(), endpoint.Address())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no connection within %s: %w", opts.ConnectTimeout, err)
		}
		logger.Debug("connect failed", zap.Error(err))
		return nil, httperrors.NewTransportError(httperrors.ConnectError, err)
	}

	c := &Connection{
		endpoint: endpoint,
		opts:     opts,
		logger:   logger,
		conn:     conn,
		dialTime: time.Since(start),
	}
	if addr := conn.LocalAddr(); addr != nil {
		c.localAddr = addr.String()
	}

	if err := c.enableKeepAlive(); err != nil {
		conn.Close()
		return nil, httperrors.NewTransportError(httperrors.ConnectError, err)
	}

	c.state = Connected
	logger.Debug("connected",
		zap.String("local", c.localAddr),
		zap.Duration("handshake", c.dialTime),
		zap.Bool("keepalive", c.keepAlive))
	return c, nil
}

// enableKeepAlive turns on the socket-level keep-alive probe so silently
// dead peers are detected independent of HTTP keep-alive.
func (c *Connection) enableKeepAlive() error {
	if tcpConn, ok := c.conn.(*net.TCPConn); ok {
		// Set TCP_NODELAY to disable Nagle's algorithm for lower latency
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}

	ka, ok := c.conn.(keepAliver)
	if !ok {
		return nil
	}
	if err := ka.SetKeepAlive(true); err != nil {
		return err
	}
	if err := ka.SetKeepAlivePeriod(c.opts.KeepAlivePeriod); err != nil {
		return err
	}
	c.keepAlive = true
	return nil
}

func (c *Connection) Endpoint() Endpoint { return c.endpoint }

func (c *Connection) State() State { return c.state }

// LocalAddr is the locally bound address, informational only.
func (c *Connection) LocalAddr() string { return c.localAddr }

// LocalIP is the host part of LocalAddr, or "0.0.0.0" when unknown.
func (c *Connection) LocalIP() string {
	host, _, err := net.SplitHostPort(c.localAddr)
	if err != nil || host == "" {
		return "0.0.0.0"
	}
	return host
}

// KeepAlive reports whether the keep-alive probe is enabled on the socket.
func (c *Connection) KeepAlive() bool { return c.keepAlive }

// DialTime is roughly how long the handshake took.
func (c *Connection) DialTime() time.Duration { return c.dialTime }

// Send writes all of p to the peer.
func (c *Connection) Send(p []byte) error {
	if c.state != Connected || c.conn == nil {
		return httperrors.NewTransportError(httperrors.NotConnected, fmt.Errorf("send on %s connection", c.state))
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return httperrors.NewTransportError(httperrors.SendError, err)
	}
	if _, err := c.conn.Write(p); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			c.logger.Debug("peer gone during send", zap.Error(err))
		}
		return httperrors.NewTransportError(httperrors.SendError, err)
	}
	return nil
}

// Read receives data from the peer. A peer close is reported as
// ConnectionClosed and leaves the Connection Disconnected, so the next Send
// fails with NotConnected instead of writing into a dead socket. An expired
// read deadline is reported as ReadTimeout.
func (c *Connection) Read(buf []byte) (int, error) {
	if c.state != Connected || c.conn == nil {
		return 0, httperrors.NewTransportError(httperrors.NotConnected, fmt.Errorf("read on %s connection", c.state))
	}

	n, err := c.conn.Read(buf)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, syscall.ECONNRESET):
			c.state = Disconnected
			c.logger.Debug("peer closed the connection", zap.Error(err))
			return n, httperrors.NewTransportError(httperrors.ConnectionClosed, err)
		case errors.Is(err, os.ErrDeadlineExceeded):
			return n, httperrors.NewTransportError(httperrors.ReadTimeout, err)
		default:
			return n, httperrors.NewTransportError(httperrors.ReadFailure, err)
		}
	}

	return n, nil
}

// SetReadDeadline bounds the next reads from the socket.
func (c *Connection) SetReadDeadline(t time.Time) error {
	if c.conn == nil {
		return httperrors.NewTransportError(httperrors.NotConnected, nil)
	}
	return c.conn.SetReadDeadline(t)
}

// Close terminates the connection gracefully: it shuts down the writing half,
// discards whatever the peer still sends for up to Options.DrainTimeout and
// then closes the socket. Errors while draining are ignored. Close is
// idempotent.
func (c *Connection) Close() Outcome {
	if c.conn == nil {
		c.state = Closed
		return Outcome{}
	}

	c.state = Closing
	var err error

	if cw, ok := c.conn.(closeWriter); ok {
		if cerr := cw.CloseWrite(); cerr != nil {
			err = multierr.Append(err, httperrors.NewTransportError(httperrors.CloseFailure, fmt.Errorf("shutdown write: %w", cerr)))
		}
	}

	drained, derr := c.drain()
	c.logger.Debug("drained peer", zap.Int64("bytes", drained), zap.NamedError("drain_error", derr))

	if cerr := c.conn.Close(); cerr != nil {
		err = multierr.Append(err, httperrors.NewTransportError(httperrors.CloseFailure, cerr))
	}

	c.conn = nil
	c.state = Closed

	outcome := Outcome{Err: err}
	if outcome.Partial() {
		c.logger.Warn("graceful close incomplete", zap.Error(err))
	} else {
		c.logger.Debug("closed")
	}
	return outcome
}

func (c *Connection) drain() (int64, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.DrainTimeout)); err != nil {
		return 0, err
	}
	return io.Copy(io.Discard, c.conn)
}

// abort closes the socket without a graceful shutdown.
func (c *Connection) abort() Outcome {
	defer func() {
		c.conn = nil
		c.state = Closed
	}()

	if c.conn == nil {
		return Outcome{}
	}
	if err := c.conn.Close(); err != nil {
		return Outcome{Err: httperrors.NewTransportError(httperrors.CloseFailure, err)}
	}
	return Outcome{}
}

// Reconnect discards the current socket without a graceful shutdown and opens
// a fresh Connection to the same endpoint with the same options. The receiver
// is left Closed and must not be used again; the returned Connection replaces
// it. The Outcome describes the teardown of the old socket.
func (c *Connection) Reconnect(ctx context.Context) (*Connection, Outcome, error) {
	outcome := c.abort()
	if outcome.Partial() {
		c.logger.Warn("discarding old socket failed", zap.Error(outcome.Err))
	}

	next, err := Open(ctx, c.endpoint, c.opts)
	if err != nil {
		return nil, outcome, err
	}
	c.logger.Debug("reconnected", zap.String("local", next.localAddr))
	return next, outcome, nil
}
