package client

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
	"github.com/nczempin/rawhttp-msgclient/metrics"
	"github.com/nczempin/rawhttp-msgclient/protocol"
	"github.com/nczempin/rawhttp-msgclient/transport"
)

// Options configures an HttpClient.
type Options struct {
	Transport transport.Options

	// Reader reassembles responses; nil means protocol.NewReader().
	Reader *protocol.Reader

	UserAgent string

	// DisableKeepAlive sends "Connection: close" on every request.
	DisableKeepAlive bool

	// RequestsPerSecond paces requests; 0 means unlimited.
	RequestsPerSecond float64

	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// HttpClient runs strictly sequential request/response cycles over one
// Connection. It replaces the Connection when the server answers with
// "Connection: close" and retries a failed send once on a fresh Connection.
// It is not safe for concurrent use.
type HttpClient struct {
	conn       *transport.Connection
	reader     *protocol.Reader
	host       string
	opts       Options
	limiter    *rate.Limiter
	logger     *zap.Logger
	metrics    *metrics.Recorder
	reconnects int
	closed     bool
}

// Dial opens a Connection to endpoint and wraps it in an HttpClient.
func Dial(ctx context.Context, endpoint transport.Endpoint, opts Options) (*HttpClient, error) {
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = opts.Logger
	}
	conn, err := transport.Open(ctx, endpoint, opts.Transport)
	if err != nil {
		return nil, err
	}
	return NewHttpClient(conn, opts), nil
}

// NewHttpClient creates a new HTTP client on an open Connection
func NewHttpClient(conn *transport.Connection, opts Options) *HttpClient {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reader := opts.Reader
	if reader == nil {
		reader = protocol.NewReader()
	}
	if reader.Logger == nil {
		reader.Logger = logger
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &HttpClient{
		conn:    conn,
		reader:  reader,
		host:    hostHeader(conn.Endpoint()),
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

func hostHeader(e transport.Endpoint) string {
	if e.Network == "unix" {
		return "localhost"
	}
	return e.Address()
}

// Connection is the Connection currently in use.
func (c *HttpClient) Connection() *transport.Connection { return c.conn }

// Reconnects counts how many times the Connection has been replaced.
func (c *HttpClient) Reconnects() int { return c.reconnects }

// LocalIP is the local address of the route to the server.
func (c *HttpClient) LocalIP() string { return c.conn.LocalIP() }

// Do performs one request/response cycle.
//
// Read timeouts and peer closes are returned together with an empty status 0
// response. After a read timeout, and when the response carries
// "Connection: close", the Connection is replaced before Do returns, so the
// next request goes out on a fresh socket. A Connection the peer closed is
// replaced when the next request is sent.
func (c *HttpClient) Do(ctx context.Context, req *protocol.HttpRequest) (*protocol.HttpResponse, error) {
	if c.closed {
		return nil, httperrors.NewTransportError(httperrors.NotConnected, fmt.Errorf("client closed"))
	}
	if req.Host == "" {
		req.Host = c.host
	}
	if req.UserAgent == "" {
		req.UserAgent = c.opts.UserAgent
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw := req.Encode()
	method := req.Method.String()
	logger := c.logger.With(zap.String("method", method), zap.String("path", req.Path))

	start := time.Now()
	if err := c.send(ctx, logger, raw); err != nil {
		return nil, err
	}
	logger.Debug("request sent", zap.Int("bytes", len(raw)))

	resp, err := c.reader.Read(c.conn)
	if err != nil {
		logger.Warn("no usable response", zap.Error(err))
		c.metrics.RecordReadError(readErrorKind(err))
		c.metrics.RecordCycle(method, 0, "", len(raw), 0, time.Since(start))
		// a late answer on this socket would be taken for the next response
		if httperrors.IsTransport(err, httperrors.ReadTimeout) {
			if rerr := c.reconnect(ctx, "read_timeout"); rerr != nil {
				return resp, rerr
			}
		}
		return resp, err
	}

	c.metrics.RecordCycle(method, resp.StatusCode, resp.Framing, len(raw), len(resp.Body), time.Since(start))
	logger.Debug("response read",
		zap.Int("status", resp.StatusCode),
		zap.Int("body_bytes", len(resp.Body)),
		zap.String("framing", resp.Framing))

	if resp.ConnectionClose() {
		logger.Info("server announced connection close, reconnecting")
		if err := c.reconnect(ctx, "connection_close"); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// send writes raw and, when the socket turns out to be unusable, reconnects
// and tries exactly once more.
func (c *HttpClient) send(ctx context.Context, logger *zap.Logger, raw []byte) error {
	err := c.conn.Send(raw)
	if err == nil {
		return nil
	}
	if !httperrors.IsTransport(err, httperrors.SendError) && !httperrors.IsTransport(err, httperrors.NotConnected) {
		return err
	}

	reason := "send_error"
	if c.conn.State() == transport.Disconnected {
		reason = "peer_closed"
	}
	logger.Info("send failed, reconnecting", zap.String("reason", reason), zap.Error(err))
	if rerr := c.reconnect(ctx, reason); rerr != nil {
		return rerr
	}
	return c.conn.Send(raw)
}

func (c *HttpClient) reconnect(ctx context.Context, reason string) error {
	next, outcome, err := c.conn.Reconnect(ctx)
	c.metrics.RecordTeardown(outcome.String())
	if err != nil {
		c.logger.Error("reconnect failed", zap.String("reason", reason), zap.Error(err))
		return err
	}

	c.conn = next
	c.reconnects++
	c.metrics.RecordReconnect(reason)
	return nil
}

// Get performs a GET request.
func (c *HttpClient) Get(ctx context.Context, path string) (*protocol.HttpResponse, error) {
	return c.Do(ctx, &protocol.HttpRequest{
		Method:    protocol.MethodGet,
		Path:      path,
		KeepAlive: !c.opts.DisableKeepAlive,
	})
}

// Post performs a POST request with v encoded as JSON.
func (c *HttpClient) Post(ctx context.Context, path string, v any) (*protocol.HttpResponse, error) {
	return c.doJSON(ctx, protocol.MethodPost, path, v)
}

// Patch performs a PATCH request with v encoded as JSON.
func (c *HttpClient) Patch(ctx context.Context, path string, v any) (*protocol.HttpResponse, error) {
	return c.doJSON(ctx, protocol.MethodPatch, path, v)
}

func (c *HttpClient) doJSON(ctx context.Context, method protocol.HttpMethod, path string, v any) (*protocol.HttpResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, httperrors.NewHttpError(httperrors.InvalidRequest, err)
	}
	return c.Do(ctx, &protocol.HttpRequest{
		Method:    method,
		Path:      path,
		Body:      body,
		KeepAlive: !c.opts.DisableKeepAlive,
	})
}

// Close closes the Connection gracefully. The client cannot be used
// afterwards. Closing twice is a no-op.
func (c *HttpClient) Close() transport.Outcome {
	if c.closed {
		return transport.Outcome{}
	}
	c.closed = true
	outcome := c.conn.Close()
	c.metrics.RecordTeardown(outcome.String())
	return outcome
}

func readErrorKind(err error) string {
	switch {
	case httperrors.IsTransport(err, httperrors.ReadTimeout):
		return "read_timeout"
	case httperrors.IsTransport(err, httperrors.ConnectionClosed):
		return "connection_closed"
	case httperrors.IsTransport(err, httperrors.NotConnected):
		return "not_connected"
	default:
		return "read_failure"
	}
}
