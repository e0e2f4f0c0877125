package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

var headerSeparator = []byte("\r\n\r\n")

const (
	DefaultReadTimeout = 2 * time.Second
	DefaultIdleGrace   = 50 * time.Millisecond
	DefaultIdlePoll    = 200 * time.Millisecond
	DefaultBufferSize  = 4096
)

// Source is the socket a Reader consumes for the duration of one call.
type Source interface {
	Read(p []byte) (int, error)
	SetReadDeadline(t time.Time) error
}

// Reader reassembles one HTTP/1.1 response from arbitrary-sized reads.
type Reader struct {
	// Timeout bounds the header phase as a whole and each Content-Length
	// body read individually.
	Timeout time.Duration
	// Idle is used for bodies without Content-Length.
	Idle       IdleTimeoutFraming
	BufferSize int
	Logger     *zap.Logger
}

// NewReader returns a Reader with the default timeouts.
func NewReader() *Reader {
	return &Reader{
		Timeout:    DefaultReadTimeout,
		Idle:       IdleTimeoutFraming{Grace: DefaultIdleGrace, Poll: DefaultIdlePoll},
		BufferSize: DefaultBufferSize,
	}
}

// ReadResponse reads one response from src with the default framing settings
// and the given header timeout.
func ReadResponse(src Source, timeout time.Duration) (*HttpResponse, error) {
	r := NewReader()
	r.Timeout = timeout
	return r.Read(src)
}

// Read reads one response. ReadTimeout and ConnectionClosed come back together
// with an empty status 0 response; an unparsable status line is not an error
// and yields status 0 with whatever headers and body were found.
func (r *Reader) Read(src Source) (*HttpResponse, error) {
	defer src.SetReadDeadline(time.Time{})

	buf := make([]byte, r.bufferSize())
	data, closed, err := r.readHead(src, buf)
	if err != nil {
		return emptyResponse(), err
	}

	head, body, _ := bytes.Cut(data, headerSeparator)
	resp := r.parseHead(head)
	if closed {
		resp.Body = body
		return resp, nil
	}

	framing := SelectFraming(resp.Headers, r.idle())
	resp.Framing = framing.Name()
	resp.Body = framing.ReadBody(src, body, buf, r.timeout())
	return resp, nil
}

// readHead accumulates bytes until the header delimiter shows up. closed is
// set when the peer ended the stream after sending something.
func (r *Reader) readHead(src Source, buf []byte) (data []byte, closed bool, err error) {
	if err := src.SetReadDeadline(time.Now().Add(r.timeout())); err != nil {
		return nil, false, httperrors.NewTransportError(httperrors.ReadFailure, err)
	}

	scanned := 0
	for {
		n, err := src.Read(buf)
		data = append(data, buf[:n]...)

		// only look at bytes that could complete a delimiter
		if bytes.Contains(data[scanned:], headerSeparator) {
			return data, false, nil
		}
		if len(data) > len(headerSeparator) {
			scanned = len(data) - len(headerSeparator) + 1
		}

		if err != nil {
			switch {
			case isClosed(err):
				if len(data) == 0 {
					return nil, false, asTransportError(httperrors.ConnectionClosed, err)
				}
				return data, true, nil
			case isTimeout(err):
				return nil, false, asTransportError(httperrors.ReadTimeout, err)
			default:
				return nil, false, asTransportError(httperrors.ReadFailure, err)
			}
		}
	}
}

func (r *Reader) parseHead(head []byte) *HttpResponse {
	lines := strings.Split(string(head), "\r\n")

	resp := emptyResponse()
	resp.StatusLine = lines[0]

	code, err := ParseStatusLine(lines[0])
	if err != nil {
		r.logger().Debug("unparsable status line", zap.String("line", lines[0]), zap.Error(err))
	}
	resp.StatusCode = code

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// later duplicates win
		resp.Headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	return resp
}

// ParseStatusLine extracts the status code from a line like "HTTP/1.1 200 OK".
// The code must be the second space-separated token and all digits; anything
// else is a MalformedStatusLine and yields 0.
func ParseStatusLine(line string) (int, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !isDigits(parts[1]) {
		return 0, httperrors.NewHttpError(httperrors.MalformedStatusLine, fmt.Errorf("invalid status line %q", line))
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, httperrors.NewHttpError(httperrors.MalformedStatusLine, err)
	}
	return code, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || httperrors.IsTransport(err, httperrors.ConnectionClosed)
}

func isTimeout(err error) bool {
	if httperrors.IsTransport(err, httperrors.ReadTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// asTransportError keeps errors that already carry kind and wraps the rest.
func asTransportError(kind httperrors.TransportError, err error) error {
	if httperrors.IsTransport(err, kind) {
		return err
	}
	return httperrors.NewTransportError(kind, err)
}

func (r *Reader) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultReadTimeout
	}
	return r.Timeout
}

func (r *Reader) idle() IdleTimeoutFraming {
	idle := r.Idle
	if idle.Poll <= 0 {
		idle.Poll = DefaultIdlePoll
	}
	if idle.Grace < 0 {
		idle.Grace = 0
	}
	return idle
}

func (r *Reader) bufferSize() int {
	if r.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return r.BufferSize
}

func (r *Reader) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
