package protocol

import (
	"strconv"
	"time"
)

// BodyFraming decides when a response body is complete.
type BodyFraming interface {
	Name() string
	// ReadBody keeps reading from src into body until the body is complete
	// by the policy's rules. buf is scratch space for individual reads.
	ReadBody(src Source, body, buf []byte, timeout time.Duration) []byte
}

// ContentLengthFraming completes the body once Length bytes arrived.
// A negative Length stands for a header that could not be used; no further
// bytes are read in that case.
type ContentLengthFraming struct {
	Length int
}

func (f ContentLengthFraming) Name() string { return "content_length" }

// ReadBody reads until Length bytes are buffered or the source yields nothing
// more. A short body is returned as-is.
func (f ContentLengthFraming) ReadBody(src Source, body, buf []byte, timeout time.Duration) []byte {
	for len(body) < f.Length {
		if err := src.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			break
		}
		n, err := src.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil || n == 0 {
			break
		}
	}

	if f.Length >= 0 && len(body) > f.Length {
		body = body[:f.Length]
	}
	return body
}

// IdleTimeoutFraming infers the end of a body without Content-Length from a
// quiet socket: after Grace it polls with Poll-bounded reads until one yields
// nothing.
//
// This is a heuristic. A server that pauses longer than Poll in the middle
// of a body is indistinguishable from one that has finished, and the rest of
// that body will be read as the start of the next response.
type IdleTimeoutFraming struct {
	Grace time.Duration
	Poll  time.Duration
}

func (f IdleTimeoutFraming) Name() string { return "idle_timeout" }

func (f IdleTimeoutFraming) ReadBody(src Source, body, buf []byte, _ time.Duration) []byte {
	if f.Grace > 0 {
		time.Sleep(f.Grace)
	}

	for {
		if err := src.SetReadDeadline(time.Now().Add(f.Poll)); err != nil {
			return body
		}
		n, err := src.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil || n == 0 {
			return body
		}
	}
}

// SelectFraming picks Content-Length framing when the header is present and
// idle-timeout framing otherwise. An unparsable Content-Length keeps the bytes
// already read and stops there.
func SelectFraming(headers map[string]string, idle IdleTimeoutFraming) BodyFraming {
	v, ok := headers["content-length"]
	if !ok {
		return idle
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return ContentLengthFraming{Length: -1}
	}
	return ContentLengthFraming{Length: n}
}
