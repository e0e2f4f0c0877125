package errors

import (
	stderrors "errors"
	"fmt"
)

// TransportError represents errors that occur at the connection layer
type TransportError int

const (
	ConnectError TransportError = iota
	SendError
	ReadTimeout
	ConnectionClosed
	ReadFailure
	NotConnected
	CloseFailure
)

func (e TransportError) Error() string {
	switch e {
	case ConnectError:
		return "Connect failed"
	case SendError:
		return "Send failed"
	case ReadTimeout:
		return "Read timed out"
	case ConnectionClosed:
		return "Connection closed"
	case ReadFailure:
		return "Socket read failed"
	case NotConnected:
		return "Connection not in connected state"
	case CloseFailure:
		return "Socket close failed"
	default:
		return fmt.Sprintf("Unknown transport error: %d", e)
	}
}

// HttpClientError represents errors that occur at the HTTP framing layer
type HttpClientError int

const (
	MalformedStatusLine HttpClientError = iota
	InvalidRequest
)

func (e HttpClientError) Error() string {
	switch e {
	case MalformedStatusLine:
		return "Malformed status line"
	case InvalidRequest:
		return "Invalid HTTP request"
	default:
		return fmt.Sprintf("Unknown HTTP client error: %d", e)
	}
}

// Error is the top-level error type that wraps transport and HTTP errors
type Error struct {
	TransportErr *TransportError
	HttpErr      *HttpClientError
	underlying   error
}

func (e *Error) Error() string {
	if e.TransportErr != nil {
		if e.underlying != nil {
			return fmt.Sprintf("Transport Error: %s (underlying: %v)", e.TransportErr.Error(), e.underlying)
		}
		return fmt.Sprintf("Transport Error: %s", e.TransportErr.Error())
	}
	if e.HttpErr != nil {
		if e.underlying != nil {
			return fmt.Sprintf("HTTP Client Error: %s (underlying: %v)", e.HttpErr.Error(), e.underlying)
		}
		return fmt.Sprintf("HTTP Client Error: %s", e.HttpErr.Error())
	}
	if e.underlying != nil {
		return e.underlying.Error()
	}
	return "Unknown error"
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// NonFatal reports whether the caller can keep using the session after this
// error. Read timeouts, peer closes and unparsable status lines all surface
// as a status 0 response instead of ending the session.
func (e *Error) NonFatal() bool {
	if e.TransportErr != nil {
		switch *e.TransportErr {
		case ReadTimeout, ConnectionClosed:
			return true
		}
		return false
	}
	return e.HttpErr != nil && *e.HttpErr == MalformedStatusLine
}

// NewTransportError creates a new Error with a TransportError
func NewTransportError(te TransportError, underlying error) *Error {
	return &Error{
		TransportErr: &te,
		underlying:   underlying,
	}
}

// NewHttpError creates a new Error with an HttpClientError
func NewHttpError(he HttpClientError, underlying error) *Error {
	return &Error{
		HttpErr:    &he,
		underlying: underlying,
	}
}

// IsTransport reports whether err carries the given transport error kind
// anywhere in its chain.
func IsTransport(err error, kind TransportError) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.TransportErr != nil && *e.TransportErr == kind
}

// IsHttp reports whether err carries the given HTTP client error kind
// anywhere in its chain.
func IsHttp(err error, kind HttpClientError) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.HttpErr != nil && *e.HttpErr == kind
}

// IsNonFatal reports whether err is a non-fatal *Error.
func IsNonFatal(err error) bool {
	var e *Error
	return stderrors.As(err, &e) && e.NonFatal()
}
