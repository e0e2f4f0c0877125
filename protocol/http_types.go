package protocol

import (
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
)

// HttpMethod represents HTTP request methods
type HttpMethod int

const (
	MethodGet HttpMethod = iota
	MethodPost
	MethodPatch
)

func (m HttpMethod) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPatch:
		return "PATCH"
	default:
		return "METHOD(" + strconv.Itoa(int(m)) + ")"
	}
}

// HttpHeader represents an HTTP header key-value pair
type HttpHeader struct {
	Key   string
	Value string
}

const (
	DefaultUserAgent = "tcp-client/1.0"
	ContentTypeJSON  = "application/json"
)

// HttpRequest represents an outgoing HTTP request.
// Content-Type and Content-Length are derived from Body when it is encoded;
// Headers holds any extra headers, written after Connection in order.
type HttpRequest struct {
	Method    HttpMethod
	Path      string
	Host      string
	UserAgent string
	Headers   []HttpHeader
	Body      []byte
	KeepAlive bool
}

// HttpResponse represents a parsed HTTP response.
// StatusCode 0 means no valid status line could be parsed; header keys are
// always lowercase.
type HttpResponse struct {
	StatusCode int
	StatusLine string
	Headers    map[string]string
	Body       []byte
	Framing    string
}

func emptyResponse() *HttpResponse {
	return &HttpResponse{Headers: make(map[string]string)}
}

// Header looks a header up case-insensitively.
func (r *HttpResponse) Header(name string) (string, bool) {
	v, ok := r.Headers[strings.ToLower(name)]
	return v, ok
}

// ConnectionClose reports whether the peer announced it will close the
// connection after this response.
func (r *HttpResponse) ConnectionClose() bool {
	v, _ := r.Header("connection")
	return strcomp.EqualFold(v, "close")
}

// Valid reports whether a status line was parsed.
func (r *HttpResponse) Valid() bool {
	return r.StatusCode != 0
}
