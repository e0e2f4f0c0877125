package protocol

import (
	"fmt"
	"strconv"
	"strings"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

// BuildGet frames a GET request.
func BuildGet(host, path string, keepAlive bool) []byte {
	return (&HttpRequest{Method: MethodGet, Host: host, Path: path, KeepAlive: keepAlive}).Encode()
}

// BuildPost frames a POST request carrying jsonBody.
func BuildPost(host, path string, jsonBody []byte, keepAlive bool) []byte {
	return (&HttpRequest{Method: MethodPost, Host: host, Path: path, Body: jsonBody, KeepAlive: keepAlive}).Encode()
}

// BuildPatch frames a PATCH request carrying jsonBody.
func BuildPatch(host, path string, jsonBody []byte, keepAlive bool) []byte {
	return (&HttpRequest{Method: MethodPatch, Host: host, Path: path, Body: jsonBody, KeepAlive: keepAlive}).Encode()
}

// Encode formats the request into wire bytes. Header order is fixed:
// Host, User-Agent, Content-Type and Content-Length (only with a body),
// Connection, then the extra headers.
func (r *HttpRequest) Encode() []byte {
	return r.AppendTo(make([]byte, 0, 256+len(r.Body)))
}

// AppendTo appends the encoded request to dst.
func (r *HttpRequest) AppendTo(dst []byte) []byte {
	userAgent := r.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	// Request line
	dst = append(dst, r.Method.String()...)
	dst = append(dst, ' ')
	dst = append(dst, r.Path...)
	dst = append(dst, " HTTP/1.1\r\n"...)

	dst = appendHeader(dst, "Host", r.Host)
	dst = appendHeader(dst, "User-Agent", userAgent)
	if len(r.Body) > 0 {
		dst = appendHeader(dst, "Content-Type", ContentTypeJSON)
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(len(r.Body)), 10)
		dst = append(dst, "\r\n"...)
	}
	if r.KeepAlive {
		dst = appendHeader(dst, "Connection", "keep-alive")
	} else {
		dst = appendHeader(dst, "Connection", "close")
	}
	for _, header := range r.Headers {
		dst = appendHeader(dst, header.Key, header.Value)
	}

	// Blank line
	dst = append(dst, "\r\n"...)

	return append(dst, r.Body...)
}

func appendHeader(dst []byte, key, value string) []byte {
	dst = append(dst, key...)
	dst = append(dst, ": "...)
	dst = append(dst, value...)
	return append(dst, "\r\n"...)
}

// reservedHeaders are written by Encode itself.
var reservedHeaders = map[string]struct{}{
	"host":           {},
	"user-agent":     {},
	"content-type":   {},
	"content-length": {},
	"connection":     {},
}

// Validate checks that the request can be framed unambiguously.
func (r *HttpRequest) Validate() error {
	switch r.Method {
	case MethodGet:
		if len(r.Body) > 0 {
			return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("GET request cannot have a body"))
		}
	case MethodPost, MethodPatch:
	default:
		return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("unsupported method %s", r.Method))
	}

	if !strings.HasPrefix(r.Path, "/") || strings.ContainsAny(r.Path, " \r\n") {
		return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("invalid path %q", r.Path))
	}
	if r.Host == "" || strings.ContainsAny(r.Host, "\r\n") {
		return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("invalid host %q", r.Host))
	}
	if strings.ContainsAny(r.UserAgent, "\r\n") {
		return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("invalid user agent %q", r.UserAgent))
	}

	for _, header := range r.Headers {
		if header.Key == "" || strings.ContainsAny(header.Key, ": \t\r\n") || strings.ContainsAny(header.Value, "\r\n") {
			return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("invalid header %q", header.Key))
		}
		if _, ok := reservedHeaders[strings.ToLower(header.Key)]; ok {
			return httperrors.NewHttpError(httperrors.InvalidRequest, fmt.Errorf("header %s is set by the framing", header.Key))
		}
	}

	return nil
}
