package protocol

import (
	"bytes"
	"regexp"
	"strconv"
	"testing"

	"github.com/dchest/uniuri"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
)

var contentLengthRe = regexp.MustCompile(`\r\nContent-Length: (\d+)\r\n`)

func declaredLength(t *testing.T, raw []byte) int {
	t.Helper()

	m := contentLengthRe.FindSubmatch(raw)
	require.NotNil(t, m, "no Content-Length in %q", raw)
	n, err := strconv.Atoi(string(m[1]))
	require.NoError(t, err)
	return n
}

func TestBuildGet(t *testing.T) {
	got := BuildGet("10.0.0.1:8080", "/messages", true)

	want := "GET /messages HTTP/1.1\r\n" +
		"Host: 10.0.0.1:8080\r\n" +
		"User-Agent: tcp-client/1.0\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n"
	assert.Equal(t, want, string(got))
}

func TestBuildGet_Close(t *testing.T) {
	got := BuildGet("h", "/", false)
	assert.Contains(t, string(got), "\r\nConnection: close\r\n\r\n")
	assert.NotContains(t, string(got), "Content-Length")
	assert.NotContains(t, string(got), "Content-Type")
}

func TestBuildPost(t *testing.T) {
	body := []byte(`{"client_ip":"10.0.0.2","message":"hi"}`)
	got := BuildPost("10.0.0.1:8080", "/messages", body, true)

	want := "POST /messages HTTP/1.1\r\n" +
		"Host: 10.0.0.1:8080\r\n" +
		"User-Agent: tcp-client/1.0\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 39\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n" +
		`{"client_ip":"10.0.0.2","message":"hi"}`
	assert.Equal(t, want, string(got))
}

func TestBuildPatch(t *testing.T) {
	body := []byte(`{"messageId":"3f2b","updatedMessage":"olá 🌍"}`)
	got := BuildPatch("h:1", "/messages/message", body, false)

	assert.True(t, bytes.HasPrefix(got, []byte("PATCH /messages/message HTTP/1.1\r\n")))
	assert.Equal(t, 49, declaredLength(t, got), "length counts UTF-8 bytes, not runes")
	assert.True(t, bytes.HasSuffix(got, append([]byte("Connection: close\r\n\r\n"), body...)))
}

func TestBuild_ContentLengthMatchesBody(t *testing.T) {
	bodies := [][]byte{
		[]byte(`{}`),
		[]byte(`{"message":"ção ✓ 世界"}`),
		[]byte(`{"message":"` + uniuri.NewLen(1000) + `"}`),
	}
	for i := 0; i < 20; i++ {
		bodies = append(bodies, []byte(`{"message":"`+uniuri.NewLen(i*37+1)+`"}`))
	}

	for _, body := range bodies {
		for _, raw := range [][]byte{
			BuildPost("h", "/messages", body, true),
			BuildPatch("h", "/messages/message", body, true),
		} {
			assert.Equal(t, len(body), declaredLength(t, raw))

			_, payload, found := bytes.Cut(raw, headerSeparator)
			require.True(t, found)
			assert.Equal(t, body, payload)
		}
	}
}

func TestBuildPost_EmptyBody(t *testing.T) {
	got := string(BuildPost("h", "/messages", nil, true))
	assert.NotContains(t, got, "Content-Length")
	assert.NotContains(t, got, "Content-Type")
	assert.True(t, bytes.HasSuffix([]byte(got), []byte("Connection: keep-alive\r\n\r\n")))
}

func TestHttpRequest_Encode_HeaderOrder(t *testing.T) {
	req := &HttpRequest{
		Method:    MethodPost,
		Path:      "/messages",
		Host:      "example:80",
		UserAgent: "msgclient/test",
		Headers:   []HttpHeader{{Key: "Accept", Value: "application/json"}, {Key: "X-Trace", Value: "1"}},
		Body:      []byte(`{"a":1}`),
		KeepAlive: true,
	}

	want := "POST /messages HTTP/1.1\r\n" +
		"Host: example:80\r\n" +
		"User-Agent: msgclient/test\r\n" +
		"Content-Type: application/json\r\n" +
		"Content-Length: 7\r\n" +
		"Connection: keep-alive\r\n" +
		"Accept: application/json\r\n" +
		"X-Trace: 1\r\n" +
		"\r\n" +
		`{"a":1}`
	assert.Equal(t, want, string(req.Encode()))
	assert.Equal(t, req.Encode(), req.Encode(), "encoding is deterministic")
}

func TestHttpRequest_Validate(t *testing.T) {
	valid := func() *HttpRequest {
		return &HttpRequest{Method: MethodPost, Path: "/messages", Host: "h:1", Body: []byte(`{}`)}
	}

	tests := []struct {
		name   string
		mutate func(r *HttpRequest)
		ok     bool
	}{
		{"valid post", func(r *HttpRequest) {}, true},
		{"valid get", func(r *HttpRequest) { r.Method = MethodGet; r.Body = nil }, true},
		{"get with body", func(r *HttpRequest) { r.Method = MethodGet }, false},
		{"unknown method", func(r *HttpRequest) { r.Method = HttpMethod(7) }, false},
		{"relative path", func(r *HttpRequest) { r.Path = "messages" }, false},
		{"path with space", func(r *HttpRequest) { r.Path = "/a b" }, false},
		{"empty host", func(r *HttpRequest) { r.Host = "" }, false},
		{"header injection", func(r *HttpRequest) { r.Headers = []HttpHeader{{Key: "X", Value: "a\r\nEvil: 1"}} }, false},
		{"reserved header", func(r *HttpRequest) { r.Headers = []HttpHeader{{Key: "content-length", Value: "1"}} }, false},
		{"bad user agent", func(r *HttpRequest) { r.UserAgent = "a\nb" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := req.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, httperrors.IsHttp(err, httperrors.InvalidRequest))
		})
	}
}

func TestHttpMethod_String(t *testing.T) {
	assert.Equal(t, "GET", MethodGet.String())
	assert.Equal(t, "POST", MethodPost.String())
	assert.Equal(t, "PATCH", MethodPatch.String())
	assert.Equal(t, "METHOD(5)", HttpMethod(5).String())
}
