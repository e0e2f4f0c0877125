package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nczempin/rawhttp-msgclient/client"
	httperrors "github.com/nczempin/rawhttp-msgclient/errors"
	"github.com/nczempin/rawhttp-msgclient/protocol"
	"github.com/nczempin/rawhttp-msgclient/transport"
)

// setupMessageServer serves a tiny in-memory message store on every accepted
// connection. closeAfter makes every response announce "Connection: close".
func setupMessageServer(t *testing.T, closeAfter bool) (string, uint16, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Failed to create test server")
	addr := listener.Addr().(*net.TCPAddr)

	var mu sync.Mutex
	var stored []map[string]string

	respond := func(req *http.Request, body []byte) (int, string) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/messages":
			parts := make([]string, 0, len(stored))
			for _, m := range stored {
				parts = append(parts, fmt.Sprintf(`{"id":%q,"client_ip":%q,"message":%q}`, m["id"], m["client_ip"], m["message"]))
			}
			return 200, "[" + strings.Join(parts, ",") + "]"
		case req.Method == http.MethodPost && req.URL.Path == "/messages":
			var m client.NewMessage
			if err := json.Unmarshal(body, &m); err != nil {
				return 400, err.Error()
			}
			stored = append(stored, map[string]string{"id": uuid.NewString(), "client_ip": m.ClientIP, "message": m.Message})
			return 201, ""
		case req.Method == http.MethodPatch && req.URL.Path == "/messages/message":
			return 200, `{"id":"6f1f0a52-7c1e-4e43-9d0e-4b8f4f6b5a10","client_ip":"10.0.0.2","message":"edited"}`
		}
		return 404, "not found"
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				br := bufio.NewReader(conn)
				for {
					req, err := http.ReadRequest(br)
					if err != nil {
						return
					}
					body, _ := io.ReadAll(req.Body)
					status, payload := respond(req, body)
					connection := "keep-alive"
					if closeAfter {
						connection = "close"
					}
					fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\nConnection: %s\r\n\r\n%s",
						status, http.StatusText(status), len(payload), connection, payload)
					if closeAfter {
						return
					}
				}
			}()
		}
	}()

	cleanup := func() {
		listener.Close()
		wg.Wait()
	}
	return addr.IP.String(), uint16(addr.Port), cleanup
}

func dialSession(t *testing.T, host string, port uint16) *client.HttpClient {
	t.Helper()
	reader := protocol.NewReader()
	reader.Timeout = 500 * time.Millisecond
	c, err := client.Dial(context.Background(), transport.TCP(host, port), client.Options{
		Transport: transport.Options{DrainTimeout: 50 * time.Millisecond},
		Reader:    reader,
	})
	require.NoError(t, err)
	return c
}

func runSession(t *testing.T, c *client.HttpClient, input string) string {
	t.Helper()
	var out bytes.Buffer
	d := NewDriver(c, strings.NewReader(input), &out, nil)
	require.NoError(t, d.Run(context.Background()))
	return out.String()
}

func TestDriver_ListEmpty(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "2\n3\n")

	assert.Contains(t, out, "Connected to tcp://")
	assert.Contains(t, out, "No messages found.")
	assert.Contains(t, out, "Connection closed. Exiting.")
	assert.Equal(t, transport.Closed, c.Connection().State())
}

func TestDriver_PostThenList(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "1\nhello there\n2\n3\n")

	assert.Contains(t, out, "--- HTTP response: 201 ---")
	assert.Contains(t, out, "===== Messages =====")
	assert.Contains(t, out, "   Client IP: 127.0.0.1")
	assert.Contains(t, out, `   Message: "hello there"`)
}

func TestDriver_UpdateMessage(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "4\n6f1f0a52-7c1e-4e43-9d0e-4b8f4f6b5a10\nedited\n3\n")
	assert.Contains(t, out, "[success] Message updated:")
	assert.Contains(t, out, `Message: "edited"`)
}

func TestDriver_UpdateMessage_EmptyAndInvalidID(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "4\n\n4\nnot-a-uuid\nedited\n3\n")
	assert.Contains(t, out, "Empty ID, operation cancelled.")
	assert.Contains(t, out, "[error]")
	assert.Contains(t, out, "Connection closed. Exiting.")
}

func TestDriver_InvalidOption(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "9\nx\n3\n")
	assert.Equal(t, 2, strings.Count(out, "Invalid option. Try 1, 2, 3 or 4."))
}

func TestDriver_ConnectionCloseNotice(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, true)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "2\n2\n3\n")
	assert.Equal(t, 2, strings.Count(out, "Server sent Connection: close, reconnecting automatically."))
	assert.Equal(t, 2, c.Reconnects())
}

// lastWordDialer serves one "Connection: close" response on the first dial
// and refuses every later dial.
type lastWordDialer struct {
	dials atomic.Int32
}

func (d *lastWordDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.dials.Add(1) > 1 {
		return nil, errors.New("connection refused")
	}
	clientSide, serverSide := net.Pipe()
	go func() {
		defer serverSide.Close()
		if _, err := http.ReadRequest(bufio.NewReader(serverSide)); err != nil {
			return
		}
		io.WriteString(serverSide, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\n[]")
	}()
	return clientSide, nil
}

func TestDriver_ConnectionCloseReconnectFails(t *testing.T) {
	dialer := &lastWordDialer{}
	c, err := client.Dial(context.Background(), transport.TCP("10.0.0.1", 8080), client.Options{
		Transport: transport.Options{Dialer: dialer, DrainTimeout: 50 * time.Millisecond},
	})
	require.NoError(t, err)
	defer c.Close()

	var out bytes.Buffer
	err = NewDriver(c, strings.NewReader("2\n3\n"), &out, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, httperrors.IsTransport(err, httperrors.ConnectError), "got %v", err)

	assert.NotContains(t, out.String(), "reconnecting automatically")
	assert.Contains(t, out.String(), "[error] Server sent Connection: close and reconnecting failed.")
	assert.Equal(t, int32(2), dialer.dials.Load())
}

func TestDriver_EndOfInputQuits(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)

	out := runSession(t, c, "")
	assert.Contains(t, out, "Connection closed. Exiting.")
	assert.Equal(t, transport.Closed, c.Connection().State())
}

func TestDriver_ContextCanceled(t *testing.T) {
	host, port, cleanup := setupMessageServer(t, false)
	defer cleanup()
	c := dialSession(t, host, port)
	defer c.Close()

	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewDriver(c, pr, io.Discard, nil).Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, transport.Connected, c.Connection().State(), "closing is left to the caller")
}
