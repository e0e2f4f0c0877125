package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.RecordCycle("GET", 200, "content_length", 80, 2, 10*time.Millisecond)
	rec.RecordCycle("GET", 200, "content_length", 80, 5, 10*time.Millisecond)
	rec.RecordCycle("POST", 201, "idle_timeout", 120, 0, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.requests.WithLabelValues("POST", "201")))
	assert.Equal(t, 280.0, testutil.ToFloat64(rec.bytesSent))
	assert.Equal(t, 7.0, testutil.ToFloat64(rec.bytesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.framings.WithLabelValues("content_length")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.framings.WithLabelValues("idle_timeout")))
}

func TestRecorder_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)

	rec.RecordReconnect("connection_close")
	rec.RecordReconnect("connection_close")
	rec.RecordReconnect("send_error")
	rec.RecordReadError("read_timeout")
	rec.RecordTeardown("partial")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.reconnects.WithLabelValues("connection_close")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.reconnects.WithLabelValues("send_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.readErrors.WithLabelValues("read_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.teardowns.WithLabelValues("partial")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.RecordCycle("GET", 200, "", 1, 1, time.Millisecond)
		rec.RecordReconnect("send_error")
		rec.RecordReadError("read_timeout")
		rec.RecordTeardown("succeeded")
	})
}

func TestWriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(reg)
	rec.RecordReconnect("connection_close")

	path := filepath.Join(t.TempDir(), "msgclient.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `msgclient_reconnects_total{reason="connection_close"} 1`)
}
