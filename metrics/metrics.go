// Package metrics provides Prometheus collectors for the request/response
// cycle of the message client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors. A nil *Recorder records nothing.
type Recorder struct {
	requests      *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	readErrors    *prometheus.CounterVec
	framings      *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	teardowns     *prometheus.CounterVec
}

// NewRecorder registers the collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgclient_requests_total",
			Help: "Total number of completed request/response cycles",
		}, []string{"method", "code"}),

		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgclient_reconnects_total",
			Help: "Total number of reconnects",
		}, []string{"reason"}), // reason: connection_close, read_timeout, peer_closed, send_error

		readErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgclient_read_errors_total",
			Help: "Total number of responses that could not be read",
		}, []string{"kind"}),

		framings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgclient_body_framing_total",
			Help: "Responses by the strategy used to delimit the body",
		}, []string{"strategy"}), // strategy: content_length, idle_timeout

		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msgclient_cycle_duration_seconds",
			Help:    "Duration from send to fully read response",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),

		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "msgclient_sent_bytes_total",
			Help: "Request bytes written to the socket",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "msgclient_received_body_bytes_total",
			Help: "Response body bytes read from the socket",
		}),

		teardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgclient_teardowns_total",
			Help: "Socket teardowns by outcome",
		}, []string{"outcome"}), // outcome: succeeded, partial
	}
}

// RecordCycle records one finished request/response cycle. code 0 stands for
// an unparsable or missing response.
func (r *Recorder) RecordCycle(method string, code int, framing string, sent, received int, d time.Duration) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	r.cycleDuration.WithLabelValues(method).Observe(d.Seconds())
	r.bytesSent.Add(float64(sent))
	r.bytesReceived.Add(float64(received))
	if framing != "" {
		r.framings.WithLabelValues(framing).Inc()
	}
}

// RecordReadError records a response that could not be read.
func (r *Recorder) RecordReadError(kind string) {
	if r == nil {
		return
	}
	r.readErrors.WithLabelValues(kind).Inc()
}

// RecordReconnect records a reconnect and why it happened.
func (r *Recorder) RecordReconnect(reason string) {
	if r == nil {
		return
	}
	r.reconnects.WithLabelValues(reason).Inc()
}

// RecordTeardown records the outcome of closing a socket.
func (r *Recorder) RecordTeardown(outcome string) {
	if r == nil {
		return
	}
	r.teardowns.WithLabelValues(outcome).Inc()
}

// WriteTextfile writes everything gathered by g to path in the text
// exposition format, for a node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
