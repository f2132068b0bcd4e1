package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

// Metrics holds all Prometheus metrics of one participant
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	Transfers     *prometheus.CounterVec
	TransferBytes *prometheus.CounterVec
	AwaitDuration *prometheus.HistogramVec
	BlockedAwaits *prometheus.CounterVec
	InFlight      *prometheus.GaugeVec
	Iteration     *prometheus.GaugeVec
	State         *prometheus.GaugeVec

	// Status server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	Sends         int64   `json:"sends"`
	Receives      int64   `json:"receives"`
	Bytes         int64   `json:"bytes"`
	BlockedAwaits int64   `json:"blocked_awaits"`
	AwaitSeconds  float64 `json:"await_seconds"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

var _ pipeline.Observer = (*Metrics)(nil)

// NewMetrics creates a metrics collector on its own registry. Every series
// carries the run ID and rank as constant labels.
func NewMetrics(runID string, rank int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{
		"run_id": runID,
		"rank":   strconv.Itoa(rank),
	}, reg))

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Pipeline metrics
		Transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpipe_transfers_total",
				Help: "Total number of transfers issued",
			},
			[]string{"role", "op"},
		),
		TransferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpipe_transfer_bytes_total",
				Help: "Total payload bytes sent or received",
			},
			[]string{"role", "op"},
		),
		AwaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbpipe_await_duration_seconds",
				Help:    "Time spent awaiting outstanding transfers",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"role", "kind"},
		),
		BlockedAwaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpipe_blocked_awaits_total",
				Help: "Awaits that found a transfer still outstanding",
			},
			[]string{"role", "kind"},
		),
		InFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbpipe_inflight_transfers",
				Help: "Transfers issued and not yet awaited",
			},
			[]string{"role"},
		),
		Iteration: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbpipe_iteration",
				Help: "Iteration the driver is working on",
			},
			[]string{"role"},
		),
		State: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbpipe_driver_state",
				Help: "Current driver state as its numeric value",
			},
			[]string{"role"},
		),

		// Status server metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbpipe_http_requests_total",
				Help: "Total number of status server requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbpipe_http_request_duration_seconds",
				Help:    "Status server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dbpipe_uptime_seconds",
			Help: "Participant uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveState records the driver's state and iteration
func (m *Metrics) ObserveState(role pipeline.Role, state pipeline.State, iteration int) {
	m.State.WithLabelValues(role.String()).Set(float64(state))
	m.Iteration.WithLabelValues(role.String()).Set(float64(iteration))
}

// ObserveTransfer records an issued send or a completed receive
func (m *Metrics) ObserveTransfer(role pipeline.Role, op channel.Op, bytes int) {
	m.Transfers.WithLabelValues(role.String(), op.String()).Inc()
	m.TransferBytes.WithLabelValues(role.String(), op.String()).Add(float64(bytes))

	m.mu.Lock()
	if op == channel.OpSend {
		m.snapshot.Sends++
	} else {
		m.snapshot.Receives++
	}
	m.snapshot.Bytes += int64(bytes)
	m.mu.Unlock()
}

// ObserveAwait records one gate, receive wait or drain
func (m *Metrics) ObserveAwait(role pipeline.Role, kind pipeline.AwaitKind, pending bool, d time.Duration) {
	m.AwaitDuration.WithLabelValues(role.String(), string(kind)).Observe(d.Seconds())
	if pending {
		m.BlockedAwaits.WithLabelValues(role.String(), string(kind)).Inc()
	}

	m.mu.Lock()
	m.snapshot.AwaitSeconds += d.Seconds()
	if pending {
		m.snapshot.BlockedAwaits++
	}
	m.mu.Unlock()
}

// SetInFlight sets the number of outstanding transfers
func (m *Metrics) SetInFlight(role pipeline.Role, n int) {
	m.InFlight.WithLabelValues(role.String()).Set(float64(n))
}

// RecordHTTPRequest records a status server request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns the current totals
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
