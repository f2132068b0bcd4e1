package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/dbpipe/internal/channel"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

func TestMetricsObserveTransfer(t *testing.T) {
	m := NewMetrics("run", 0)

	m.ObserveTransfer(pipeline.RoleProducer, channel.OpSend, 16)
	m.ObserveTransfer(pipeline.RoleProducer, channel.OpSend, 16)
	m.ObserveTransfer(pipeline.RoleConsumer, channel.OpReceive, 8)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Transfers.WithLabelValues("producer", "send")))
	assert.Equal(t, 32.0, testutil.ToFloat64(m.TransferBytes.WithLabelValues("producer", "send")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transfers.WithLabelValues("consumer", "receive")))

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.Sends)
	assert.Equal(t, int64(1), s.Receives)
	assert.Equal(t, int64(40), s.Bytes)
}

func TestMetricsObserveAwait(t *testing.T) {
	m := NewMetrics("run", 0)

	m.ObserveAwait(pipeline.RoleProducer, pipeline.AwaitGate, false, time.Millisecond)
	m.ObserveAwait(pipeline.RoleProducer, pipeline.AwaitGate, true, 3*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BlockedAwaits.WithLabelValues("producer", "gate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AwaitDuration))
	assert.Equal(t, int64(1), m.Snapshot().BlockedAwaits)
	assert.InDelta(t, 0.004, m.Snapshot().AwaitSeconds, 1e-9)
}

func TestMetricsState(t *testing.T) {
	m := NewMetrics("run", 1)

	m.ObserveState(pipeline.RoleConsumer, pipeline.StateWaiting, 4)
	m.SetInFlight(pipeline.RoleConsumer, 1)

	assert.Equal(t, float64(pipeline.StateWaiting), testutil.ToFloat64(m.State.WithLabelValues("consumer")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Iteration.WithLabelValues("consumer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight.WithLabelValues("consumer")))
}

func TestMetricsAreIsolated(t *testing.T) {
	a := NewMetrics("run", 0)
	b := NewMetrics("run", 1)

	a.ObserveTransfer(pipeline.RoleProducer, channel.OpSend, 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Transfers.WithLabelValues("producer", "send")))
}

func TestHandlerExposesConstLabels(t *testing.T) {
	m := NewMetrics("run-42", 3)
	m.ObserveTransfer(pipeline.RoleProducer, channel.OpSend, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "dbpipe_uptime_seconds")
	assert.True(t, strings.Contains(body, `rank="3"`) && strings.Contains(body, `run_id="run-42"`))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics("run", 0)

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/healthz", "/nowhere"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/healthz", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}
