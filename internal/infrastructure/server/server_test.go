package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/api/middleware"
	"github.com/GriffinCanCode/dbpipe/internal/channel"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

type fixedSource pipeline.Snapshot

func (f fixedSource) Snapshot() pipeline.Snapshot { return pipeline.Snapshot(f) }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := NewServer(Config{}, nil, zap.NewNop())

	rec := get(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	// Without metrics there is no /metrics route.
	assert.Equal(t, http.StatusNotFound, get(t, s, "/metrics").Code)
}

func TestStatus(t *testing.T) {
	metrics := monitoring.NewMetrics("run-1", 1)
	metrics.ObserveTransfer(pipeline.RoleConsumer, channel.OpReceive, 16)

	s := NewServer(Config{RunID: "run-1", Rank: 1}, metrics, zap.NewNop())

	tests := []struct {
		name   string
		source Source
		want   map[string]any
	}{
		{
			name: "no driver attached",
			want: map[string]any{"role": "idle", "state": "idle", "iteration": 0.0, "outstanding": 0.0},
		},
		{
			name:   "consumer waiting",
			source: fixedSource{Role: pipeline.RoleConsumer, State: pipeline.StateWaiting, Iteration: 3, Outstanding: 1},
			want:   map[string]any{"role": "consumer", "state": "waiting", "iteration": 3.0, "outstanding": 1.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.Attach(tt.source)

			rec := get(t, s, "/status")
			require.Equal(t, http.StatusOK, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "run-1", body["run_id"])
			assert.Equal(t, 1.0, body["rank"])
			for k, v := range tt.want {
				assert.Equal(t, v, body[k], k)
			}
			m, ok := body["metrics"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, 1.0, m["receives"])
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := monitoring.NewMetrics("run-1", 0)
	s := NewServer(Config{}, metrics, zap.NewNop())

	get(t, s, "/healthz")
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `dbpipe_http_requests_total`)
}

func TestStatusRateLimitAndCORS(t *testing.T) {
	s := NewServer(Config{
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 2},
		CORS:      middleware.CORSConfig{AllowOrigins: []string{"http://dash.local"}},
	}, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "http://dash.local")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, http.StatusOK, get(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s, "/healthz").Code)
}

func TestStatusGlobalRateLimit(t *testing.T) {
	s := NewServer(Config{
		GlobalRateLimit: middleware.RateLimitConfig{RequestsPerSecond: 1, Burst: 2},
	}, nil, zap.NewNop())

	for i, remote := range []string{"10.0.0.1:1000", "10.0.0.2:1000", "10.0.0.3:1000"} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)

		want := http.StatusOK
		if i == 2 {
			want = http.StatusTooManyRequests
		}
		assert.Equal(t, want, rec.Code, remote)
	}
}

func TestStartAndShutdown(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, nil, zap.NewNop())
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestShutdownWithoutStart(t *testing.T) {
	s := NewServer(Config{}, nil, zap.NewNop())
	assert.NoError(t, s.Shutdown(context.Background()))
}
