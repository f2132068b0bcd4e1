package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(handlers...)
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"state": "idle"})
	})
	return router
}

func serve(router *gin.Engine, method, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/status", nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
		if method == http.MethodOptions {
			req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		}
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	router := setupTestRouter(CORS(DefaultCORSConfig()))

	tests := []struct {
		name       string
		method     string
		origin     string
		wantStatus int
		wantHeader bool
	}{
		{"simple GET with origin", http.MethodGet, "http://localhost:3000", http.StatusOK, true},
		{"preflight", http.MethodOptions, "http://localhost:3000", http.StatusNoContent, true},
		{"no origin header", http.MethodGet, "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(router, tt.method, "", tt.origin)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
			assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

func TestCORSRestrictedOrigin(t *testing.T) {
	router := setupTestRouter(CORS(CORSConfig{
		AllowOrigins: []string{"https://dash.example.com"},
		MaxAge:       time.Minute,
	}))

	w := serve(router, http.MethodGet, "", "https://dash.example.com")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://dash.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(router, http.MethodGet, "", "https://elsewhere.example.com")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))

	for i := 0; i < 2; i++ {
		w := serve(router, http.MethodGet, "192.168.1.1:1234", "")
		assert.Equal(t, http.StatusOK, w.Code, "request %d should succeed", i+1)
	}

	w := serve(router, http.MethodGet, "192.168.1.1:1234", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
}

func TestRateLimitDifferentClients(t *testing.T) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 1}))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "192.168.1.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "192.168.1.2:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "192.168.1.1:1234", "").Code)
}

func TestGlobalRateLimit(t *testing.T) {
	router := setupTestRouter(GlobalRateLimit(RateLimitConfig{RequestsPerSecond: 2, Burst: 2}))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "192.168.1.1:1234", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "192.168.1.2:1234", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodGet, "192.168.1.3:1234", "").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	for _, mw := range []gin.HandlerFunc{RateLimit(RateLimitConfig{}), GlobalRateLimit(RateLimitConfig{})} {
		router := setupTestRouter(mw)
		for i := 0; i < 50; i++ {
			assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "192.168.1.1:1234", "").Code)
		}
	}
}

func TestDefaultConfigs(t *testing.T) {
	cors := DefaultCORSConfig()
	assert.Contains(t, cors.AllowOrigins, "*")
	assert.Equal(t, time.Hour, cors.MaxAge)

	rl := DefaultRateLimitConfig()
	assert.True(t, rl.Enabled())
	assert.Equal(t, 20.0, rl.RequestsPerSecond)
	assert.Equal(t, 40, rl.Burst)
}

func BenchmarkRateLimit(b *testing.B) {
	router := setupTestRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1e9, Burst: 1 << 20}))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "192.168.1.1:1234"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
