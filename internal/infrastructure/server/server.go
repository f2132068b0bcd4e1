package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/dbpipe/internal/api/middleware"
	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

// Source reports the state of a running driver. *pipeline.Producer and
// *pipeline.Consumer implement it.
type Source interface {
	Snapshot() pipeline.Snapshot
}

// Config contains status server configuration
type Config struct {
	Addr        string
	RunID       string
	Rank        int
	Development bool
	// RateLimit applies per client IP, GlobalRateLimit to all clients together.
	RateLimit       middleware.RateLimitConfig
	GlobalRateLimit middleware.RateLimitConfig
	CORS            middleware.CORSConfig
}

// Server serves health, status and metrics of one participant
type Server struct {
	router  *gin.Engine
	http    *http.Server
	logger  *zap.Logger
	config  Config
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	source   Source
	listener net.Listener
	served   chan error
}

// NewServer creates a new server instance. metrics may be nil, in which case
// /metrics is not routed.
func NewServer(cfg Config, metrics *monitoring.Metrics, logger *zap.Logger) *Server {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(middleware.GlobalRateLimit(cfg.GlobalRateLimit))
	router.Use(middleware.RateLimit(cfg.RateLimit))

	s := &Server{
		router:  router,
		logger:  logger.Named("status"),
		config:  cfg,
		metrics: metrics,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	handlers := newHandlers(s)

	s.router.GET("/healthz", handlers.Health)
	s.router.GET("/status", handlers.Status)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Attach sets the driver whose state /status reports.
func (s *Server) Attach(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

func (s *Server) snapshot() (pipeline.Snapshot, bool) {
	s.mu.RLock()
	src := s.source
	s.mu.RUnlock()
	if src == nil {
		return pipeline.Snapshot{}, false
	}
	return src.Snapshot(), true
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.served = make(chan error, 1)
	s.mu.Unlock()

	s.logger.Info("Starting status server", zap.String("addr", ln.Addr().String()))
	go func() {
		err := s.http.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.served <- err
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	served := s.served
	s.mu.RUnlock()
	if served == nil {
		return nil
	}

	s.logger.Info("Shutting down status server")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-served
}
