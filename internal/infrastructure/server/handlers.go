package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/dbpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/dbpipe/internal/pipeline"
)

type handlers struct {
	srv *Server
}

func newHandlers(srv *Server) *handlers {
	return &handlers{srv: srv}
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	RunID       string                      `json:"run_id"`
	Rank        int                         `json:"rank"`
	Role        pipeline.Role               `json:"role"`
	State       pipeline.State              `json:"state"`
	Iteration   int                         `json:"iteration"`
	Outstanding int                         `json:"outstanding"`
	Metrics     *monitoring.MetricsSnapshot `json:"metrics,omitempty"`
}

// Health handles liveness checks
func (h *handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the attached driver's position
func (h *handlers) Status(c *gin.Context) {
	resp := StatusResponse{
		RunID: h.srv.config.RunID,
		Rank:  h.srv.config.Rank,
	}
	if snap, ok := h.srv.snapshot(); ok {
		resp.Role = snap.Role
		resp.State = snap.State
		resp.Iteration = snap.Iteration
		resp.Outstanding = snap.Outstanding
	}
	if h.srv.metrics != nil {
		m := h.srv.metrics.Snapshot()
		resp.Metrics = &m
	}
	c.JSON(http.StatusOK, resp)
}
