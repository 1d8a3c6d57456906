package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler exposes liveness information.
type HealthHandler struct {
	startedAt time.Time
}

// NewHealthHandler builds a new health handler instance.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startedAt: time.Now().UTC()}
}

// Status godoc
// @Summary Service health check
// @Description Returns the status and start time of the service.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /healthz [get]
func (h *HealthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		StartedAt: h.startedAt,
	})
}

// Pinger checks connectivity to a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports whether the service can serve traffic by probing its
// hard dependencies.
type ReadyHandler struct {
	checks map[string]Pinger
}

// NewReadyHandler builds a readiness handler over the named dependency probes.
func NewReadyHandler(checks map[string]Pinger) *ReadyHandler {
	return &ReadyHandler{checks: checks}
}

// Status godoc
// @Summary Service readiness check
// @Description Probes Postgres and Redis; any failure reports the service as not ready.
// @Tags Health
// @Produce json
// @Success 200 {object} ReadyResponse
// @Failure 503 {object} ReadyResponse
// @Router /readyz [get]
func (h *ReadyHandler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for name, pinger := range h.checks {
		if pinger == nil {
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			results[name] = "unavailable"
			ready = false
			continue
		}
		results[name] = "ok"
	}

	status := http.StatusOK
	resp := ReadyResponse{Status: "ready", Checks: results}
	if !ready {
		status = http.StatusServiceUnavailable
		resp.Status = "not_ready"
	}

	c.JSON(status, resp)
}
