package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/monitor"
)

// HealthHandler reports limiter health.
type HealthHandler struct {
	collector *monitor.Collector
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(collector *monitor.Collector) *HealthHandler {
	return &HealthHandler{collector: collector}
}

// Healthz returns liveness plus health derived from recent error and
// reject ratios. Degraded still answers 200: the process serves traffic,
// just less precisely.
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, h.collector.Health())
}
