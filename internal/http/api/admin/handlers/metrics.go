package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/monitor"
)

// MetricsHandler exposes aggregate and drill-down monitoring views.
type MetricsHandler struct {
	collector *monitor.Collector
}

// NewMetricsHandler constructs a MetricsHandler.
func NewMetricsHandler(collector *monitor.Collector) *MetricsHandler {
	return &MetricsHandler{collector: collector}
}

// windowQuery carries the trailing-window selector shared by the views.
type windowQuery struct {
	Window int `form:"window,default=15"` // Trailing window in minutes.
	Min    int `form:"min,default=20"`    // Minimum requests for suspicion listing.
	Limit  int `form:"limit,default=100"` // Event export page size.
}

// Aggregate returns computeMetrics over the requested window.
func (h *MetricsHandler) Aggregate(c *gin.Context) {
	var q windowQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	c.JSON(http.StatusOK, h.collector.ComputeMetrics(q.Window))
}

// Client returns the per-client drill-down.
func (h *MetricsHandler) Client(c *gin.Context) {
	var q windowQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	clientID := c.Param("id")
	if clientID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing client id"})
		return
	}
	c.JSON(http.StatusOK, h.collector.ClientStats(clientID, q.Window))
}

// Routes returns the per-route drill-down.
func (h *MetricsHandler) Routes(c *gin.Context) {
	var q windowQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"window_minutes": q.Window, "routes": h.collector.RouteBreakdown(q.Window)})
}

// Suspicious lists clients crossing the suspicion threshold.
func (h *MetricsHandler) Suspicious(c *gin.Context) {
	var q windowQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"window_minutes": q.Window,
		"min_requests":   q.Min,
		"clients":        h.collector.Suspicious(q.Window, q.Min),
	})
}

// Events returns recent raw events, newest first.
func (h *MetricsHandler) Events(c *gin.Context) {
	var q windowQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Limit < 1 || q.Limit > 1000 {
		q.Limit = 100
	}
	c.JSON(http.StatusOK, gin.H{"events": h.collector.Events(q.Limit)})
}

// Alerts returns retained alerts.
func (h *MetricsHandler) Alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": h.collector.Alerts()})
}
