package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/docquery/gatekeeper/internal/export"
	"github.com/docquery/gatekeeper/internal/monitor"
)

// ExportHandler archives ring-buffer events and triggers retention sweeps.
type ExportHandler struct {
	collector *monitor.Collector
	archiver  *export.Archiver
	retention time.Duration
}

// NewExportHandler constructs an ExportHandler. archiver may be nil when no
// archive DSN is configured.
func NewExportHandler(collector *monitor.Collector, archiver *export.Archiver, retention time.Duration) *ExportHandler {
	return &ExportHandler{collector: collector, archiver: archiver, retention: retention}
}

// Export writes the current ring contents to the archive database.
func (h *ExportHandler) Export(c *gin.Context) {
	if h.archiver == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive database not configured"})
		return
	}
	events := h.collector.Events(0)
	written, errExport := h.archiver.Export(c.Request.Context(), events)
	if errExport != nil {
		log.WithError(errExport).Error("admin: event export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exported": written})
}

// Cleanup runs the retention sweep immediately, on the ring and, when
// available, the archive.
func (h *ExportHandler) Cleanup(c *gin.Context) {
	removed := h.collector.EvictOlderThan(h.retention)
	resp := gin.H{"evicted": removed}
	if h.archiver != nil {
		pruned, errPrune := h.archiver.Prune(c.Request.Context(), h.retention)
		if errPrune != nil {
			log.WithError(errPrune).Warn("admin: archive prune failed")
		} else {
			resp["archive_pruned"] = pruned
		}
	}
	c.JSON(http.StatusOK, resp)
}
