package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/ffmpeg"
	"github.com/vodforge/vodforge/internal/modules/transcodingmodule/core/system"
)

// RuntimeSource exposes the codec runtime without loading it
type RuntimeSource interface {
	Current() *ffmpeg.Runtime
}

// QueueStats reports in-process dispatch depth
type QueueStats interface {
	Pending() int
	Active() int
}

// HealthHandler serves GET /api/health
type HealthHandler struct {
	version    string
	runtimes   RuntimeSource
	queue      QueueStats
	scratchDir string
	started    time.Time
}

// NewHealthHandler creates the health endpoint. queue is nil when jobs are
// dispatched to external workers.
func NewHealthHandler(version string, runtimes RuntimeSource, queue QueueStats, scratchDir string) *HealthHandler {
	return &HealthHandler{
		version:    version,
		runtimes:   runtimes,
		queue:      queue,
		scratchDir: scratchDir,
		started:    time.Now(),
	}
}

// Health reports liveness plus what an operator needs to see at a glance.
// The runtime is loaded lazily by the first job, so "loaded": false is not
// an error.
func (h *HealthHandler) Health(c *gin.Context) {
	runtimeInfo := gin.H{"loaded": false}
	if rt := h.runtimes.Current(); rt != nil && rt.IsLoaded() {
		runtimeInfo = gin.H{
			"loaded":  true,
			"version": rt.Version(),
		}
	}

	response := gin.H{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"runtime": runtimeInfo,
	}

	if h.queue != nil {
		response["queue"] = gin.H{
			"pending": h.queue.Pending(),
			"active":  h.queue.Active(),
		}
	}

	if info, err := system.GetSystemInfo(c.Request.Context(), h.scratchDir); err == nil {
		response["system"] = info
	}

	c.JSON(http.StatusOK, response)
}
