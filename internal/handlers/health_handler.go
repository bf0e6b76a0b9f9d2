package handlers

import (
	"net/http"
	"time"

	appmetrics "crmflow/internal/metrics"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler 健康检查与指标
type HealthHandler struct {
	db        *gorm.DB
	startedAt time.Time
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db, startedAt: time.Now()}
}

// Health reports liveness.
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"uptime_s":  int64(time.Since(h.startedAt).Seconds()),
		"timestamp": time.Now().UTC(),
	})
}

// Ready reports readiness, including database connectivity.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"message": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GetMetrics exposes the in-process dispatch counters.
func (h *HealthHandler) GetMetrics(c *gin.Context) {
	total, byTrigger, byOutcome := appmetrics.DispatchSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"dispatches_total":   total,
			"dispatches_by_kind": byTrigger,
			"actions_by_outcome": byOutcome,
			"uptime_s":           int64(time.Since(h.startedAt).Seconds()),
		},
	})
}
