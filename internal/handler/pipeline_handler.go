package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxpilot/internal/service/scheduler"
)

// PipelineHandler lets operators trigger a sweep outside the timer schedule.
type PipelineHandler struct {
	cron   *scheduler.Cron
	logger *zap.Logger
}

func NewPipelineHandler(cron *scheduler.Cron, logger *zap.Logger) *PipelineHandler {
	return &PipelineHandler{cron: cron, logger: logger}
}

func (h *PipelineHandler) RunTick(c *gin.Context) {
	h.logger.Info("Manual pipeline tick requested",
		zap.Int("user_id", c.GetInt("user_id")),
		zap.String("client_ip", c.ClientIP()),
	)

	stats := h.cron.Tick(c.Request.Context())
	if stats.Skipped {
		c.JSON(http.StatusConflict, gin.H{"status": "skipped", "reason": "run already in progress"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"duration_ms":     stats.Duration.Milliseconds(),
		"users_processed": stats.UsersProcessed,
		"analyzed":        stats.Analyzed,
		"spam_detected":   stats.SpamDetected,
		"replies_sent":    stats.RepliesSent,
		"deleted":         stats.Deleted,
		"ops_processed":   stats.OpsProcessed,
		"errors":          stats.Errors,
	})
}
