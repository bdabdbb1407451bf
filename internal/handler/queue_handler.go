package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"inboxpilot/internal/service/opqueue"
)

// QueueHandler exposes the offline operation queue over HTTP: clients enqueue
// operations captured while offline and trigger a drain when they reconnect.
type QueueHandler struct {
	queue  *opqueue.Queue
	logger *zap.Logger
}

func NewQueueHandler(queue *opqueue.Queue, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

type enqueueRequest struct {
	Type        string          `json:"type" binding:"required"`
	ResourceRef string          `json:"resource_ref" binding:"required"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	MaxRetries  int             `json:"max_retries"`
}

func (h *QueueHandler) EnqueueOperation(c *gin.Context) {
	userID := c.GetInt("user_id")

	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("EnqueueOperation: invalid request body",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	op, err := h.queue.Enqueue(c.Request.Context(), opqueue.EnqueueRequest{
		UserID:      userID,
		Type:        req.Type,
		ResourceRef: req.ResourceRef,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxRetries:  req.MaxRetries,
	})
	if err != nil {
		h.logger.Warn("EnqueueOperation: rejected",
			zap.Int("user_id", userID),
			zap.String("type", req.Type),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"operation_id": op.ID.String(),
		"status":       string(op.Status),
		"priority":     op.Priority,
	})
}

// ProcessQueue drains the caller's pending operations. Clients call this on
// reconnect instead of waiting for the next scheduler sweep.
func (h *QueueHandler) ProcessQueue(c *gin.Context) {
	userID := c.GetInt("user_id")

	result, err := h.queue.ProcessUserQueue(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("ProcessQueue: drain failed",
			zap.Int("user_id", userID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process queue"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	})
}

func (h *QueueHandler) RetryOperation(c *gin.Context) {
	idStr := c.Param("id")
	opID, err := uuid.Parse(idStr)
	if err != nil {
		h.logger.Warn("RetryOperation: invalid operation id",
			zap.String("operation_id", idStr),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operation id"})
		return
	}

	reset, err := h.queue.Retry(c.Request.Context(), opID)
	if err != nil {
		h.logger.Error("RetryOperation: failed",
			zap.String("operation_id", idStr),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retry operation"})
		return
	}
	if !reset {
		c.JSON(http.StatusConflict, gin.H{"error": "operation is not in failed state"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "pending"})
}
