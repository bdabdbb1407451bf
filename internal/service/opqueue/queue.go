package opqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/repository"
	"inboxpilot/pkg/metrics"
	"inboxpilot/pkg/otel"
	"inboxpilot/pkg/util"
)

const (
	defaultPriority = 5
	minPriority     = 1
	maxPriority     = 10
)

type Store interface {
	Insert(ctx context.Context, op *model.QueuedOperation) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.QueuedOperation, error)
	ListPending(ctx context.Context, userID int) ([]model.QueuedOperation, error)
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	Finish(ctx context.Context, op *model.QueuedOperation) error
	ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error)
}

// Flags covers the local-store flag operations the queue dispatches.
type Flags interface {
	SetRead(ctx context.Context, userID int, externalID string, read bool) error
	SetArchived(ctx context.Context, userID int, externalID string, archived bool) error
	SetCategory(ctx context.Context, userID int, externalID string, categoryID int) error
	MarkDeleted(ctx context.Context, userID int, externalID string) error
}

// Mail covers the provider-side operations the queue dispatches.
type Mail interface {
	Trash(ctx context.Context, accountID int, externalID string) error
	SendReply(ctx context.Context, messageID int, content string, replyAll bool) error
}

// Queue is the durable, priority-ordered store of client-issued operations
// captured while offline. It has no background worker: draining happens only
// when ProcessUserQueue is invoked, by the scheduler tick or by an explicit
// API call.
type Queue struct {
	store  Store
	flags  Flags
	mail   Mail
	logger *zap.Logger
}

func NewQueue(store Store, flags Flags, mail Mail, logger *zap.Logger) *Queue {
	return &Queue{
		store:  store,
		flags:  flags,
		mail:   mail,
		logger: logger,
	}
}

// EnqueueRequest is what API handlers hand over from the client sync payload.
type EnqueueRequest struct {
	UserID      int
	Type        string
	ResourceRef string
	Payload     json.RawMessage
	Priority    int
	MaxRetries  int
}

// Enqueue validates and persists one operation as pending. Unknown operation
// types are rejected here, so dispatch never sees one.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueuedOperation, error) {
	opType, err := model.ParseOperationType(req.Type)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	if priority < minPriority {
		priority = minPriority
	}
	if priority > maxPriority {
		priority = maxPriority
	}

	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}

	op := &model.QueuedOperation{
		ID:          uuid.New(),
		UserID:      req.UserID,
		Type:        opType,
		ResourceRef: req.ResourceRef,
		Payload:     req.Payload,
		Status:      model.OpStatusPending,
		Priority:    priority,
		MaxRetries:  maxRetries,
	}

	if err := q.store.Insert(ctx, op); err != nil {
		return nil, err
	}

	q.logger.Info("Operation enqueued",
		zap.String("operation_id", op.ID.String()),
		zap.Int("user_id", op.UserID),
		zap.String("type", string(op.Type)),
		zap.Int("priority", op.Priority),
	)
	return op, nil
}

// ProcessOne claims and executes a single pending operation. Any other state
// is a no-op returning false, which makes duplicate processing triggers
// harmless. Terminal operations only leave that state via Retry.
func (q *Queue) ProcessOne(ctx context.Context, id uuid.UUID) (bool, error) {
	op, err := q.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if op.Status != model.OpStatusPending {
		q.logger.Debug("Operation not pending, skipping",
			zap.String("operation_id", id.String()),
			zap.String("status", string(op.Status)),
		)
		metrics.IncrementQueueOp(string(op.Type), "skipped")
		return false, nil
	}

	claimed, err := q.store.ClaimProcessing(ctx, id)
	if err != nil {
		return false, err
	}
	if !claimed {
		// 另一个触发方抢先认领了
		metrics.IncrementQueueOp(string(op.Type), "skipped")
		return false, nil
	}

	return q.execute(ctx, op)
}

// ProcessUserQueue drains the user's pending operations in priority order.
func (q *Queue) ProcessUserQueue(ctx context.Context, userID int) (model.QueueRunResult, error) {
	ctx, span := otel.StartSpan(ctx, "opqueue.ProcessUserQueue")
	defer span.End()

	var result model.QueueRunResult

	ops, err := q.store.ListPending(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("list pending operations for user %d: %w", userID, err)
	}

	for i := range ops {
		op := ops[i]

		claimed, err := q.store.ClaimProcessing(ctx, op.ID)
		if err != nil {
			q.logger.Error("Failed to claim operation",
				zap.String("operation_id", op.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		result.Processed++
		ok, err := q.execute(ctx, &op)
		if err != nil {
			q.logger.Error("Failed to record operation outcome",
				zap.String("operation_id", op.ID.String()),
				zap.Error(err),
			)
			result.Failed++
			continue
		}
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	if result.Processed > 0 {
		q.logger.Info("User queue drained",
			zap.Int("user_id", userID),
			zap.Int("processed", result.Processed),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// Retry is the explicit operator path for a failed operation: back to pending
// with a fresh retry budget. Returns false if the operation wasn't failed.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID) (bool, error) {
	reset, err := q.store.ResetForRetry(ctx, id)
	if err != nil {
		return false, err
	}
	if reset {
		q.logger.Info("Failed operation reset for retry",
			zap.String("operation_id", id.String()),
		)
	}
	return reset, nil
}

// execute runs the already-claimed operation and records the outcome.
// Handler errors never propagate; they become retry state or the failed
// terminal state with lastError set for caller inspection.
func (q *Queue) execute(ctx context.Context, op *model.QueuedOperation) (bool, error) {
	handlerErr := q.dispatch(ctx, op)
	now := time.Now()

	if handlerErr == nil {
		op.Status = model.OpStatusCompleted
		op.ProcessedAt = &now
		if err := q.store.Finish(ctx, op); err != nil {
			return false, err
		}
		metrics.IncrementQueueOp(string(op.Type), "completed")
		return true, nil
	}

	op.RetryCount++
	op.LastError = handlerErr.Error()

	retryable, errType := util.IsRetryableError(handlerErr)
	if !retryable || op.RetryCount >= op.MaxRetries {
		op.Status = model.OpStatusFailed
		op.ProcessedAt = &now
		metrics.IncrementQueueOp(string(op.Type), "failed")
	} else {
		// 回到 pending，等下一次队列排空再试
		op.Status = model.OpStatusPending
		metrics.IncrementQueueOp(string(op.Type), "retried")
	}

	q.logger.Warn("Operation handler failed",
		zap.String("operation_id", op.ID.String()),
		zap.String("type", string(op.Type)),
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int("retry_count", op.RetryCount),
		zap.Int("max_retries", op.MaxRetries),
		zap.String("status", string(op.Status)),
		zap.Error(handlerErr),
	)

	if err := q.store.Finish(ctx, op); err != nil {
		return false, err
	}
	return false, nil
}
