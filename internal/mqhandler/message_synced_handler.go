package mqhandler

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/internal/repository"
	"inboxpilot/internal/service/automation"
	"inboxpilot/pkg/mq"
	"inboxpilot/pkg/util"
)

const maxRetries = 5 // 最大重试次数

type MessageStore interface {
	GetByID(ctx context.Context, id int) (*model.Message, error)
}

type ResultStore interface {
	GetByMessageID(ctx context.Context, messageID int) (*model.AnalysisResult, error)
}

type PolicyStore interface {
	GetAutomationPolicy(ctx context.Context, userID int) (*model.AutomationPolicy, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, messageID int) (*model.AnalysisResult, error)
}

type ActionApplier interface {
	Apply(ctx context.Context, policy *model.AutomationPolicy, msg *model.Message, result *model.AnalysisResult) (automation.Actions, error)
}

type Submitter interface {
	Submit(ctx context.Context, msg *model.Message, result *model.AnalysisResult)
}

type DLQPublisher interface {
	PublishToDLQ(routingKey string, payload []byte, originalError string) error
}

// MessageSyncedHandler reacts to message.synced events: it runs the full
// pipeline for one freshly synced message without waiting for the next
// scheduler sweep. The sweep remains the catch-all for anything this path
// misses, so the handler can afford to ack and move on in the hard cases.
type MessageSyncedHandler struct {
	messages     MessageStore
	results      ResultStore
	policies     PolicyStore
	analyzer     Analyzer
	applier      ActionApplier
	batcher      Submitter
	dlq          DLQPublisher
	retryCounter *util.RetryCounter
	deduper      *util.Deduper
	logger       *zap.Logger
}

func NewMessageSyncedHandler(
	messages MessageStore,
	results ResultStore,
	policies PolicyStore,
	analyzer Analyzer,
	applier ActionApplier,
	batcher Submitter,
	dlq DLQPublisher,
	retryCounter *util.RetryCounter,
	deduper *util.Deduper,
	logger *zap.Logger,
) *MessageSyncedHandler {
	return &MessageSyncedHandler{
		messages:     messages,
		results:      results,
		policies:     policies,
		analyzer:     analyzer,
		applier:      applier,
		batcher:      batcher,
		dlq:          dlq,
		retryCounter: retryCounter,
		deduper:      deduper,
		logger:       logger,
	}
}

// Handle processes one message.synced event. It is idempotent: redeliveries
// and duplicate events short-circuit on the deduper or the stored result.
// Returns an error only for retryable failures under the retry budget; poison
// messages go to the DLQ and are acked.
func (h *MessageSyncedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// Panic 恢复：确保 handler 是稳态的
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in message.synced handler",
				zap.Any("panic", r),
			)
		}
	}()

	var p mq.MessageSyncedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		// JSON decode 错误 - 不可重试，发送到 DLQ
		h.logger.Error("Failed to unmarshal message.synced payload, sending to DLQ",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		if dlqErr := h.dlq.PublishToDLQ(mq.RouteMessageSynced, raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish to DLQ", zap.Error(dlqErr))
		}
		return nil
	}

	h.logger.Info("Processing synced message",
		zap.Int("message_id", p.MessageID),
		zap.Int("user_id", p.UserID),
	)

	// 幂等性检查：已分析过的消息直接 ack
	existing, err := h.results.GetByMessageID(ctx, p.MessageID)
	if err != nil {
		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to look up existing analysis",
			zap.Int("message_id", p.MessageID),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Error(err),
		)
		if !isRetryable {
			return nil
		}
		return err
	}
	if existing != nil {
		h.logger.Debug("Message already analyzed, skipping",
			zap.Int("message_id", p.MessageID),
		)
		return nil
	}

	// Redis 去重：调度器同时在跑全量扫描，避免同一条消息双路处理
	if !h.deduper.AcquireOnce(ctx, "analyze", p.MessageID) {
		return nil
	}

	retryKey := util.FormatRetryKey("analyze", p.MessageID)
	retryCount, err := h.retryCounter.IncrementAndGet(ctx, retryKey)
	if err != nil {
		// Redis 错误不影响处理，继续执行
		h.logger.Warn("Failed to get retry count, continuing anyway",
			zap.Int("message_id", p.MessageID),
			zap.Error(err),
		)
		retryCount = 1
	}

	result, err := h.analyzer.Analyze(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 消息在分析前被删了，ack 掉
			h.retryCounter.Reset(ctx, retryKey)
			return nil
		}

		isRetryable, errType := util.IsRetryableError(err)
		h.logger.Error("Failed to analyze synced message",
			zap.Int("message_id", p.MessageID),
			zap.String("error_type", errType),
			zap.Bool("retryable", isRetryable),
			zap.Int64("retry_count", retryCount),
			zap.Error(err),
		)

		if isRetryable && retryCount <= maxRetries {
			// 可重试且未超限 - nack 让 MQ 重投
			return err
		}

		// 超过重试上限或不可重试：进 DLQ，调度器扫描兜底
		if dlqErr := h.dlq.PublishToDLQ(mq.RouteMessageSynced, raw, err.Error()); dlqErr != nil {
			h.logger.Error("Failed to publish to DLQ",
				zap.Int("message_id", p.MessageID),
				zap.Error(dlqErr),
			)
		}
		h.retryCounter.Reset(ctx, retryKey)
		return nil
	}

	h.retryCounter.Reset(ctx, retryKey)

	// 分析结果已落库；后续自动化和推送失败也不再重投
	msg, err := h.messages.GetByID(ctx, p.MessageID)
	if err != nil {
		h.logger.Error("Failed to load message after analysis",
			zap.Int("message_id", p.MessageID),
			zap.Error(err),
		)
		return nil
	}

	policy, err := h.policies.GetAutomationPolicy(ctx, msg.UserID)
	if err != nil {
		h.logger.Error("Failed to load automation policy",
			zap.Int("user_id", msg.UserID),
			zap.Error(err),
		)
		return nil
	}

	actions, err := h.applier.Apply(ctx, policy, msg, result)
	if err != nil {
		h.logger.Error("Automation failed for synced message",
			zap.Int("message_id", p.MessageID),
			zap.Error(err),
		)
		return nil
	}

	if !actions.Deleted && !result.IsSpam {
		h.batcher.Submit(ctx, msg, result)
	}

	h.logger.Info("Synced message processed",
		zap.Int("message_id", p.MessageID),
		zap.Bool("is_spam", result.IsSpam),
		zap.Bool("replied", actions.Replied),
		zap.Bool("deleted", actions.Deleted),
	)
	return nil
}
