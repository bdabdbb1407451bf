package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/ai"
	"inboxpilot/internal/model"
	"inboxpilot/pkg/metrics"
	"inboxpilot/pkg/otel"
)

// Version is stamped on every stored result so consumers can tell which
// scoring generation produced it.
const Version = "2.1"

// Reply generation only kicks in above this response confidence, independent
// of the per-user auto-reply threshold.
const replyConfidenceFloor = 60

type MessageStore interface {
	GetByID(ctx context.Context, id int) (*model.Message, error)
}

type ResultStore interface {
	Upsert(ctx context.Context, res *model.AnalysisResult) error
}

// Inference is the AI backend contract. Available is polled before each call;
// when it reports false the orchestrator stays on rule-based fallbacks.
type Inference interface {
	Available(ctx context.Context) bool
	Complete(ctx context.Context, prompt string, opts ai.Options) (string, error)
}

// EventSink receives analyzed-message notifications for downstream consumers.
type EventSink interface {
	MessageAnalyzed(msg *model.Message, res *model.AnalysisResult)
}

// Orchestrator runs the per-message analysis: spam, sentiment and response
// necessity concurrently, then reply generation when warranted, then one
// idempotent upsert keyed by message ID.
type Orchestrator struct {
	messages  MessageStore
	results   ResultStore
	inference Inference
	events    EventSink
	logger    *zap.Logger
}

func NewOrchestrator(
	messages MessageStore,
	results ResultStore,
	inference Inference,
	events EventSink,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		messages:  messages,
		results:   results,
		inference: inference,
		events:    events,
		logger:    logger,
	}
}

// Analyze classifies one message and stores the result. Calling it twice with
// the same input yields the same stored row. Partial AI failures degrade to
// the rule-based path instead of failing the analysis.
func (o *Orchestrator) Analyze(ctx context.Context, messageID int) (*model.AnalysisResult, error) {
	ctx, span := otel.StartSpan(ctx, "analysis.Analyze")
	defer span.End()

	start := time.Now()

	msg, err := o.messages.GetByID(ctx, messageID)
	if err != nil {
		metrics.IncrementAnalyzed("error")
		return nil, fmt.Errorf("analyze message %d: %w", messageID, err)
	}

	aiUp := o.inference.Available(ctx)
	if !aiUp {
		o.logger.Warn("AI backend unavailable, using rule-based fallbacks",
			zap.Int("message_id", msg.ID),
		)
	}

	// 三个子检查相互独立，并发执行
	var (
		spam spamVerdict
		sent sentimentVerdict
		resp necessityVerdict
		wg   sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		spam = o.checkSpam(ctx, msg, aiUp)
	}()
	go func() {
		defer wg.Done()
		sent = o.checkSentiment(ctx, msg, aiUp)
	}()
	go func() {
		defer wg.Done()
		resp = o.checkNecessity(ctx, msg, aiUp)
	}()
	wg.Wait()

	// 回复生成依赖 sentiment 的语气选择，必须在子检查之后
	var reply string
	if !spam.IsSpam && resp.NeedsResponse && resp.Confidence >= replyConfidenceFloor {
		reply = o.generateReply(ctx, msg, sent.Sentiment, aiUp)
	}

	res := &model.AnalysisResult{
		MessageID:          msg.ID,
		SpamProbability:    spam.Probability,
		IsSpam:             spam.IsSpam,
		NeedsResponse:      resp.NeedsResponse,
		ResponseConfidence: resp.Confidence,
		Sentiment:          sent.Sentiment,
		PriorityLevel:      computePriority(spam.IsSpam, msg.IsUrgent, resp.NeedsResponse, resp.Confidence, sent.Sentiment),
		GeneratedReply:     reply,
		Reasoning:          joinReasoning(spam.Reasoning, sent.Reasoning, resp.Reasoning),
		AnalysisVersion:    Version,
	}

	if err := o.results.Upsert(ctx, res); err != nil {
		metrics.IncrementAnalyzed("error")
		return nil, fmt.Errorf("analyze message %d: %w", messageID, err)
	}

	if o.events != nil {
		o.events.MessageAnalyzed(msg, res)
	}

	mode := "ai"
	if !spam.FromAI || !sent.FromAI || !resp.FromAI {
		mode = "fallback"
	}
	metrics.RecordAnalysisLatency(mode, time.Since(start))
	if res.IsSpam {
		metrics.IncrementAnalyzed("spam")
	} else {
		metrics.IncrementAnalyzed("ok")
	}

	o.logger.Info("Message analyzed",
		zap.Int("message_id", msg.ID),
		zap.Int("user_id", msg.UserID),
		zap.Bool("is_spam", res.IsSpam),
		zap.Bool("needs_response", res.NeedsResponse),
		zap.String("sentiment", string(res.Sentiment)),
		zap.String("priority", string(res.PriorityLevel)),
		zap.String("mode", mode),
	)

	return res, nil
}

func joinReasoning(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
