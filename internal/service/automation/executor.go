package automation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inboxpilot/internal/model"
	"inboxpilot/pkg/metrics"
	"inboxpilot/pkg/otel"
)

type MailActions interface {
	Trash(ctx context.Context, accountID int, externalID string) error
	SendReply(ctx context.Context, messageID int, content string, replyAll bool) error
}

// LocalMessages mirrors provider-side deletes into the local store.
type LocalMessages interface {
	MarkDeleted(ctx context.Context, userID int, externalID string) error
}

type ReplyCounter interface {
	RepliesToday(ctx context.Context, userID int, now time.Time) (int, error)
	Increment(ctx context.Context, userID int, now time.Time) error
}

type PrefsSource interface {
	GetNotificationPrefs(ctx context.Context, userID int) (*model.NotificationPrefs, error)
}

// Actions reports what the executor actually did for one message.
type Actions struct {
	Deleted bool
	Replied bool
}

// Executor evaluates the pure gate against a message's analysis result and
// carries out the side effects through the mail collaborators.
type Executor struct {
	mail    MailActions
	local   LocalMessages
	replies ReplyCounter
	prefs   PrefsSource
	logger  *zap.Logger
	now     func() time.Time
}

func NewExecutor(
	mail MailActions,
	local LocalMessages,
	replies ReplyCounter,
	prefs PrefsSource,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		mail:    mail,
		local:   local,
		replies: replies,
		prefs:   prefs,
		logger:  logger,
		now:     time.Now,
	}
}

// Apply runs auto-delete and auto-reply for one analyzed message. Policy
// rejections are silent from the user's perspective; only transport failures
// come back as errors.
func (e *Executor) Apply(
	ctx context.Context,
	policy *model.AutomationPolicy,
	msg *model.Message,
	result *model.AnalysisResult,
) (Actions, error) {
	ctx, span := otel.StartSpan(ctx, "automation.Apply")
	defer span.End()

	var actions Actions

	if EvaluateAutoDelete(policy, result) {
		if err := e.mail.Trash(ctx, msg.AccountID, msg.ExternalID); err != nil {
			metrics.IncrementAutomation("auto_delete", "error")
			return actions, fmt.Errorf("auto-delete message %d: %w", msg.ID, err)
		}
		if err := e.local.MarkDeleted(ctx, msg.UserID, msg.ExternalID); err != nil {
			// Provider-side delete already happened; local mirror catches up on next sync.
			e.logger.Error("Failed to mirror auto-delete locally",
				zap.Int("message_id", msg.ID),
				zap.Error(err),
			)
		}
		metrics.IncrementAutomation("auto_delete", "applied")
		e.logger.Info("Auto-deleted spam message",
			zap.Int("message_id", msg.ID),
			zap.Int("user_id", msg.UserID),
			zap.Int("spam_probability", result.SpamProbability),
		)
		actions.Deleted = true
		return actions, nil
	}

	if !policy.AutoReplyEnabled {
		return actions, nil
	}

	now, err := e.userLocalNow(ctx, msg.UserID)
	if err != nil {
		return actions, err
	}

	repliesToday, err := e.replies.RepliesToday(ctx, msg.UserID, now)
	if err != nil {
		return actions, fmt.Errorf("auto-reply message %d: %w", msg.ID, err)
	}

	decision := EvaluateAutoReply(policy, result, msg.Sender, now, repliesToday)
	if !decision.Allowed {
		metrics.IncrementAutomation("auto_reply", "rejected")
		e.logger.Info("Auto-reply rejected by policy",
			zap.Int("message_id", msg.ID),
			zap.Int("user_id", msg.UserID),
			zap.String("reason", decision.Reason),
		)
		return actions, nil
	}

	if result.GeneratedReply == "" {
		metrics.IncrementAutomation("auto_reply", "rejected")
		e.logger.Info("Auto-reply allowed but no generated reply available",
			zap.Int("message_id", msg.ID),
		)
		return actions, nil
	}

	if err := e.mail.SendReply(ctx, msg.ID, result.GeneratedReply, false); err != nil {
		metrics.IncrementAutomation("auto_reply", "error")
		return actions, fmt.Errorf("auto-reply message %d: %w", msg.ID, err)
	}
	if err := e.replies.Increment(ctx, msg.UserID, now); err != nil {
		e.logger.Error("Failed to bump reply counter",
			zap.Int("user_id", msg.UserID),
			zap.Error(err),
		)
	}
	metrics.IncrementAutomation("auto_reply", "applied")
	e.logger.Info("Auto-reply sent",
		zap.Int("message_id", msg.ID),
		zap.Int("user_id", msg.UserID),
		zap.Int("response_confidence", result.ResponseConfidence),
	)
	actions.Replied = true
	return actions, nil
}

// userLocalNow shifts the wall clock into the user's timezone so business
// hours and the daily reply counter agree with the user's calendar day.
func (e *Executor) userLocalNow(ctx context.Context, userID int) (time.Time, error) {
	now := e.now()

	prefs, err := e.prefs.GetNotificationPrefs(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load prefs for user %d: %w", userID, err)
	}

	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		e.logger.Warn("Invalid user timezone, falling back to UTC",
			zap.Int("user_id", userID),
			zap.String("timezone", prefs.Timezone),
		)
		loc = time.UTC
	}
	return now.In(loc), nil
}
