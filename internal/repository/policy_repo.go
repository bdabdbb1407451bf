package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxpilot/internal/model"
)

type PolicyRepository struct {
	db *pgxpool.Pool
}

func NewPolicyRepository(db *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// GetAutomationPolicy returns the user's automation policy. Users that never
// touched their settings have no row; they get the conservative defaults
// (all automation off).
func (r *PolicyRepository) GetAutomationPolicy(ctx context.Context, userID int) (*model.AutomationPolicy, error) {
	query := `
		SELECT user_id, auto_delete_enabled, spam_threshold, auto_reply_enabled,
		       response_confidence_threshold, sender_whitelist, sender_blacklist,
		       business_hours_only, max_replies_per_day
		FROM automation_policies
		WHERE user_id = $1
	`

	var p model.AutomationPolicy
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.AutoDeleteEnabled,
		&p.SpamThreshold,
		&p.AutoReplyEnabled,
		&p.ResponseConfidenceThreshold,
		&p.SenderWhitelist,
		&p.SenderBlacklist,
		&p.BusinessHoursOnly,
		&p.MaxRepliesPerDay,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.AutomationPolicy{
			UserID:                      userID,
			SpamThreshold:               model.DefaultSpamThreshold,
			ResponseConfidenceThreshold: model.DefaultResponseConfidenceThreshold,
			MaxRepliesPerDay:            model.DefaultMaxRepliesPerDay,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query automation policy: %w", err)
	}
	return &p, nil
}

// GetNotificationPrefs returns the user's push settings, defaulting to UTC
// with quiet hours off.
func (r *PolicyRepository) GetNotificationPrefs(ctx context.Context, userID int) (*model.NotificationPrefs, error) {
	query := `
		SELECT user_id, timezone, quiet_hours_enabled, quiet_start, quiet_end, urgent_keywords
		FROM notification_prefs
		WHERE user_id = $1
	`

	var p model.NotificationPrefs
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&p.UserID,
		&p.Timezone,
		&p.QuietHoursEnabled,
		&p.QuietStart,
		&p.QuietEnd,
		&p.UrgentKeywords,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotificationPrefs{
			UserID:   userID,
			Timezone: "UTC",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification prefs: %w", err)
	}
	return &p, nil
}
