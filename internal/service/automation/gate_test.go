package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"inboxpilot/internal/model"
)

func permissivePolicy() *model.AutomationPolicy {
	return &model.AutomationPolicy{
		UserID:                      1,
		AutoDeleteEnabled:           true,
		SpamThreshold:               80,
		AutoReplyEnabled:            true,
		ResponseConfidenceThreshold: 85,
		MaxRepliesPerDay:            10,
	}
}

func replyCandidate() *model.AnalysisResult {
	return &model.AnalysisResult{
		MessageID:          42,
		NeedsResponse:      true,
		ResponseConfidence: 90,
		Sentiment:          model.SentimentNeutral,
	}
}

// Tuesday 10:30, well inside business hours.
var tuesdayMorning = time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)

func TestEvaluateAutoDelete(t *testing.T) {
	tests := []struct {
		name        string
		enabled     bool
		isSpam      bool
		probability int
		threshold   int
		want        bool
	}{
		{"above threshold", true, true, 92, 80, true},
		{"exactly at threshold", true, true, 80, 80, true},
		{"below threshold", true, true, 79, 80, false},
		{"disabled", false, true, 99, 80, false},
		{"not spam", true, false, 92, 80, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := permissivePolicy()
			policy.AutoDeleteEnabled = tt.enabled
			policy.SpamThreshold = tt.threshold

			result := &model.AnalysisResult{
				IsSpam:          tt.isSpam,
				SpamProbability: tt.probability,
			}

			assert.Equal(t, tt.want, EvaluateAutoDelete(policy, result))
		})
	}
}

func TestEvaluateAutoReplyAllows(t *testing.T) {
	d := EvaluateAutoReply(permissivePolicy(), replyCandidate(), "alice@example.com", tuesdayMorning, 0)
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reason)
}

func TestEvaluateAutoReplyRejections(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(p *model.AutomationPolicy, r *model.AnalysisResult)
		sender     string
		now        time.Time
		replies    int
		wantReason string
	}{
		{
			name:       "disabled",
			mutate:     func(p *model.AutomationPolicy, r *model.AnalysisResult) { p.AutoReplyEnabled = false },
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			wantReason: "auto-reply disabled",
		},
		{
			name:       "no response needed",
			mutate:     func(p *model.AutomationPolicy, r *model.AnalysisResult) { r.NeedsResponse = false },
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			wantReason: "no response needed",
		},
		{
			name:       "confidence below threshold",
			mutate:     func(p *model.AutomationPolicy, r *model.AnalysisResult) { r.ResponseConfidence = 84 },
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			wantReason: "response confidence below threshold",
		},
		{
			name: "blacklisted sender",
			mutate: func(p *model.AutomationPolicy, r *model.AnalysisResult) {
				p.SenderBlacklist = []string{"noreply@"}
			},
			sender:     "NoReply@shop.example.com",
			now:        tuesdayMorning,
			wantReason: "sender blacklisted",
		},
		{
			name: "blacklist wins over whitelist",
			mutate: func(p *model.AutomationPolicy, r *model.AnalysisResult) {
				p.SenderBlacklist = []string{"example.com"}
				p.SenderWhitelist = []string{"example.com"}
			},
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			wantReason: "sender blacklisted",
		},
		{
			name: "not on whitelist",
			mutate: func(p *model.AutomationPolicy, r *model.AnalysisResult) {
				p.SenderWhitelist = []string{"@trusted.example.com"}
			},
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			wantReason: "sender not whitelisted",
		},
		{
			name: "weekend with business hours only",
			mutate: func(p *model.AutomationPolicy, r *model.AnalysisResult) {
				p.BusinessHoursOnly = true
			},
			sender:     "alice@example.com",
			now:        time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC), // Saturday
			wantReason: "outside business hours",
		},
		{
			name: "evening with business hours only",
			mutate: func(p *model.AutomationPolicy, r *model.AnalysisResult) {
				p.BusinessHoursOnly = true
			},
			sender:     "alice@example.com",
			now:        time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC),
			wantReason: "outside business hours",
		},
		{
			name:       "daily limit reached",
			mutate:     func(p *model.AutomationPolicy, r *model.AnalysisResult) { p.MaxRepliesPerDay = 3 },
			sender:     "alice@example.com",
			now:        tuesdayMorning,
			replies:    3,
			wantReason: "daily reply limit reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := permissivePolicy()
			result := replyCandidate()
			tt.mutate(policy, result)

			d := EvaluateAutoReply(policy, result, tt.sender, tt.now, tt.replies)
			assert.False(t, d.Allowed)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestEvaluateAutoReplyWhitelistedSender(t *testing.T) {
	policy := permissivePolicy()
	policy.SenderWhitelist = []string{"@trusted.example.com"}

	d := EvaluateAutoReply(policy, replyCandidate(), "bob@trusted.example.com", tuesdayMorning, 0)
	assert.True(t, d.Allowed)
}

func TestEvaluateAutoReplyBusinessHoursIgnoredWhenOff(t *testing.T) {
	// Saturday evening, but the policy doesn't restrict to business hours.
	saturdayEvening := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

	d := EvaluateAutoReply(permissivePolicy(), replyCandidate(), "alice@example.com", saturdayEvening, 0)
	assert.True(t, d.Allowed)
}
