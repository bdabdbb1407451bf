package automation

import (
	"strings"
	"time"

	"inboxpilot/internal/model"
)

// The gate is pure decision logic: no I/O, no side effects. All execution
// (trash, send) lives in the Executor.

// ReplyDecision carries the verdict plus the rejection reason. Rejections are
// normal policy behavior, logged at info level, never surfaced as errors.
type ReplyDecision struct {
	Allowed bool
	Reason  string
}

func allow() ReplyDecision {
	return ReplyDecision{Allowed: true}
}

func reject(reason string) ReplyDecision {
	return ReplyDecision{Allowed: false, Reason: reason}
}

// EvaluateAutoDelete decides whether the message should be auto-trashed.
func EvaluateAutoDelete(policy *model.AutomationPolicy, result *model.AnalysisResult) bool {
	return policy.AutoDeleteEnabled &&
		result.IsSpam &&
		result.SpamProbability >= policy.SpamThreshold
}

// EvaluateAutoReply decides whether an auto-reply may be sent. now must
// already be in the user's local timezone; repliesToday is the user's count
// for the current local day.
func EvaluateAutoReply(
	policy *model.AutomationPolicy,
	result *model.AnalysisResult,
	sender string,
	now time.Time,
	repliesToday int,
) ReplyDecision {
	if !policy.AutoReplyEnabled {
		return reject("auto-reply disabled")
	}
	if !result.NeedsResponse {
		return reject("no response needed")
	}
	if result.ResponseConfidence < policy.ResponseConfidenceThreshold {
		return reject("response confidence below threshold")
	}
	if matchesAny(sender, policy.SenderBlacklist) {
		// 黑名单优先级最高，置信度再高也不回
		return reject("sender blacklisted")
	}
	if len(policy.SenderWhitelist) > 0 && !matchesAny(sender, policy.SenderWhitelist) {
		return reject("sender not whitelisted")
	}
	if policy.BusinessHoursOnly && !InBusinessHours(now) {
		return reject("outside business hours")
	}
	if repliesToday >= policy.MaxRepliesPerDay {
		return reject("daily reply limit reached")
	}
	return allow()
}

// matchesAny does a case-insensitive substring match of each entry against
// the sender, so "alerts@" or a bare domain both work as list entries.
func matchesAny(sender string, entries []string) bool {
	s := strings.ToLower(sender)
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if strings.Contains(s, e) {
			return true
		}
	}
	return false
}
