package model

const (
	DefaultSpamThreshold               = 80
	DefaultResponseConfidenceThreshold = 85
	DefaultMaxRepliesPerDay            = 10
)

// AutomationPolicy is the per-user configuration gating auto-delete and
// auto-reply. Owned by the user, read-only to the pipeline.
type AutomationPolicy struct {
	UserID                      int
	AutoDeleteEnabled           bool
	SpamThreshold               int // 0-100
	AutoReplyEnabled            bool
	ResponseConfidenceThreshold int // 0-100
	SenderWhitelist             []string
	SenderBlacklist             []string
	BusinessHoursOnly           bool
	MaxRepliesPerDay            int // 1-100
}

// NotificationPrefs holds the per-user push notification settings consumed by
// the batcher: quiet hours in the user's local timezone plus urgent keywords
// that bypass batching entirely.
type NotificationPrefs struct {
	UserID            int
	Timezone          string
	QuietHoursEnabled bool
	QuietStart        string // "22:00"
	QuietEnd          string // "07:00"
	UrgentKeywords    []string
}
