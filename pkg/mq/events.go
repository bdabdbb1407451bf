package mq

import "time"

// Routing keys on the shared exchange.
const (
	RouteMessageSynced   = "message.synced"
	RouteMessageAnalyzed = "message.analyzed"
)

// MessageSyncedPayload is published by the sync side whenever a new message
// lands in a user's inbox. It carries just enough to locate the message.
type MessageSyncedPayload struct {
	MessageID int       `json:"message_id"`
	UserID    int       `json:"user_id"`
	SyncedAt  time.Time `json:"synced_at"`
}

// MessageAnalyzedPayload is published by the pipeline after a message has
// been analyzed, for downstream consumers (search indexing, analytics).
type MessageAnalyzedPayload struct {
	MessageID       int    `json:"message_id"`
	UserID          int    `json:"user_id"`
	IsSpam          bool   `json:"is_spam"`
	NeedsResponse   bool   `json:"needs_response"`
	Sentiment       string `json:"sentiment"`
	PriorityLevel   string `json:"priority_level"`
	AnalysisVersion string `json:"analysis_version"`
}
