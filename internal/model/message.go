package model

import "time"

// Message is a synced inbox message as the pipeline sees it.
// Syncing itself is owned by the ingestion side; the pipeline only reads.
type Message struct {
	ID         int
	UserID     int
	AccountID  int
	ExternalID string
	Subject    string
	Content    string
	Sender     string
	IsUrgent   bool
	CategoryID *int
	Timestamp  time.Time
}
