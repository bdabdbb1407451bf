package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType is the closed set of client-issued operation kinds. Enqueue
// rejects anything outside this set, so dispatch never sees an unknown type.
type OperationType string

const (
	OpMarkRead   OperationType = "mark_read"
	OpMarkUnread OperationType = "mark_unread"
	OpArchive    OperationType = "archive"
	OpUnarchive  OperationType = "unarchive"
	OpCategorize OperationType = "categorize"
	OpSendReply  OperationType = "send_reply"
	OpDelete     OperationType = "delete"
)

// ParseOperationType validates a wire-level operation type string.
func ParseOperationType(s string) (OperationType, error) {
	switch t := OperationType(s); t {
	case OpMarkRead, OpMarkUnread, OpArchive, OpUnarchive, OpCategorize, OpSendReply, OpDelete:
		return t, nil
	default:
		return "", fmt.Errorf("unknown operation type %q", s)
	}
}

type OperationStatus string

const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusProcessing OperationStatus = "processing"
	OpStatusCompleted  OperationStatus = "completed"
	OpStatusFailed     OperationStatus = "failed"
)

// Terminal reports whether the status never changes again without an explicit
// operator retry.
func (s OperationStatus) Terminal() bool {
	return s == OpStatusCompleted || s == OpStatusFailed
}

const DefaultMaxRetries = 3

// QueuedOperation is a durable client-issued operation captured while the
// client was offline. Invariant: RetryCount <= MaxRetries at all times.
type QueuedOperation struct {
	ID          uuid.UUID
	UserID      int
	Type        OperationType
	ResourceRef string // external message ref the operation targets
	Payload     json.RawMessage
	Status      OperationStatus
	Priority    int // 1-10, higher drains first
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// DeletePayload is the typed payload for OpDelete. The client knows which
// account the message lives in; the provider bridge needs it for trash calls.
type DeletePayload struct {
	AccountID int `json:"account_id"`
}

// CategorizePayload is the typed payload for OpCategorize.
type CategorizePayload struct {
	CategoryID int `json:"category_id"`
}

// ReplyPayload is the typed payload for OpSendReply.
type ReplyPayload struct {
	MessageID int    `json:"message_id"`
	Content   string `json:"content"`
	ReplyAll  bool   `json:"reply_all"`
}
