package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"inboxpilot/internal/config"
)

// Actions is the HTTP client for the mail provider bridge. The bridge owns
// the OAuth tokens and the raw provider APIs; the pipeline only issues
// high-level actions through it.
type Actions struct {
	baseURL    string
	httpClient *http.Client
}

func NewActions(cfg config.MailerConfig) *Actions {
	return &Actions{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (a *Actions) post(ctx context.Context, path string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		// 可重试错误
		return fmt.Errorf("mail provider 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail provider error: %d", resp.StatusCode)
	}
	return nil
}

// Trash moves a message to trash on the provider side.
func (a *Actions) Trash(ctx context.Context, accountID int, externalID string) error {
	return a.post(ctx, "/actions/trash", map[string]any{
		"account_id":  accountID,
		"external_id": externalID,
	})
}

// Untrash restores a previously trashed message.
func (a *Actions) Untrash(ctx context.Context, accountID int, externalID string) error {
	return a.post(ctx, "/actions/untrash", map[string]any{
		"account_id":  accountID,
		"external_id": externalID,
	})
}

// SendReply sends a reply in the thread of the given message.
func (a *Actions) SendReply(ctx context.Context, messageID int, content string, replyAll bool) error {
	return a.post(ctx, "/actions/reply", map[string]any{
		"message_id": messageID,
		"content":    content,
		"reply_all":  replyAll,
	})
}
