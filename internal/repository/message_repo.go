package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxpilot/internal/model"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, user_id, account_id, external_id, subject, content, sender, is_urgent, category_id, received_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var m model.Message
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.AccountID,
		&m.ExternalID,
		&m.Subject,
		&m.Content,
		&m.Sender,
		&m.IsUrgent,
		&m.CategoryID,
		&m.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int) (*model.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// GetUnanalyzed returns the user's messages that have no live analysis result
// yet, oldest first so the backlog drains in arrival order.
func (r *MessageRepository) GetUnanalyzed(ctx context.Context, userID int) ([]model.Message, error) {
	query := `
		SELECT m.id, m.user_id, m.account_id, m.external_id, m.subject, m.content,
		       m.sender, m.is_urgent, m.category_id, m.received_at
		FROM messages m
		LEFT JOIN analysis_results ar ON ar.message_id = m.id
		WHERE m.user_id = $1 AND m.deleted_at IS NULL AND ar.message_id IS NULL
		ORDER BY m.received_at ASC
		LIMIT 100
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unanalyzed messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// SetRead flips the read flag. Marking an already-read message read is a
// no-op success, which keeps the offline queue handlers idempotent.
func (r *MessageRepository) SetRead(ctx context.Context, userID int, externalID string, read bool) error {
	query := `UPDATE messages SET is_read = $3 WHERE user_id = $1 AND external_id = $2`
	_, err := r.db.Exec(ctx, query, userID, externalID, read)
	return err
}

func (r *MessageRepository) SetArchived(ctx context.Context, userID int, externalID string, archived bool) error {
	query := `UPDATE messages SET is_archived = $3 WHERE user_id = $1 AND external_id = $2`
	_, err := r.db.Exec(ctx, query, userID, externalID, archived)
	return err
}

func (r *MessageRepository) SetCategory(ctx context.Context, userID int, externalID string, categoryID int) error {
	query := `UPDATE messages SET category_id = $3 WHERE user_id = $1 AND external_id = $2`
	_, err := r.db.Exec(ctx, query, userID, externalID, categoryID)
	return err
}

// MarkDeleted soft-deletes locally after the provider-side trash succeeded.
func (r *MessageRepository) MarkDeleted(ctx context.Context, userID int, externalID string) error {
	query := `UPDATE messages SET deleted_at = NOW() WHERE user_id = $1 AND external_id = $2 AND deleted_at IS NULL`
	_, err := r.db.Exec(ctx, query, userID, externalID)
	return err
}
