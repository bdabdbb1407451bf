package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxpilot/internal/model"
)

type OperationRepository struct {
	db *pgxpool.Pool
}

func NewOperationRepository(db *pgxpool.Pool) *OperationRepository {
	return &OperationRepository{db: db}
}

const operationColumns = `id, user_id, op_type, resource_ref, payload, status, priority,
	retry_count, max_retries, last_error, created_at, processed_at`

func scanOperation(row pgx.Row) (*model.QueuedOperation, error) {
	var op model.QueuedOperation
	err := row.Scan(
		&op.ID,
		&op.UserID,
		&op.Type,
		&op.ResourceRef,
		&op.Payload,
		&op.Status,
		&op.Priority,
		&op.RetryCount,
		&op.MaxRetries,
		&op.LastError,
		&op.CreatedAt,
		&op.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *OperationRepository) Insert(ctx context.Context, op *model.QueuedOperation) error {
	query := `
		INSERT INTO queued_operations (
			id, user_id, op_type, resource_ref, payload, status, priority,
			retry_count, max_retries, last_error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		op.ID,
		op.UserID,
		op.Type,
		op.ResourceRef,
		op.Payload,
		op.Status,
		op.Priority,
		op.RetryCount,
		op.MaxRetries,
		op.LastError,
	).Scan(&op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert queued operation: %w", err)
	}
	return nil
}

func (r *OperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.QueuedOperation, error) {
	query := `SELECT ` + operationColumns + ` FROM queued_operations WHERE id = $1`

	op, err := scanOperation(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query operation: %w", err)
	}
	return op, nil
}

// ListPending returns the user's pending operations in drain order: priority
// descending, then FIFO by creation time within equal priority.
func (r *OperationRepository) ListPending(ctx context.Context, userID int) ([]model.QueuedOperation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM queued_operations
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []model.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// ClaimProcessing atomically moves a pending operation to processing.
// Returns false when the row was not pending, which makes duplicate
// processing triggers a no-op.
func (r *OperationRepository) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE queued_operations
		SET status = 'processing'
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim operation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finish writes the post-execution state: completed, failed, or back to
// pending with the retry count bumped.
func (r *OperationRepository) Finish(ctx context.Context, op *model.QueuedOperation) error {
	query := `
		UPDATE queued_operations
		SET status = $2, retry_count = $3, last_error = $4, processed_at = $5
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, op.ID, op.Status, op.RetryCount, op.LastError, op.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to finish operation: %w", err)
	}
	return nil
}

// ResetForRetry is the explicit operator path out of the failed terminal
// state. Returns false when the operation was not failed.
func (r *OperationRepository) ResetForRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE queued_operations
		SET status = 'pending', retry_count = 0, last_error = '', processed_at = NULL
		WHERE id = $1 AND status = 'failed'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset operation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
