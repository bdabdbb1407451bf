package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxpilot/internal/model"
)

type AnalysisRepository struct {
	db *pgxpool.Pool
}

func NewAnalysisRepository(db *pgxpool.Pool) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Upsert stores the analysis result keyed by message ID. Re-analysis
// overwrites in place; there is never more than one live result per message.
func (r *AnalysisRepository) Upsert(ctx context.Context, res *model.AnalysisResult) error {
	query := `
		INSERT INTO analysis_results (
			message_id, spam_probability, is_spam, needs_response, response_confidence,
			sentiment, priority_level, generated_reply, reasoning, analysis_version, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (message_id) DO UPDATE SET
			spam_probability    = EXCLUDED.spam_probability,
			is_spam             = EXCLUDED.is_spam,
			needs_response      = EXCLUDED.needs_response,
			response_confidence = EXCLUDED.response_confidence,
			sentiment           = EXCLUDED.sentiment,
			priority_level      = EXCLUDED.priority_level,
			generated_reply     = EXCLUDED.generated_reply,
			reasoning           = EXCLUDED.reasoning,
			analysis_version    = EXCLUDED.analysis_version,
			updated_at          = NOW()
	`

	_, err := r.db.Exec(ctx, query,
		res.MessageID,
		res.SpamProbability,
		res.IsSpam,
		res.NeedsResponse,
		res.ResponseConfidence,
		res.Sentiment,
		res.PriorityLevel,
		res.GeneratedReply,
		res.Reasoning,
		res.AnalysisVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert analysis result: %w", err)
	}
	return nil
}

func (r *AnalysisRepository) GetByMessageID(ctx context.Context, messageID int) (*model.AnalysisResult, error) {
	query := `
		SELECT message_id, spam_probability, is_spam, needs_response, response_confidence,
		       sentiment, priority_level, generated_reply, reasoning, analysis_version, updated_at
		FROM analysis_results
		WHERE message_id = $1
	`

	var res model.AnalysisResult
	err := r.db.QueryRow(ctx, query, messageID).Scan(
		&res.MessageID,
		&res.SpamProbability,
		&res.IsSpam,
		&res.NeedsResponse,
		&res.ResponseConfidence,
		&res.Sentiment,
		&res.PriorityLevel,
		&res.GeneratedReply,
		&res.Reasoning,
		&res.AnalysisVersion,
		&res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis result: %w", err)
	}
	return &res, nil
}
