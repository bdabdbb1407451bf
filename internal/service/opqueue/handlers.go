package opqueue

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"inboxpilot/internal/model"
)

// dispatch routes one claimed operation to its handler. The switch is
// exhaustive over the operation enum; Enqueue already rejected anything else.
// Handlers are idempotent at the business layer: marking an already-read
// message read is a no-op success.
func (q *Queue) dispatch(ctx context.Context, op *model.QueuedOperation) error {
	switch op.Type {
	case model.OpMarkRead:
		return q.flags.SetRead(ctx, op.UserID, op.ResourceRef, true)

	case model.OpMarkUnread:
		return q.flags.SetRead(ctx, op.UserID, op.ResourceRef, false)

	case model.OpArchive:
		return q.flags.SetArchived(ctx, op.UserID, op.ResourceRef, true)

	case model.OpUnarchive:
		return q.flags.SetArchived(ctx, op.UserID, op.ResourceRef, false)

	case model.OpCategorize:
		var p model.CategorizePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("json: categorize payload: %w", err)
		}
		return q.flags.SetCategory(ctx, op.UserID, op.ResourceRef, p.CategoryID)

	case model.OpSendReply:
		var p model.ReplyPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("json: reply payload: %w", err)
		}
		return q.mail.SendReply(ctx, p.MessageID, p.Content, p.ReplyAll)

	case model.OpDelete:
		var p model.DeletePayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return fmt.Errorf("json: delete payload: %w", err)
		}
		if err := q.mail.Trash(ctx, p.AccountID, op.ResourceRef); err != nil {
			return err
		}
		if err := q.flags.MarkDeleted(ctx, op.UserID, op.ResourceRef); err != nil {
			// Provider delete succeeded; the local mirror heals on next sync.
			q.logger.Error("Failed to mirror delete locally",
				zap.String("operation_id", op.ID.String()),
				zap.Error(err),
			)
		}
		return nil
	}

	return fmt.Errorf("unknown operation type %q", op.Type)
}
