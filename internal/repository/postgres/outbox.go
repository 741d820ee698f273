package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

// claimLease hides a claimed event from other workers until it is marked or
// the lease runs out.
const claimLease = time.Minute

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET retry_at = NOW() + $2::interval
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = 'pending'
			AND (retry_at IS NULL OR retry_at <= NOW())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_type, payload, status, error_message, retry_count, retry_at,
			processed_at, created_at, updated_at
	`
	events := []*model.OutboxEvent{}
	lease := fmt.Sprintf("%d seconds", int(claimLease.Seconds()))
	if err := r.db.SelectContext(ctx, &events, query, limit, lease); err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = 'processed', processed_at = NOW(), retry_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return requireRow(result)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, msg string, retryAt *time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = CASE WHEN $3::timestamptz IS NULL THEN 'failed' ELSE status END,
			error_message = $2,
			retry_count = retry_count + 1,
			retry_at = $3,
			updated_at = NOW()
		WHERE id = $1`, id, msg, retryAt)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return requireRow(result)
}

func (r *outboxRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM outbox_events WHERE status = 'pending'`); err != nil {
		return 0, fmt.Errorf("failed to count pending events: %w", err)
	}
	return n, nil
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox_events
		WHERE status = 'processed'
		AND processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	return result.RowsAffected()
}
