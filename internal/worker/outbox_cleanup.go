package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/labcase-api/internal/repository"
)

// OutboxCleanupWorker deletes processed outbox events once they are older
// than the retention window.
type OutboxCleanupWorker struct {
	repo            repository.OutboxRepository
	retention       time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, retention, cleanupInterval time.Duration) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:            repo,
		retention:       retention,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				log.Error().Err(err).Msg("Error cleaning up outbox events")
			}
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup outbox events: %w", err)
	}

	log.Info().Int64("rows", rows).Time("cutoff", cutoff).Msg("Cleaned up processed outbox events")
	return rows, nil
}
