package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

type OutboxRepository struct {
	s *Store
}

var _ repository.OutboxRepository = (*OutboxRepository)(nil)

func (r *OutboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.stamp()
	var out []*model.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status != string(model.OutboxStatusPending) {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := r.s.stamp()
	e.Status = string(model.OutboxStatusProcessed)
	e.ProcessedAt = &now
	e.UpdatedAt = now
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, msg string, retryAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.outbox[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.ErrorMessage = &msg
	e.RetryCount++
	e.RetryAt = retryAt
	e.UpdatedAt = r.s.stamp()
	if retryAt == nil {
		e.Status = string(model.OutboxStatusFailed)
	}
	return nil
}

func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, e := range r.s.outbox {
		if e.Status == string(model.OutboxStatusPending) {
			n++
		}
	}
	return n, nil
}

func (r *OutboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for id, e := range r.s.outbox {
		if e.Status == string(model.OutboxStatusProcessed) && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			delete(r.s.outbox, id)
			n++
		}
	}
	return n, nil
}
