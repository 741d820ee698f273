package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// insertEvents writes outbox rows inside the caller's transaction.
func insertEvents(ctx context.Context, tx *sqlx.Tx, events []*model.OutboxEvent) error {
	const query = `
		INSERT INTO outbox_events (id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`
	now := time.Now().UTC()
	for _, e := range events {
		if e.Payload == nil {
			return fmt.Errorf("event %s has no payload", e.EventType)
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Status = string(model.OutboxStatusPending)
		e.CreatedAt = now
		e.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query, e.ID, e.EventType, []byte(e.Payload), e.Status, now); err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}
	}
	return nil
}

// translate maps driver errors onto repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return &repository.DuplicateError{Constraint: pqErr.Constraint}
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pqErr.Constraint)
		}
	}
	return err
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
