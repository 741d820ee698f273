package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Unique constraints callers tell apart.
const (
	ConstraintCaseTypeName = "case_types_name_key"
	ConstraintStageOrder   = "stage_templates_order_key"
)

// DuplicateError names the unique constraint a write violated. It matches
// ErrDuplicate under errors.Is.
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return ErrDuplicate.Error() + ": " + e.Constraint
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// CaseChange is what a mutation appends alongside the rewritten case.
type CaseChange struct {
	Audit  model.AuditEntry
	Events []*model.OutboxEvent
}

// CaseMutator edits a locked case in place. Returning an error aborts the
// write and leaves the stored case untouched.
type CaseMutator func(c *model.Case) (*CaseChange, error)

// All repository interfaces in one file
type (
	CaseRepository interface {
		Create(ctx context.Context, c *model.Case, events []*model.OutboxEvent) error
		Get(ctx context.Context, id uuid.UUID) (*model.Case, error)
		List(ctx context.Context, filters *model.CaseFilters) ([]*model.Case, int, error)
		// Transition locks the case, applies fn and persists the case, the
		// audit entry and the events in one transaction.
		Transition(ctx context.Context, id uuid.UUID, fn CaseMutator) (*model.Case, error)
		Delete(ctx context.Context, id uuid.UUID) error
		CountByStage(ctx context.Context, stageID uuid.UUID) (int, error)
		CountByType(ctx context.Context, typeID uuid.UUID) (int, error)
	}

	CatalogRepository interface {
		CreateType(ctx context.Context, ct *model.CaseType) error
		GetType(ctx context.Context, id uuid.UUID) (*model.CaseType, error)
		ListTypes(ctx context.Context) ([]*model.CaseType, error)
		RenameType(ctx context.Context, id uuid.UUID, name string) error
		DeleteType(ctx context.Context, id uuid.UUID) error
		// ReplaceStages writes the full stage list of a type, keeping the
		// identity of every stage that is still present.
		ReplaceStages(ctx context.Context, typeID uuid.UUID, stages []model.StageTemplate) error
		// RemoveStage replaces the stage list and runs reconcile on every case
		// referencing removedID, all in one transaction.
		RemoveStage(ctx context.Context, typeID uuid.UUID, remaining []model.StageTemplate, removedID uuid.UUID, reconcile CaseMutator, events []*model.OutboxEvent) (int, error)
	}

	RBACRepository interface {
		GetUserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
		// MissingRoles returns the ids that do not name an existing role.
		MissingRoles(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
		HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
		UpsertRole(ctx context.Context, role *model.Role, permissions []string) error
		AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	}

	OutboxRepository interface {
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		// MarkFailed records a failed publish; a nil retryAt makes it terminal.
		MarkFailed(ctx context.Context, id uuid.UUID, msg string, retryAt *time.Time) error
		CountPending(ctx context.Context) (int, error)
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
