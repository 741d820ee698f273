package model

import (
	"time"

	"github.com/google/uuid"
)

// StageTemplate is one step of a case type's workflow. An empty AllowedRoles
// set means any authenticated role may act on the stage.
type StageTemplate struct {
	ID           uuid.UUID   `json:"id" db:"id"`
	CaseTypeID   uuid.UUID   `json:"case_type_id" db:"case_type_id"`
	Name         string      `json:"name" db:"name"`
	Order        int         `json:"order" db:"stage_order"`
	Color        string      `json:"color" db:"color"`
	AllowedRoles []uuid.UUID `json:"allowed_roles" db:"-"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the stage accepts any authenticated role.
func (s *StageTemplate) IsOpen() bool {
	return len(s.AllowedRoles) == 0
}

// CaseType is a catalog entry: a named, densely ordered list of stages.
type CaseType struct {
	Base
	Name   string          `json:"name" db:"name"`
	Stages []StageTemplate `json:"stages" db:"-"`
}

// Stage returns the template with the given identity.
func (t *CaseType) Stage(id uuid.UUID) (*StageTemplate, bool) {
	for i := range t.Stages {
		if t.Stages[i].ID == id {
			return &t.Stages[i], true
		}
	}
	return nil, false
}

type CreateCaseTypeRequest struct {
	Name   string                 `json:"name" binding:"required"`
	Stages []StageTemplateRequest `json:"stages" binding:"dive"`
}

type RenameCaseTypeRequest struct {
	Name string `json:"name" binding:"required"`
}

// StageTemplateRequest creates a stage. Stored orders are always positive:
// Order is the requested 1-based position, and 0 (or anything past the end)
// appends. Negative orders are rejected.
type StageTemplateRequest struct {
	Name         string      `json:"name" binding:"required"`
	Order        int         `json:"order" binding:"gte=0"`
	Color        string      `json:"color"`
	AllowedRoles []uuid.UUID `json:"allowed_roles"`
}

// UpdateStageRequest patches a stage; nil fields are left untouched.
type UpdateStageRequest struct {
	Name         *string      `json:"name"`
	Order        *int         `json:"order" binding:"omitempty,gte=1"`
	Color        *string      `json:"color"`
	AllowedRoles *[]uuid.UUID `json:"allowed_roles"`
}

type ReorderStagesRequest struct {
	StageIDs []uuid.UUID `json:"stage_ids" binding:"required,min=1"`
}
