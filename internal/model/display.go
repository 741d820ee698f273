package model

import (
	"time"

	"github.com/google/uuid"
)

// DisplayStage is a stage row joined with its template for rendering.
type DisplayStage struct {
	StageID      uuid.UUID   `json:"stage_id"`
	Name         string      `json:"name"`
	Color        string      `json:"color"`
	Order        int         `json:"order"`
	AllowedRoles []uuid.UUID `json:"allowed_roles"`
	Status       StageStatus `json:"status"`
	StartedAt    *time.Time  `json:"started_at"`
	CompletedAt  *time.Time  `json:"completed_at"`
	AssigneeID   *uuid.UUID  `json:"assignee_id,omitempty"`
	Note         string      `json:"note,omitempty"`
	Current      bool        `json:"current"`
	Missing      bool        `json:"missing,omitempty"`
}

// DisplayCase is a read-side projection; nothing writes it back.
type DisplayCase struct {
	ID                uuid.UUID      `json:"id"`
	Code              string         `json:"code"`
	DoctorID          uuid.UUID      `json:"doctor_id"`
	PatientID         uuid.UUID      `json:"patient_id"`
	CaseTypeID        uuid.UUID      `json:"case_type_id"`
	CaseTypeName      string         `json:"case_type_name"`
	Note              string         `json:"note"`
	CurrentStageOrder int            `json:"current_stage_order"`
	TotalStages       int            `json:"total_stages"`
	CurrentStageName  string         `json:"current_stage_name,omitempty"`
	Progress          float64        `json:"progress"`
	Stages            []DisplayStage `json:"stages"`
	Delivery          Delivery       `json:"delivery"`
	Approval          Approval       `json:"case_approval"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
