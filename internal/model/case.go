package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StageStatus string

const (
	StageStatusPending    StageStatus = "pending"
	StageStatusInProgress StageStatus = "in_progress"
	StageStatusDone       StageStatus = "done"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StageStatusPending, StageStatusInProgress, StageStatusDone:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusScheduled DeliveryStatus = "scheduled"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusReturned  DeliveryStatus = "returned"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusScheduled, DeliveryStatusDelivered, DeliveryStatusReturned:
		return true
	}
	return false
}

// Audit actions
const (
	AuditActionCaseCreated         = "case_created"
	AuditActionCaseUpdated         = "case_updated"
	AuditActionStageAdvanced       = "stage_advanced"
	AuditActionStageStatusChanged  = "stage_status_changed"
	AuditActionDeliveryOverridden  = "delivery_overridden"
	AuditActionCaseApproved        = "case_approved"
	AuditActionCaseApprovalRevoked = "case_approval_revoked"
	AuditActionStageRemovedCleanup = "stage_removed_cleanup"
	AuditActorSystem               = "SYSTEM"
	AuditActorAutoCompleteOverride = "AUTO_COMPLETE_DELIVERY_OVERRIDE"
)

// CaseStageState is the runtime state of one stage template within a case.
// Order is the template order captured at case creation; only the catalog
// propagator renumbers it.
type CaseStageState struct {
	StageID     uuid.UUID   `json:"stage_id"`
	Order       int         `json:"order"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	AssigneeID  *uuid.UUID  `json:"assignee_id,omitempty"`
	Note        string      `json:"note,omitempty"`
}

// IsComplete reports whether the row is done with a completion timestamp.
func (s *CaseStageState) IsComplete() bool {
	return s.Status == StageStatusDone && s.CompletedAt != nil
}

type StageRows []CaseStageState

func (r StageRows) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

func (r *StageRows) Scan(src interface{}) error {
	return scanJSON(src, r)
}

type Delivery struct {
	Status DeliveryStatus `json:"status"`
	Date   *time.Time     `json:"date"`
}

func (d Delivery) Value() (driver.Value, error) {
	return json.Marshal(d)
}

func (d *Delivery) Scan(src interface{}) error {
	return scanJSON(src, d)
}

type Approval struct {
	Approved bool       `json:"approved"`
	By       *uuid.UUID `json:"by"`
	At       *time.Time `json:"at"`
	Note     string     `json:"note"`
}

func (a Approval) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *Approval) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// AuditEntry is one append-only record of a state-changing action.
type AuditEntry struct {
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	ActorRole string     `json:"actor_role"`
	Action    string     `json:"action"`
	Meta      JSONMap    `json:"meta,omitempty"`
	At        time.Time  `json:"at"`
}

type AuditTrail []AuditEntry

func (a AuditTrail) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *AuditTrail) Scan(src interface{}) error {
	return scanJSON(src, a)
}

type Case struct {
	Base
	Code              string     `json:"code" db:"code"`
	DoctorID          uuid.UUID  `json:"doctor_id" db:"doctor_id"`
	PatientID         uuid.UUID  `json:"patient_id" db:"patient_id"`
	CaseTypeID        uuid.UUID  `json:"case_type_id" db:"case_type_id"`
	Note              string     `json:"note" db:"note"`
	CurrentStageOrder int        `json:"current_stage_order" db:"current_stage_order"`
	Stages            StageRows  `json:"stages" db:"stages"`
	Delivery          Delivery   `json:"delivery" db:"delivery"`
	Approval          Approval   `json:"case_approval" db:"approval"`
	AuditTrail        AuditTrail `json:"audit_trail" db:"audit_trail"`
}

// TotalStages is the number of stage rows the case carries.
func (c *Case) TotalStages() int {
	return len(c.Stages)
}

// Row returns the stage row referencing the given template.
func (c *Case) Row(stageID uuid.UUID) (*CaseStageState, bool) {
	for i := range c.Stages {
		if c.Stages[i].StageID == stageID {
			return &c.Stages[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so a failed mutation never leaks into the original.
func (c *Case) Clone() *Case {
	out := *c
	out.Stages = make(StageRows, len(c.Stages))
	copy(out.Stages, c.Stages)
	out.AuditTrail = make(AuditTrail, len(c.AuditTrail))
	copy(out.AuditTrail, c.AuditTrail)
	return &out
}

type CaseFilters struct {
	Pagination
	DoctorID       *uuid.UUID
	PatientID      *uuid.UUID
	CaseTypeID     *uuid.UUID
	DeliveryStatus *DeliveryStatus
}

type CreateCaseRequest struct {
	DoctorID   uuid.UUID `json:"doctor_id" binding:"required"`
	PatientID  uuid.UUID `json:"patient_id" binding:"required"`
	CaseTypeID uuid.UUID `json:"case_type_id" binding:"required"`
	Note       string    `json:"note"`
}

// PatchCaseRequest edits plain case fields; stage state is never touched.
type PatchCaseRequest struct {
	DoctorID   *uuid.UUID `json:"doctor_id"`
	PatientID  *uuid.UUID `json:"patient_id"`
	CaseTypeID *uuid.UUID `json:"case_type_id"`
	Note       *string    `json:"note"`
}

// AdvanceRequest targets a stage by order or by identity, never both.
type AdvanceRequest struct {
	TargetOrder   *int         `json:"target_order"`
	TargetStageID *uuid.UUID   `json:"target_stage_id"`
	Status        *StageStatus `json:"status" binding:"omitempty,stage_status"`
}

type StageStatusRequest struct {
	Status     StageStatus `json:"status" binding:"required,stage_status"`
	Note       *string     `json:"note"`
	AssigneeID *uuid.UUID  `json:"assignee_id"`
}

type DeliveryRequest struct {
	Status DeliveryStatus `json:"status" binding:"required,delivery_status"`
	Date   *time.Time     `json:"date"`
}

type ApprovalRequest struct {
	Approved bool       `json:"approved"`
	By       *uuid.UUID `json:"by"`
	Note     string     `json:"note"`
}
