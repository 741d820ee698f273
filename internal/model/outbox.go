package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Outbox event types
const (
	EventCaseAdvanced           = "case.advanced"
	EventCaseStageStatusChanged = "case.stage_status_changed"
	EventCaseDeliveryOverridden = "case.delivery_overridden"
	EventCaseApproved           = "case.approved"
	EventCaseDelivered          = "case.delivered"
	EventCatalogStageRemoved    = "catalog.stage_removed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
}

// CaseEventPayload is the body of every case.* event.
type CaseEventPayload struct {
	CaseID            uuid.UUID      `json:"case_id"`
	Code              string         `json:"code"`
	CaseTypeID        uuid.UUID      `json:"case_type_id"`
	DoctorID          uuid.UUID      `json:"doctor_id"`
	CurrentStageOrder int            `json:"current_stage_order"`
	TotalStages       int            `json:"total_stages"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	Approved          bool           `json:"approved"`
	Action            string         `json:"action"`
	OccurredAt        time.Time      `json:"occurred_at"`
}
