// Package event builds the outbox events written alongside case and catalog
// mutations. Events are persisted by the repositories in the same transaction
// as the change they describe; publishing is left to the worker.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
)

func newEvent(eventType string, payload interface{}, now time.Time) (*model.OutboxEvent, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payloadJSON,
		Status:    string(model.OutboxStatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// CaseEvent snapshots the case as it stands after the mutation.
func CaseEvent(eventType string, c *model.Case, action string, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(eventType, model.CaseEventPayload{
		CaseID:            c.ID,
		Code:              c.Code,
		CaseTypeID:        c.CaseTypeID,
		DoctorID:          c.DoctorID,
		CurrentStageOrder: c.CurrentStageOrder,
		TotalStages:       c.TotalStages(),
		DeliveryStatus:    c.Delivery.Status,
		Approved:          c.Approval.Approved,
		Action:            action,
		OccurredAt:        now,
	}, now)
}

// CaseEvents returns the primary event plus case.delivered when the mutation
// moved the case into delivered.
func CaseEvents(eventType string, c *model.Case, action string, delivered bool, now time.Time) ([]*model.OutboxEvent, error) {
	primary, err := CaseEvent(eventType, c, action, now)
	if err != nil {
		return nil, err
	}
	events := []*model.OutboxEvent{primary}
	if delivered {
		e, err := CaseEvent(model.EventCaseDelivered, c, action, now)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

type StageRemovedPayload struct {
	CaseTypeID    uuid.UUID `json:"case_type_id"`
	StageID       uuid.UUID `json:"stage_id"`
	StageName     string    `json:"stage_name"`
	RemovedOrder  int       `json:"removed_order"`
	AffectedCases int       `json:"affected_cases"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func StageRemoved(typeID uuid.UUID, stage *model.StageTemplate, affected int, now time.Time) (*model.OutboxEvent, error) {
	return newEvent(model.EventCatalogStageRemoved, StageRemovedPayload{
		CaseTypeID:    typeID,
		StageID:       stage.ID,
		StageName:     stage.Name,
		RemovedOrder:  stage.Order,
		AffectedCases: affected,
		OccurredAt:    now,
	}, now)
}
