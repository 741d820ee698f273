package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

// Transition describes what Advance did, for the audit entry and the
// outbox event.
type Transition struct {
	FromOrder        int
	ToOrder          int
	Status           model.StageStatus
	StatusOverridden bool
	PrevDelivery     model.DeliveryStatus
	Delivery         model.DeliveryStatus
}

// Meta renders the transition for the audit trail.
func (t Transition) Meta() model.JSONMap {
	meta := model.JSONMap{
		"from_order":    t.FromOrder,
		"to_order":      t.ToOrder,
		"status":        t.Status,
		"rbac":          "allowed",
		"delivery_from": t.PrevDelivery,
		"delivery_to":   t.Delivery,
	}
	if t.StatusOverridden {
		meta["status_override"] = t.Status
	}
	return meta
}

// Delivered reports whether this transition moved the case into delivered.
func (t Transition) Delivered() bool {
	return t.Delivery == model.DeliveryStatusDelivered && t.PrevDelivery != model.DeliveryStatusDelivered
}

// ResolveTarget turns an explicit order, a stage identity or neither into a
// target order within [1, N].
func ResolveTarget(c *model.Case, order *int, stageID *uuid.UUID) (int, error) {
	total := c.TotalStages()
	if total == 0 {
		return 0, errors.NoStagesDefined()
	}
	if order != nil && stageID != nil {
		return 0, errors.BadRequest("target_order and target_stage_id are mutually exclusive", nil)
	}

	switch {
	case stageID != nil:
		row, ok := c.Row(*stageID)
		if !ok {
			return 0, errors.NotFound("stage", nil)
		}
		return row.Order, nil
	case order != nil:
		if *order < 1 || *order > total {
			return 0, errors.InvalidTargetOrder(*order, total)
		}
		return *order, nil
	default:
		next := c.CurrentStageOrder + 1
		if next > total {
			next = total
		}
		return next, nil
	}
}

// Advance moves the cursor to target and rewrites every row relative to it.
// Rows before the target are done, rows after it are pending, and the target
// row takes status or in_progress. Timestamps that are already set survive,
// so advancing twice to the same order changes nothing the second time.
func Advance(c *model.Case, target int, status *model.StageStatus, now time.Time) Transition {
	t := Transition{
		FromOrder:    c.CurrentStageOrder,
		ToOrder:      target,
		Status:       model.StageStatusInProgress,
		PrevDelivery: c.Delivery.Status,
	}
	if status != nil {
		t.Status = *status
		t.StatusOverridden = true
	}

	for i := range c.Stages {
		row := &c.Stages[i]
		switch {
		case row.Order < target:
			markDone(row, now)
		case row.Order > target:
			markPending(row)
		default:
			apply(row, t.Status, now)
		}
	}

	c.CurrentStageOrder = target
	c.Delivery = DeriveDelivery(target, c.TotalStages(), c.Delivery, now)
	t.Delivery = c.Delivery.Status
	return t
}

// SetStageStatus edits one row without moving the cursor.
func SetStageStatus(row *model.CaseStageState, status model.StageStatus, note *string, assignee *uuid.UUID, now time.Time) model.StageStatus {
	prev := row.Status
	apply(row, status, now)
	if note != nil {
		row.Note = *note
	}
	if assignee != nil {
		row.AssigneeID = assignee
	}
	return prev
}

func apply(row *model.CaseStageState, status model.StageStatus, now time.Time) {
	switch status {
	case model.StageStatusDone:
		markDone(row, now)
	case model.StageStatusPending:
		markPending(row)
	default:
		row.Status = model.StageStatusInProgress
		if row.StartedAt == nil {
			row.StartedAt = stamp(now)
		}
		row.CompletedAt = nil
	}
}

func markDone(row *model.CaseStageState, now time.Time) {
	row.Status = model.StageStatusDone
	if row.StartedAt == nil {
		row.StartedAt = stamp(now)
	}
	if row.CompletedAt == nil {
		row.CompletedAt = stamp(now)
	}
}

func markPending(row *model.CaseStageState) {
	row.Status = model.StageStatusPending
	row.StartedAt = nil
	row.CompletedAt = nil
}
