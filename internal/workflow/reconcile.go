package workflow

import (
	"time"

	"github.com/jwalitptl/labcase-api/internal/model"
)

// ApprovalOutcome reports what Approve changed.
type ApprovalOutcome struct {
	AutoCompleted bool
	ForcedStages  int
	PrevDelivery  model.DeliveryStatus
}

// Delivered reports whether approval moved the case into delivered.
func (o ApprovalOutcome) Delivered(c *model.Case) bool {
	return c.Delivery.Status == model.DeliveryStatusDelivered && o.PrevDelivery != model.DeliveryStatusDelivered
}

// ForceComplete marks every open row done and returns how many it touched.
// No stage-level role check applies here: approval authority supersedes it.
func ForceComplete(c *model.Case, now time.Time) int {
	forced := 0
	for i := range c.Stages {
		if !c.Stages[i].IsComplete() {
			markDone(&c.Stages[i], now)
			forced++
		}
	}
	return forced
}

// Approve applies an approval decision. Approving force-completes open rows,
// moves the cursor to the end and promotes delivery unless it was returned.
// Revoking only rewrites the approval block.
func Approve(c *model.Case, req model.ApprovalRequest, now time.Time) ApprovalOutcome {
	out := ApprovalOutcome{PrevDelivery: c.Delivery.Status}

	if !req.Approved {
		c.Approval = model.Approval{Approved: false, By: req.By, Note: req.Note}
		return out
	}

	out.ForcedStages = ForceComplete(c, now)
	out.AutoCompleted = out.ForcedStages > 0
	c.CurrentStageOrder = c.TotalStages()

	if c.Delivery.Status != model.DeliveryStatusReturned {
		c.Delivery.Status = model.DeliveryStatusDelivered
		if c.Delivery.Date == nil {
			c.Delivery.Date = stamp(now)
		}
	}

	c.Approval = model.Approval{Approved: true, By: req.By, At: stamp(now), Note: req.Note}
	return out
}

// ReopenApproval clears an approval the stage rows no longer support. An
// approved case must have every row complete, so a rewind or a per-stage edit
// that reopens a row withdraws it. Reports whether the approval was cleared.
func ReopenApproval(c *model.Case) bool {
	if !c.Approval.Approved {
		return false
	}
	for i := range c.Stages {
		if !c.Stages[i].IsComplete() {
			c.Approval.Approved = false
			c.Approval.At = nil
			return true
		}
	}
	return false
}
