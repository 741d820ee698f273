package workflow

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
)

// Cleanup describes the effect of PruneStage on one case.
type Cleanup struct {
	RemovedOrder int
	FromOrder    int
	ToOrder      int
	PrevDelivery model.DeliveryStatus
	Delivery     model.DeliveryStatus
}

func (c Cleanup) Meta(stageID uuid.UUID) model.JSONMap {
	return model.JSONMap{
		"removed_stage_id": stageID,
		"removed_order":    c.RemovedOrder,
		"from_order":       c.FromOrder,
		"to_order":         c.ToOrder,
		"delivery_from":    c.PrevDelivery,
		"delivery_to":      c.Delivery,
		"forced":           true,
	}
}

// PruneStage strips the row referencing stageID, renumbers the remaining rows
// and pulls the cursor back so it never points past the new stage count.
// A cursor past the removed stage shifts down with its row; a cursor on the
// removed stage stays put, clamped to the new total. A returned delivery is
// kept; anything else is re-derived.
func PruneStage(c *model.Case, stageID uuid.UUID, now time.Time) (Cleanup, bool) {
	idx := -1
	for i := range c.Stages {
		if c.Stages[i].StageID == stageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Cleanup{}, false
	}

	out := Cleanup{
		RemovedOrder: c.Stages[idx].Order,
		FromOrder:    c.CurrentStageOrder,
		PrevDelivery: c.Delivery.Status,
	}

	rows := make(model.StageRows, 0, len(c.Stages)-1)
	rows = append(rows, c.Stages[:idx]...)
	rows = append(rows, c.Stages[idx+1:]...)
	c.Stages = RenumberRows(rows)

	cursor := c.CurrentStageOrder
	if cursor > out.RemovedOrder {
		cursor--
	}
	if cursor > len(c.Stages) {
		cursor = len(c.Stages)
	}
	c.CurrentStageOrder = cursor
	out.ToOrder = cursor

	if c.Delivery.Status != model.DeliveryStatusReturned {
		c.Delivery = DeriveDelivery(cursor, len(c.Stages), c.Delivery, now)
	}
	out.Delivery = c.Delivery.Status
	return out, true
}

// RenumberRows sorts case rows by their order and reassigns 1..N.
func RenumberRows(rows model.StageRows) model.StageRows {
	out := make(model.StageRows, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}
