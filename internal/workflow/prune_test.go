package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
)

func TestPruneCurrentStage(t *testing.T) {
	ct := newType("A", "B", "C")
	c := newCase(ct)
	Advance(c, 2, nil, t0)
	removed := ct.Stages[1].ID

	out, ok := PruneStage(c, removed, t0)

	require.True(t, ok)
	assert.Len(t, c.Stages, 2)
	_, still := c.Row(removed)
	assert.False(t, still)
	assert.LessOrEqual(t, c.CurrentStageOrder, 2)
	assert.Equal(t, []int{1, 2}, []int{c.Stages[0].Order, c.Stages[1].Order})
	assert.Equal(t, 2, out.RemovedOrder)
	assert.Equal(t, DeriveStatus(c.CurrentStageOrder, 2), c.Delivery.Status)
	requireOrdered(t, c)
}

func TestPruneEarlierStageShiftsCursor(t *testing.T) {
	ct := newType("A", "B", "C", "D")
	c := newCase(ct)
	Advance(c, 3, nil, t0)

	out, ok := PruneStage(c, ct.Stages[0].ID, t0)

	require.True(t, ok)
	assert.Equal(t, 2, c.CurrentStageOrder)
	assert.Equal(t, ct.Stages[2].ID, c.Stages[1].StageID)
	assert.Equal(t, model.StageStatusInProgress, c.Stages[1].Status)
	assert.Equal(t, model.DeliveryStatusScheduled, c.Delivery.Status)
	assert.Equal(t, 3, out.FromOrder)
	assert.Equal(t, 2, out.ToOrder)
	requireOrdered(t, c)
}

func TestPruneLastStageOfFinishedCase(t *testing.T) {
	ct := newType("A", "B", "C")
	c := newCase(ct)
	Advance(c, 3, nil, t0)

	PruneStage(c, ct.Stages[2].ID, t0)

	assert.Equal(t, 2, c.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusDelivered, c.Delivery.Status)
	requireOrdered(t, c)
}

func TestPruneKeepsReturned(t *testing.T) {
	ct := newType("A", "B")
	c := newCase(ct)
	c.Delivery = Override(model.DeliveryStatusReturned, nil, t0)

	PruneStage(c, ct.Stages[0].ID, t0)

	assert.Equal(t, model.DeliveryStatusReturned, c.Delivery.Status)
}

func TestPruneUnknownStage(t *testing.T) {
	c := newCase(newType("A"))
	_, ok := PruneStage(c, uuid.New(), t0)
	assert.False(t, ok)
	assert.Len(t, c.Stages, 1)
}
