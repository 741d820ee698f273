package workflow

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

func TestLipidPanelProgression(t *testing.T) {
	ct := newType("Collect", "Analyze", "Report")
	c := newCase(ct)

	assert.Equal(t, 0, c.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusPending, c.Delivery.Status)

	Advance(c, 1, nil, t0)
	assert.Equal(t, []model.StageStatus{
		model.StageStatusInProgress, model.StageStatusPending, model.StageStatusPending,
	}, statuses(c))
	assert.Equal(t, model.DeliveryStatusPending, c.Delivery.Status)

	Advance(c, 3, nil, t0.Add(time.Minute))
	assert.Equal(t, []model.StageStatus{
		model.StageStatusDone, model.StageStatusDone, model.StageStatusInProgress,
	}, statuses(c))
	assert.Equal(t, model.DeliveryStatusScheduled, c.Delivery.Status)
	assert.Nil(t, c.Delivery.Date)

	tr := Advance(c, 3, statusp(model.StageStatusDone), t0.Add(2*time.Minute))
	assert.Equal(t, []model.StageStatus{
		model.StageStatusDone, model.StageStatusDone, model.StageStatusDone,
	}, statuses(c))
	assert.Equal(t, model.DeliveryStatusDelivered, c.Delivery.Status)
	require.NotNil(t, c.Delivery.Date)
	assert.True(t, tr.Delivered())
	assert.True(t, tr.StatusOverridden)
	assert.Equal(t, model.StageStatusDone, tr.Meta()["status_override"])
}

func TestAdvanceBackfillsSkippedStages(t *testing.T) {
	c := newCase(newType("A", "B", "C", "D"))

	Advance(c, 3, nil, t0)

	for _, r := range c.Stages[:2] {
		require.NotNil(t, r.StartedAt)
		require.NotNil(t, r.CompletedAt)
		assert.Equal(t, t0, *r.StartedAt)
	}
	assert.NotNil(t, c.Stages[2].StartedAt)
	assert.Nil(t, c.Stages[2].CompletedAt)
}

func TestAdvanceBackwardsClearsLaterRows(t *testing.T) {
	c := newCase(newType("A", "B", "C"))
	Advance(c, 3, statusp(model.StageStatusDone), t0)

	Advance(c, 1, nil, t0.Add(time.Hour))

	assert.Equal(t, model.StageStatusInProgress, c.Stages[0].Status)
	assert.Nil(t, c.Stages[0].CompletedAt)
	for _, r := range c.Stages[1:] {
		assert.Equal(t, model.StageStatusPending, r.Status)
		assert.Nil(t, r.StartedAt)
	}
	assert.Equal(t, model.DeliveryStatusPending, c.Delivery.Status)
	assert.Nil(t, c.Delivery.Date)
}

func TestAdvancePendingOverrideClearsStart(t *testing.T) {
	c := newCase(newType("A", "B"))
	Advance(c, 1, nil, t0)

	Advance(c, 1, statusp(model.StageStatusPending), t0)

	assert.Equal(t, model.StageStatusPending, c.Stages[0].Status)
	assert.Nil(t, c.Stages[0].StartedAt)
}

func TestAdvanceIsIdempotent(t *testing.T) {
	c := newCase(newType("A", "B", "C"))

	Advance(c, 2, nil, t0)
	first := c.Clone()
	Advance(c, 2, nil, t0.Add(time.Hour))

	assert.Equal(t, first.Stages, c.Stages)
	assert.Equal(t, first.Delivery, c.Delivery)
	assert.Equal(t, first.CurrentStageOrder, c.CurrentStageOrder)

	Advance(c, 3, statusp(model.StageStatusDone), t0)
	delivered := c.Clone()
	Advance(c, 3, statusp(model.StageStatusDone), t0.Add(time.Hour))
	assert.Equal(t, delivered.Delivery, c.Delivery)
	assert.Equal(t, delivered.Stages, c.Stages)
}

func TestAdvanceReDerivesReturnedDelivery(t *testing.T) {
	c := newCase(newType("A", "B", "C"))
	c.Delivery = Override(model.DeliveryStatusReturned, nil, t0)

	Advance(c, 2, nil, t0)

	assert.Equal(t, model.DeliveryStatusScheduled, c.Delivery.Status)
}

func TestAdvanceRandomSequencesKeepOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	all := []model.StageStatus{model.StageStatusPending, model.StageStatusInProgress, model.StageStatusDone}

	for run := 0; run < 200; run++ {
		n := 1 + rng.Intn(7)
		names := make([]string, n)
		for i := range names {
			names[i] = uuid.NewString()
		}
		c := newCase(newType(names...))
		now := t0

		for step := 0; step < 25; step++ {
			now = now.Add(time.Minute)
			var override *model.StageStatus
			if rng.Intn(3) == 0 {
				override = statusp(all[rng.Intn(len(all))])
			}

			var order *int
			if rng.Intn(4) > 0 {
				order = intp(1 + rng.Intn(n))
			}
			target, err := ResolveTarget(c, order, nil)
			require.NoError(t, err)

			Advance(c, target, override, now)
			requireOrdered(t, c)

			want := model.StageStatusInProgress
			if override != nil {
				want = *override
			}
			row := c.Stages[target-1]
			assert.Equal(t, want, row.Status)
			assert.Equal(t, want == model.StageStatusDone, row.CompletedAt != nil)
			assert.Equal(t, want != model.StageStatusPending, row.StartedAt != nil)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	ct := newType("A", "B", "C")
	c := newCase(ct)

	got, err := ResolveTarget(c, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	c.CurrentStageOrder = 3
	got, err = ResolveTarget(c, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, got, "default target never passes the last stage")

	got, err = ResolveTarget(c, nil, &ct.Stages[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	_, err = ResolveTarget(c, intp(0), nil)
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidTargetOrder))

	_, err = ResolveTarget(c, intp(4), nil)
	assert.True(t, errors.HasReason(err, errors.ReasonInvalidTargetOrder))

	missing := uuid.New()
	_, err = ResolveTarget(c, nil, &missing)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))

	_, err = ResolveTarget(c, intp(1), &ct.Stages[0].ID)
	assert.True(t, errors.HasReason(err, errors.ReasonValidation))

	empty := &model.Case{}
	_, err = ResolveTarget(empty, intp(1), nil)
	assert.True(t, errors.HasReason(err, errors.ReasonNoStagesDefined))
}

func TestSetStageStatusTouchesOneRow(t *testing.T) {
	c := newCase(newType("A", "B", "C"))
	Advance(c, 2, nil, t0)
	before := c.Clone()

	note := "hemolysed sample"
	assignee := uuid.New()
	prev := SetStageStatus(&c.Stages[2], model.StageStatusInProgress, &note, &assignee, t0)

	assert.Equal(t, model.StageStatusPending, prev)
	assert.Equal(t, model.StageStatusInProgress, c.Stages[2].Status)
	assert.Equal(t, note, c.Stages[2].Note)
	assert.Equal(t, assignee, *c.Stages[2].AssigneeID)
	assert.Equal(t, before.Stages[:2], c.Stages[:2])
	assert.Equal(t, before.CurrentStageOrder, c.CurrentStageOrder)
	assert.Equal(t, before.Delivery, c.Delivery)
}
