package workflow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newType(names ...string) *model.CaseType {
	ct := &model.CaseType{Name: "Lipid Panel"}
	ct.ID = uuid.New()
	for i, n := range names {
		ct.Stages = append(ct.Stages, model.StageTemplate{
			ID:         uuid.New(),
			CaseTypeID: ct.ID,
			Name:       n,
			Order:      i + 1,
		})
	}
	return ct
}

func newCase(ct *model.CaseType) *model.Case {
	c := &model.Case{
		CaseTypeID: ct.ID,
		Stages:     Snapshot(ct),
		Delivery:   model.Delivery{Status: model.DeliveryStatusPending},
	}
	c.ID = uuid.New()
	return c
}

func statuses(c *model.Case) []model.StageStatus {
	out := make([]model.StageStatus, 0, len(c.Stages))
	for _, r := range c.Stages {
		out = append(out, r.Status)
	}
	return out
}

func intp(v int) *int { return &v }

func statusp(s model.StageStatus) *model.StageStatus { return &s }

// requireOrdered checks the cursor invariants on every row.
func requireOrdered(t *testing.T, c *model.Case) {
	t.Helper()
	require.GreaterOrEqual(t, c.CurrentStageOrder, 0)
	require.LessOrEqual(t, c.CurrentStageOrder, c.TotalStages())
	for _, r := range c.Stages {
		switch {
		case r.Order < c.CurrentStageOrder:
			require.Equal(t, model.StageStatusDone, r.Status, "row %d", r.Order)
			require.NotNil(t, r.CompletedAt, "row %d", r.Order)
		case r.Order > c.CurrentStageOrder:
			require.Equal(t, model.StageStatusPending, r.Status, "row %d", r.Order)
			require.Nil(t, r.StartedAt, "row %d", r.Order)
			require.Nil(t, r.CompletedAt, "row %d", r.Order)
		}
	}
	if c.Delivery.Status != model.DeliveryStatusReturned {
		require.Equal(t, DeriveStatus(c.CurrentStageOrder, c.TotalStages()), c.Delivery.Status)
	}
}
