package catalog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
	"github.com/jwalitptl/labcase-api/internal/repository/memory"
	"github.com/jwalitptl/labcase-api/internal/service/rbac"
	"github.com/jwalitptl/labcase-api/internal/workflow"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

type fixture struct {
	store *memory.Store
	rbac  *rbac.Service
	svc   *Service
	m     *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	roles := rbac.NewService(store.RBAC(), time.Minute)
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	return &fixture{
		store: store,
		rbac:  roles,
		svc:   NewService(store.Catalog(), store.Cases(), roles, m, time.Minute),
		m:     m,
	}
}

func (f *fixture) lipidPanel(t *testing.T) *model.CaseType {
	t.Helper()
	ct, err := f.svc.CreateCaseType(context.Background(), &model.CreateCaseTypeRequest{
		Name: "Lipid Panel",
		Stages: []model.StageTemplateRequest{
			{Name: "Collect"},
			{Name: "Centrifuge"},
			{Name: "Analyze"},
			{Name: "Review"},
		},
	})
	require.NoError(t, err)
	return ct
}

func (f *fixture) newCase(t *testing.T, ct *model.CaseType, cursor int) *model.Case {
	t.Helper()
	c := &model.Case{
		DoctorID:   uuid.New(),
		PatientID:  uuid.New(),
		CaseTypeID: ct.ID,
		Stages:     workflow.Snapshot(ct),
		Delivery:   model.Delivery{Status: model.DeliveryStatusPending},
	}
	if cursor > 0 {
		workflow.Advance(c, cursor, nil, time.Now())
	}
	require.NoError(t, f.store.Cases().Create(context.Background(), c, nil))
	return c
}

func stageNames(ct *model.CaseType) []string {
	out := make([]string, len(ct.Stages))
	for i, s := range ct.Stages {
		out[i] = s.Name
	}
	return out
}

func TestCreateCaseType(t *testing.T) {
	f := newFixture(t)
	ct := f.lipidPanel(t)

	assert.Equal(t, []string{"Collect", "Centrifuge", "Analyze", "Review"}, stageNames(ct))
	for i, s := range ct.Stages {
		assert.Equal(t, i+1, s.Order)
		assert.NotEqual(t, uuid.Nil, s.ID)
	}

	_, err := f.svc.CreateCaseType(context.Background(), &model.CreateCaseTypeRequest{Name: "lipid panel"})
	assert.True(t, errors.IsCode(err, errors.ErrConflict))

	_, err = f.svc.CreateCaseType(context.Background(), &model.CreateCaseTypeRequest{Name: "  "})
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))
}

func TestCreateCaseTypeRejectsUnknownRoles(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCaseType(context.Background(), &model.CreateCaseTypeRequest{
		Name:   "Biopsy",
		Stages: []model.StageTemplateRequest{{Name: "Grossing", AllowedRoles: []uuid.UUID{uuid.New()}}},
	})
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))

	types, err := f.svc.ListCaseTypes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, types)
}

func TestAddUpdateAndReorderStages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)

	ct, err := f.svc.AddStage(ctx, ct.ID, &model.StageTemplateRequest{Name: "Label", Order: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"Collect", "Label", "Centrifuge", "Analyze", "Review"}, stageNames(ct))

	ct, err = f.svc.AddStage(ctx, ct.ID, &model.StageTemplateRequest{Name: "Archive"})
	require.NoError(t, err)
	assert.Equal(t, "Archive", ct.Stages[5].Name)

	review := ct.Stages[4]
	first := 1
	name := "Final review"
	ct, err = f.svc.UpdateStage(ctx, ct.ID, review.ID, &model.UpdateStageRequest{Name: &name, Order: &first})
	require.NoError(t, err)
	assert.Equal(t, review.ID, ct.Stages[0].ID)
	assert.Equal(t, "Final review", ct.Stages[0].Name)

	ids := make([]uuid.UUID, len(ct.Stages))
	for i, s := range ct.Stages {
		ids[len(ct.Stages)-1-i] = s.ID
	}
	ct, err = f.svc.ReorderStages(ctx, ct.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, review.ID, ct.Stages[len(ct.Stages)-1].ID)

	_, err = f.svc.ReorderStages(ctx, ct.ID, ids[1:])
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))

	_, err = f.svc.UpdateStage(ctx, ct.ID, uuid.New(), &model.UpdateStageRequest{Name: &name})
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestUpdateStageAllowedRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)
	tech := &model.Role{Name: "technician"}
	require.NoError(t, f.rbac.UpsertRole(ctx, tech, nil))

	roles := []uuid.UUID{tech.ID}
	ct, err := f.svc.UpdateStage(ctx, ct.ID, ct.Stages[2].ID, &model.UpdateStageRequest{AllowedRoles: &roles})
	require.NoError(t, err)
	assert.Equal(t, roles, ct.Stages[2].AllowedRoles)
	assert.Equal(t, "Analyze", ct.Stages[2].Name)

	bad := []uuid.UUID{uuid.New()}
	_, err = f.svc.UpdateStage(ctx, ct.ID, ct.Stages[2].ID, &model.UpdateStageRequest{AllowedRoles: &bad})
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))
}

func TestRemoveStageInUseWithoutForce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)
	f.newCase(t, ct, 2)
	f.newCase(t, ct, 0)

	_, _, err := f.svc.RemoveStage(ctx, ct.ID, ct.Stages[1].ID, false)
	require.Error(t, err)
	assert.True(t, errors.HasReason(err, errors.ReasonStageInUse))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 2, appErr.Details["count"])

	got, err := f.svc.GetCaseType(ctx, ct.ID)
	require.NoError(t, err)
	assert.Len(t, got.Stages, 4)
}

func TestRemoveStageForceReconcilesCases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)
	centrifuge := ct.Stages[1].ID

	atCentrifuge := f.newCase(t, ct, 2)
	atAnalyze := f.newCase(t, ct, 3)
	atReview := f.newCase(t, ct, 4)

	updated, affected, err := f.svc.RemoveStage(ctx, ct.ID, centrifuge, true)
	require.NoError(t, err)
	assert.Equal(t, 3, affected)
	assert.Equal(t, []string{"Collect", "Analyze", "Review"}, stageNames(updated))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.m.CascadedCases))

	c, err := f.store.Cases().Get(ctx, atCentrifuge.ID)
	require.NoError(t, err)
	assert.Len(t, c.Stages, 3)
	assert.Equal(t, 2, c.CurrentStageOrder)
	_, still := c.Row(centrifuge)
	assert.False(t, still)
	last := c.AuditTrail[len(c.AuditTrail)-1]
	assert.Equal(t, model.AuditActorSystem, last.ActorRole)
	assert.Equal(t, model.AuditActionStageRemovedCleanup, last.Action)

	c, err = f.store.Cases().Get(ctx, atAnalyze.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, c.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusScheduled, c.Delivery.Status)

	c, err = f.store.Cases().Get(ctx, atReview.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, c.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusDelivered, c.Delivery.Status)

	var removedEvents, deliveredEvents int
	for _, e := range f.store.Events() {
		switch e.EventType {
		case model.EventCatalogStageRemoved:
			removedEvents++
		case model.EventCaseDelivered:
			deliveredEvents++
		}
	}
	assert.Equal(t, 1, removedEvents)
	assert.Zero(t, deliveredEvents, "cases already delivered emit nothing new")
}

func TestRemoveLastPendingStageDeliversCase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)
	c := f.newCase(t, ct, 3)

	_, affected, err := f.svc.RemoveStage(ctx, ct.ID, ct.Stages[3].ID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, affected)

	got, err := f.store.Cases().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusDelivered, got.Delivery.Status)

	found := false
	for _, e := range f.store.Events() {
		if e.EventType == model.EventCaseDelivered {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRemoveUnusedStageWithoutForce(t *testing.T) {
	f := newFixture(t)
	ct := f.lipidPanel(t)

	updated, affected, err := f.svc.RemoveStage(context.Background(), ct.ID, ct.Stages[0].ID, false)
	require.NoError(t, err)
	assert.Zero(t, affected)
	assert.Equal(t, []string{"Centrifuge", "Analyze", "Review"}, stageNames(updated))
	assert.Equal(t, 1, updated.Stages[0].Order)

	_, _, err = f.svc.RemoveStage(context.Background(), ct.ID, uuid.New(), true)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestDeleteCaseType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)
	c := f.newCase(t, ct, 0)

	err := f.svc.DeleteCaseType(ctx, ct.ID)
	assert.True(t, errors.IsCode(err, errors.ErrConflict))

	require.NoError(t, f.store.Cases().Delete(ctx, c.ID))
	require.NoError(t, f.svc.DeleteCaseType(ctx, ct.ID))

	_, err = f.svc.GetCaseType(ctx, ct.ID)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestRenameCaseType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)

	// warm the cache so the rename has to invalidate it
	_, err := f.svc.GetCaseType(ctx, ct.ID)
	require.NoError(t, err)

	renamed, err := f.svc.RenameCaseType(ctx, ct.ID, "Lipid Panel v2")
	require.NoError(t, err)
	assert.Equal(t, "Lipid Panel v2", renamed.Name)

	got, err := f.svc.GetCaseType(ctx, ct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lipid Panel v2", got.Name)

	_, err = f.svc.RenameCaseType(ctx, uuid.New(), "x")
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestDuplicateConstraintsMapToDistinctConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.lipidPanel(t)

	_, err := f.svc.CreateCaseType(ctx, &model.CreateCaseTypeRequest{Name: "Lipid Panel"})
	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ErrConflict, appErr.Code)
	assert.Equal(t, "case type name already exists", appErr.Message)

	raced := fmt.Errorf("failed to replace stages: %w", &repository.DuplicateError{Constraint: repository.ConstraintStageOrder})
	err = f.svc.mapErr("case type", raced)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ErrConflict, appErr.Code)
	assert.Contains(t, appErr.Message, "stage order changed concurrently")
	assert.Equal(t, repository.ConstraintStageOrder, appErr.Details["constraint"])
}

func TestStageOrderZeroAppends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ct := f.lipidPanel(t)

	ct, err := f.svc.AddStage(ctx, ct.ID, &model.StageTemplateRequest{Name: "Archive"})
	require.NoError(t, err)
	require.Len(t, ct.Stages, 5)
	assert.Equal(t, "Archive", ct.Stages[4].Name)
	assert.Equal(t, 5, ct.Stages[4].Order)

	_, err = f.svc.AddStage(ctx, ct.ID, &model.StageTemplateRequest{Name: "Bad", Order: -1})
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))
}
