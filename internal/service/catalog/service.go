// Package catalog manages case types and their ordered stage templates, and
// propagates stage removal into the cases that reference the removed stage.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
	"github.com/jwalitptl/labcase-api/internal/service/event"
	"github.com/jwalitptl/labcase-api/internal/workflow"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

// RoleValidator rejects allowed-role sets naming unknown roles.
type RoleValidator interface {
	ValidateRoles(ctx context.Context, ids []uuid.UUID) error
}

type Service struct {
	repo    repository.CatalogRepository
	cases   repository.CaseRepository
	roles   RoleValidator
	metrics *metrics.Metrics
	cache   *cache.Cache
	now     func() time.Time
}

func NewService(repo repository.CatalogRepository, cases repository.CaseRepository, roles RoleValidator, m *metrics.Metrics, ttl time.Duration) *Service {
	return &Service{
		repo:    repo,
		cases:   cases,
		roles:   roles,
		metrics: m,
		cache:   cache.New(ttl, 2*ttl),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) CreateCaseType(ctx context.Context, req *model.CreateCaseTypeRequest) (*model.CaseType, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.BadRequest("name is required", nil)
	}

	var stages []model.StageTemplate
	for _, sr := range req.Stages {
		stage, err := s.newStage(ctx, sr)
		if err != nil {
			return nil, err
		}
		stages = workflow.Place(stages, stage, sr.Order)
	}

	ct := &model.CaseType{Name: name, Stages: stages}
	if err := s.repo.CreateType(ctx, ct); err != nil {
		return nil, s.mapErr("case type", err)
	}
	return ct, nil
}

// GetCaseType serves from the in-process cache when it can.
func (s *Service) GetCaseType(ctx context.Context, id uuid.UUID) (*model.CaseType, error) {
	if v, ok := s.cache.Get(id.String()); ok {
		return cloneType(v.(*model.CaseType)), nil
	}
	ct, err := s.repo.GetType(ctx, id)
	if err != nil {
		return nil, s.mapErr("case type", err)
	}
	s.cache.SetDefault(id.String(), cloneType(ct))
	return ct, nil
}

func (s *Service) ListCaseTypes(ctx context.Context) ([]*model.CaseType, error) {
	types, err := s.repo.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list case types: %w", err)
	}
	return types, nil
}

func (s *Service) RenameCaseType(ctx context.Context, id uuid.UUID, name string) (*model.CaseType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.BadRequest("name is required", nil)
	}
	if err := s.repo.RenameType(ctx, id, name); err != nil {
		return nil, s.mapErr("case type", err)
	}
	return s.reload(ctx, id)
}

// DeleteCaseType refuses while any case still references the type.
func (s *Service) DeleteCaseType(ctx context.Context, id uuid.UUID) error {
	n, err := s.cases.CountByType(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count cases: %w", err)
	}
	if n > 0 {
		return errors.Conflict("case type is referenced by existing cases", map[string]interface{}{"count": n})
	}
	if err := s.repo.DeleteType(ctx, id); err != nil {
		return s.mapErr("case type", err)
	}
	s.cache.Delete(id.String())
	return nil
}

// AddStage inserts a stage at req.Order, or appends it when the order is 0.
func (s *Service) AddStage(ctx context.Context, typeID uuid.UUID, req *model.StageTemplateRequest) (*model.CaseType, error) {
	ct, err := s.GetCaseType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	stage, err := s.newStage(ctx, *req)
	if err != nil {
		return nil, err
	}
	stage.CaseTypeID = typeID
	return s.replace(ctx, typeID, workflow.Place(ct.Stages, stage, req.Order))
}

// UpdateStage patches a stage in place. Its identity never changes, so case
// rows keep pointing at it.
func (s *Service) UpdateStage(ctx context.Context, typeID, stageID uuid.UUID, req *model.UpdateStageRequest) (*model.CaseType, error) {
	ct, err := s.GetCaseType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	current, ok := ct.Stage(stageID)
	if !ok {
		return nil, errors.NotFound("stage", nil)
	}
	stage := *current

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errors.BadRequest("name must not be empty", nil)
		}
		stage.Name = name
	}
	if req.Color != nil {
		stage.Color = *req.Color
	}
	if req.AllowedRoles != nil {
		if err := s.roles.ValidateRoles(ctx, *req.AllowedRoles); err != nil {
			return nil, err
		}
		stage.AllowedRoles = *req.AllowedRoles
	}

	position := stage.Order
	if req.Order != nil {
		if *req.Order < 1 {
			return nil, errors.BadRequest("order must be positive", nil)
		}
		position = *req.Order
	}
	return s.replace(ctx, typeID, workflow.Place(ct.Stages, stage, position))
}

func (s *Service) ReorderStages(ctx context.Context, typeID uuid.UUID, ids []uuid.UUID) (*model.CaseType, error) {
	ct, err := s.GetCaseType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	stages, err := workflow.Reorder(ct.Stages, ids)
	if err != nil {
		return nil, err
	}
	return s.replace(ctx, typeID, stages)
}

// RemoveStage deletes a stage template. Without force it refuses while any
// case references the stage; with force every such case is reconciled in the
// same transaction and the number of reconciled cases is returned.
func (s *Service) RemoveStage(ctx context.Context, typeID, stageID uuid.UUID, force bool) (*model.CaseType, int, error) {
	timer := prometheus.NewTimer(s.metrics.TransitionLatency.WithLabelValues("remove_stage"))
	defer timer.ObserveDuration()

	ct, err := s.GetCaseType(ctx, typeID)
	if err != nil {
		return nil, 0, err
	}
	remaining, removed := workflow.Remove(ct.Stages, stageID)
	if removed == nil {
		return nil, 0, errors.NotFound("stage", nil)
	}

	count, err := s.cases.CountByStage(ctx, stageID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}
	if count > 0 && !force {
		s.metrics.Transitions.WithLabelValues("remove_stage", metrics.Outcome(errors.StageInUse(count))).Inc()
		return nil, 0, errors.StageInUse(count)
	}

	now := s.now()
	removedEvent, err := event.StageRemoved(typeID, removed, count, now)
	if err != nil {
		return nil, 0, err
	}

	affected, err := s.repo.RemoveStage(ctx, typeID, remaining, stageID, s.reconcile(stageID, force, now), []*model.OutboxEvent{removedEvent})
	s.cache.Delete(typeID.String())
	s.metrics.Transitions.WithLabelValues("remove_stage", metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, 0, s.mapErr("case type", err)
	}
	s.metrics.CascadedCases.Add(float64(affected))

	log.Info().
		Str("case_type_id", typeID.String()).
		Str("stage_id", stageID.String()).
		Int("affected_cases", affected).
		Bool("force", force).
		Msg("Stage template removed")

	out, err := s.reload(ctx, typeID)
	if err != nil {
		return nil, 0, err
	}
	return out, affected, nil
}

// reconcile prunes the removed stage from one locked case. A case that began
// referencing the stage after the count aborts a non-forced removal.
func (s *Service) reconcile(stageID uuid.UUID, force bool, now time.Time) repository.CaseMutator {
	return func(c *model.Case) (*repository.CaseChange, error) {
		if !force {
			return nil, errors.StageInUse(1)
		}
		cleanup, ok := workflow.PruneStage(c, stageID, now)
		if !ok {
			return nil, nil
		}
		delivered := cleanup.Delivery == model.DeliveryStatusDelivered && cleanup.PrevDelivery != model.DeliveryStatusDelivered
		var events []*model.OutboxEvent
		if delivered {
			e, err := event.CaseEvent(model.EventCaseDelivered, c, model.AuditActionStageRemovedCleanup, now)
			if err != nil {
				return nil, err
			}
			events = append(events, e)
		}
		return &repository.CaseChange{
			Audit: model.AuditEntry{
				ActorRole: model.AuditActorSystem,
				Action:    model.AuditActionStageRemovedCleanup,
				Meta:      cleanup.Meta(stageID),
				At:        now,
			},
			Events: events,
		}, nil
	}
}

func (s *Service) newStage(ctx context.Context, req model.StageTemplateRequest) (model.StageTemplate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.StageTemplate{}, errors.BadRequest("stage name is required", nil)
	}
	if req.Order < 0 {
		return model.StageTemplate{}, errors.BadRequest("stage order must not be negative", nil)
	}
	if err := s.roles.ValidateRoles(ctx, req.AllowedRoles); err != nil {
		return model.StageTemplate{}, err
	}
	return model.StageTemplate{
		ID:           uuid.New(),
		Name:         name,
		Color:        req.Color,
		AllowedRoles: req.AllowedRoles,
	}, nil
}

func (s *Service) replace(ctx context.Context, typeID uuid.UUID, stages []model.StageTemplate) (*model.CaseType, error) {
	err := s.repo.ReplaceStages(ctx, typeID, stages)
	s.cache.Delete(typeID.String())
	if err != nil {
		return nil, s.mapErr("case type", err)
	}
	return s.reload(ctx, typeID)
}

func (s *Service) reload(ctx context.Context, id uuid.UUID) (*model.CaseType, error) {
	s.cache.Delete(id.String())
	return s.GetCaseType(ctx, id)
}

func (s *Service) mapErr(resource string, err error) error {
	var dup *repository.DuplicateError
	if errors.As(err, &dup) && dup.Constraint == repository.ConstraintStageOrder {
		return errors.Conflict("stage order changed concurrently, reload the case type and retry", map[string]interface{}{
			"constraint": dup.Constraint,
		})
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return errors.NotFound(resource, err)
	case errors.Is(err, repository.ErrDuplicate):
		return errors.Conflict(resource+" name already exists", nil)
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return fmt.Errorf("catalog operation failed: %w", err)
}

func cloneType(ct *model.CaseType) *model.CaseType {
	out := *ct
	out.Stages = make([]model.StageTemplate, len(ct.Stages))
	for i, st := range ct.Stages {
		st.AllowedRoles = append([]uuid.UUID(nil), st.AllowedRoles...)
		out.Stages[i] = st
	}
	return &out
}
