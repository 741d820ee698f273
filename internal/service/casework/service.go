// Package casework owns the case lifecycle: creation from a catalog snapshot,
// stage progression, per-stage status edits, delivery overrides and approval.
// Every mutation runs through CaseRepository.Transition, which persists the
// rewritten case, its audit entry and its outbox events atomically.
package casework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
	"github.com/jwalitptl/labcase-api/internal/service/event"
	"github.com/jwalitptl/labcase-api/internal/workflow"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

// TypeSource looks up case types, usually through the cached catalog service.
type TypeSource interface {
	GetCaseType(ctx context.Context, id uuid.UUID) (*model.CaseType, error)
}

type Service struct {
	repo    repository.CaseRepository
	types   TypeSource
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(repo repository.CaseRepository, types TypeSource, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		types:   types,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) track(action string, start time.Time, err error) {
	s.metrics.Transitions.WithLabelValues(action, metrics.Outcome(err)).Inc()
	s.metrics.TransitionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

func (s *Service) Create(ctx context.Context, req *model.CreateCaseRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("create", start, err) }(time.Now())

	ct, err := s.types.GetCaseType(ctx, req.CaseTypeID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c = &model.Case{
		DoctorID:   req.DoctorID,
		PatientID:  req.PatientID,
		CaseTypeID: ct.ID,
		Note:       req.Note,
		Stages:     workflow.Snapshot(ct),
		Delivery:   model.Delivery{Status: model.DeliveryStatusPending},
	}
	c.AuditTrail = model.AuditTrail{entry(actor, model.AuditActionCaseCreated, model.JSONMap{
		"case_type_id": ct.ID,
		"total_stages": c.TotalStages(),
	}, now)}

	if err := s.repo.Create(ctx, c, nil); err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, filters *model.CaseFilters) ([]*model.Case, int, error) {
	filters.Normalize()
	cases, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, total, nil
}

// Patch edits plain case fields. Stage rows, the cursor, delivery and
// approval are never touched here.
func (s *Service) Patch(ctx context.Context, id uuid.UUID, req *model.PatchCaseRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("patch", start, err) }(time.Now())

	if req.CaseTypeID != nil {
		if _, err := s.types.GetCaseType(ctx, *req.CaseTypeID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	c, err = s.repo.Transition(ctx, id, func(c *model.Case) (*repository.CaseChange, error) {
		changed := model.JSONMap{}
		if req.DoctorID != nil && *req.DoctorID != c.DoctorID {
			c.DoctorID = *req.DoctorID
			changed["doctor_id"] = c.DoctorID
		}
		if req.PatientID != nil && *req.PatientID != c.PatientID {
			c.PatientID = *req.PatientID
			changed["patient_id"] = c.PatientID
		}
		if req.CaseTypeID != nil && *req.CaseTypeID != c.CaseTypeID {
			c.CaseTypeID = *req.CaseTypeID
			changed["case_type_id"] = c.CaseTypeID
		}
		if req.Note != nil && *req.Note != c.Note {
			c.Note = *req.Note
			changed["note"] = c.Note
		}
		return &repository.CaseChange{
			Audit: entry(actor, model.AuditActionCaseUpdated, model.JSONMap{"changed": changed}, now),
		}, nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapErr(err)
	}
	return nil
}

// Display joins the case with its catalog entry. A case whose type has been
// deleted still renders, with every stage flagged missing.
func (s *Service) Display(ctx context.Context, id uuid.UUID) (*model.DisplayCase, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ct, err := s.types.GetCaseType(ctx, c.CaseTypeID)
	if err != nil && !errors.IsCode(err, errors.ErrNotFound) {
		return nil, err
	}
	d := workflow.Enrich(c, ct)
	return &d, nil
}

func (s *Service) Audit(ctx context.Context, id uuid.UUID) (model.AuditTrail, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.AuditTrail, nil
}

// Advance moves the case cursor to the requested stage and rewrites every row
// relative to it.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, req *model.AdvanceRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("advance", start, err) }(time.Now())

	if err := workflow.CheckActor(actor); err != nil {
		return nil, err
	}
	ct, err := s.caseType(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(ct.Stages) == 0 {
		return nil, errors.NoStagesDefined()
	}

	now := s.now()
	c, err = s.repo.Transition(ctx, id, func(c *model.Case) (*repository.CaseChange, error) {
		if c.CaseTypeID != ct.ID {
			return nil, errors.Conflict("case type changed concurrently", nil)
		}
		target, err := workflow.ResolveTarget(c, req.TargetOrder, req.TargetStageID)
		if err != nil {
			return nil, err
		}
		stage, err := templateAt(c, ct, target)
		if err != nil {
			return nil, err
		}
		if err := workflow.Authorize(actor, stage); err != nil {
			return nil, err
		}

		tr := workflow.Advance(c, target, req.Status, now)
		meta := tr.Meta()
		meta["stage_id"] = stage.ID
		if workflow.ReopenApproval(c) {
			meta["approval_revoked"] = true
		}
		events, err := event.CaseEvents(model.EventCaseAdvanced, c, model.AuditActionStageAdvanced, tr.Delivered(), now)
		if err != nil {
			return nil, err
		}
		return &repository.CaseChange{
			Audit:  entry(actor, model.AuditActionStageAdvanced, meta, now),
			Events: events,
		}, nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

// SetStageStatus edits a single stage row. The cursor and the other rows are
// left alone.
func (s *Service) SetStageStatus(ctx context.Context, id, stageID uuid.UUID, req *model.StageStatusRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("stage_status", start, err) }(time.Now())

	if err := workflow.CheckActor(actor); err != nil {
		return nil, err
	}
	if !req.Status.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid stage status %q", req.Status), nil)
	}
	ct, err := s.caseType(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c, err = s.repo.Transition(ctx, id, func(c *model.Case) (*repository.CaseChange, error) {
		if c.TotalStages() == 0 {
			return nil, errors.NoStagesDefined()
		}
		row, ok := c.Row(stageID)
		if !ok {
			return nil, errors.NotFound("stage", nil)
		}
		stage, ok := ct.Stage(stageID)
		if !ok {
			return nil, errors.NotFound("stage template", nil)
		}
		if err := workflow.Authorize(actor, stage); err != nil {
			return nil, err
		}

		prev := workflow.SetStageStatus(row, req.Status, req.Note, req.AssigneeID, now)
		meta := model.JSONMap{
			"stage_id": stageID,
			"order":    row.Order,
			"from":     prev,
			"to":       row.Status,
			"rbac":     "allowed",
		}
		if req.AssigneeID != nil {
			meta["assignee_id"] = *req.AssigneeID
		}
		if workflow.ReopenApproval(c) {
			meta["approval_revoked"] = true
		}
		e, err := event.CaseEvent(model.EventCaseStageStatusChanged, c, model.AuditActionStageStatusChanged, now)
		if err != nil {
			return nil, err
		}
		return &repository.CaseChange{
			Audit:  entry(actor, model.AuditActionStageStatusChanged, meta, now),
			Events: []*model.OutboxEvent{e},
		}, nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

// OverrideDelivery sets the delivery block directly, bypassing derivation.
func (s *Service) OverrideDelivery(ctx context.Context, id uuid.UUID, req *model.DeliveryRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("override_delivery", start, err) }(time.Now())

	if actor == nil {
		return nil, errors.Unauthenticated()
	}
	if !req.Status.Valid() {
		return nil, errors.BadRequest(fmt.Sprintf("invalid delivery status %q", req.Status), nil)
	}

	now := s.now()
	c, err = s.repo.Transition(ctx, id, func(c *model.Case) (*repository.CaseChange, error) {
		prev := c.Delivery
		c.Delivery = workflow.Override(req.Status, req.Date, now)

		delivered := c.Delivery.Status == model.DeliveryStatusDelivered && prev.Status != model.DeliveryStatusDelivered
		events, err := event.CaseEvents(model.EventCaseDeliveryOverridden, c, model.AuditActionDeliveryOverridden, delivered, now)
		if err != nil {
			return nil, err
		}
		return &repository.CaseChange{
			Audit: entry(actor, model.AuditActionDeliveryOverridden, model.JSONMap{
				"delivery_from": prev.Status,
				"delivery_to":   c.Delivery.Status,
				"date":          c.Delivery.Date,
			}, now),
			Events: events,
		}, nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

// Approve records an approval decision. Approving force-completes every open
// stage regardless of stage roles; the entry is then attributed to the
// auto-complete override rather than the caller's roles.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, req *model.ApprovalRequest, actor *model.ActingUser) (c *model.Case, err error) {
	defer func(start time.Time) { s.track("approve", start, err) }(time.Now())

	if actor == nil {
		return nil, errors.Unauthenticated()
	}
	decision := *req
	if decision.By == nil {
		by := actor.UserID
		decision.By = &by
	}

	now := s.now()
	c, err = s.repo.Transition(ctx, id, func(c *model.Case) (*repository.CaseChange, error) {
		out := workflow.Approve(c, decision, now)

		if !decision.Approved {
			return &repository.CaseChange{
				Audit: entry(actor, model.AuditActionCaseApprovalRevoked, model.JSONMap{"note": decision.Note}, now),
			}, nil
		}

		audit := entry(actor, model.AuditActionCaseApproved, model.JSONMap{
			"auto_completed": out.AutoCompleted,
			"forced_stages":  out.ForcedStages,
			"delivery_from":  out.PrevDelivery,
			"delivery_to":    c.Delivery.Status,
			"note":           decision.Note,
		}, now)
		if out.AutoCompleted {
			audit.ActorRole = model.AuditActorAutoCompleteOverride
		}

		events, err := event.CaseEvents(model.EventCaseApproved, c, model.AuditActionCaseApproved, out.Delivered(c), now)
		if err != nil {
			return nil, err
		}
		return &repository.CaseChange{Audit: audit, Events: events}, nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

// caseType loads the case's type outside the case lock.
func (s *Service) caseType(ctx context.Context, id uuid.UUID) (*model.CaseType, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.types.GetCaseType(ctx, c.CaseTypeID)
}

func templateAt(c *model.Case, ct *model.CaseType, order int) (*model.StageTemplate, error) {
	for i := range c.Stages {
		if c.Stages[i].Order != order {
			continue
		}
		if stage, ok := ct.Stage(c.Stages[i].StageID); ok {
			return stage, nil
		}
		break
	}
	return nil, errors.NotFound("stage template", nil)
}

func entry(actor *model.ActingUser, action string, meta model.JSONMap, now time.Time) model.AuditEntry {
	e := model.AuditEntry{Action: action, Meta: meta, At: now}
	if actor != nil {
		id := actor.UserID
		e.ActorID = &id
		e.ActorRole = actor.RoleLabel()
	}
	return e
}

func mapErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errors.NotFound("case", err)
	}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return fmt.Errorf("case operation failed: %w", err)
}
