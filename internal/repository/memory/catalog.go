package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

type CatalogRepository struct {
	s *Store
}

var _ repository.CatalogRepository = (*CatalogRepository)(nil)

func (r *CatalogRepository) CreateType(ctx context.Context, ct *model.CaseType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.nameTaken(ct.Name, uuid.Nil) {
		return &repository.DuplicateError{Constraint: repository.ConstraintCaseTypeName}
	}
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	now := r.s.stamp()
	ct.CreatedAt = now
	ct.UpdatedAt = now
	for i := range ct.Stages {
		r.s.prepareStage(ct.ID, &ct.Stages[i])
	}
	r.s.types[ct.ID] = cloneType(ct)
	return nil
}

func (s *Store) prepareStage(typeID uuid.UUID, st *model.StageTemplate) {
	now := s.stamp()
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	st.CaseTypeID = typeID
}

func (s *Store) nameTaken(name string, except uuid.UUID) bool {
	for id, t := range s.types {
		if id != except && strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func (r *CatalogRepository) GetType(ctx context.Context, id uuid.UUID) (*model.CaseType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ct, ok := r.s.types[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneType(ct), nil
}

func (r *CatalogRepository) ListTypes(ctx context.Context) ([]*model.CaseType, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*model.CaseType, 0, len(r.s.types))
	for _, ct := range r.s.types {
		out = append(out, cloneType(ct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *CatalogRepository) RenameType(ctx context.Context, id uuid.UUID, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ct, ok := r.s.types[id]
	if !ok {
		return repository.ErrNotFound
	}
	if r.s.nameTaken(name, id) {
		return &repository.DuplicateError{Constraint: repository.ConstraintCaseTypeName}
	}
	ct.Name = name
	ct.UpdatedAt = r.s.stamp()
	return nil
}

func (r *CatalogRepository) DeleteType(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.types[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.types, id)
	return nil
}

func (r *CatalogRepository) ReplaceStages(ctx context.Context, typeID uuid.UUID, stages []model.StageTemplate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ct, ok := r.s.types[typeID]
	if !ok {
		return repository.ErrNotFound
	}
	r.s.replaceStages(ct, stages)
	return nil
}

func (s *Store) replaceStages(ct *model.CaseType, stages []model.StageTemplate) {
	next := cloneType(&model.CaseType{Stages: stages})
	for i := range next.Stages {
		if prev, ok := ct.Stage(next.Stages[i].ID); ok {
			next.Stages[i].CreatedAt = prev.CreatedAt
		}
		s.prepareStage(ct.ID, &next.Stages[i])
	}
	ct.Stages = next.Stages
	ct.UpdatedAt = s.stamp()
}

func (r *CatalogRepository) RemoveStage(ctx context.Context, typeID uuid.UUID, remaining []model.StageTemplate, removedID uuid.UUID, reconcile repository.CaseMutator, events []*model.OutboxEvent) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ct, ok := r.s.types[typeID]
	if !ok {
		return 0, repository.ErrNotFound
	}

	affected := r.s.casesWithStage(removedID)
	updated := make([]*model.Case, 0, len(affected))
	changes := make([]*repository.CaseChange, 0, len(affected))
	for _, stored := range affected {
		c := stored.Clone()
		change, err := reconcile(c)
		if err != nil {
			return 0, err
		}
		updated = append(updated, c)
		changes = append(changes, change)
	}

	for i, c := range updated {
		r.s.apply(c, changes[i])
	}
	r.s.replaceStages(ct, remaining)
	r.s.addEvents(events)
	return len(updated), nil
}
