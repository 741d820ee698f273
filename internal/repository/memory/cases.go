package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

type CaseRepository struct {
	s *Store
}

var _ repository.CaseRepository = (*CaseRepository)(nil)

func (r *CaseRepository) Create(ctx context.Context, c *model.Case, events []*model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := r.s.cases[c.ID]; ok {
		return repository.ErrDuplicate
	}
	now := r.s.stamp()
	c.Code = r.s.nextCode()
	c.CreatedAt = now
	c.UpdatedAt = now

	r.s.cases[c.ID] = c.Clone()
	r.s.addEvents(events)
	return nil
}

func (r *CaseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CaseRepository) List(ctx context.Context, f *model.CaseFilters) ([]*model.Case, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*model.Case
	for _, c := range r.s.cases {
		if matches(c, f) {
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Code > matched[j].Code
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	f.Normalize()
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}

	out := make([]*model.Case, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, c.Clone())
	}
	return out, total, nil
}

func matches(c *model.Case, f *model.CaseFilters) bool {
	if f.DoctorID != nil && c.DoctorID != *f.DoctorID {
		return false
	}
	if f.PatientID != nil && c.PatientID != *f.PatientID {
		return false
	}
	if f.CaseTypeID != nil && c.CaseTypeID != *f.CaseTypeID {
		return false
	}
	if f.DeliveryStatus != nil && c.Delivery.Status != *f.DeliveryStatus {
		return false
	}
	return true
}

func (r *CaseRepository) Transition(ctx context.Context, id uuid.UUID, fn repository.CaseMutator) (*model.Case, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.cases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	c := stored.Clone()
	change, err := fn(c)
	if err != nil {
		return nil, err
	}
	r.s.apply(c, change)
	return c.Clone(), nil
}

// apply stores an already mutated case. Callers hold the lock.
func (s *Store) apply(c *model.Case, change *repository.CaseChange) {
	c.UpdatedAt = s.stamp()
	if change != nil {
		c.AuditTrail = append(c.AuditTrail, change.Audit)
		s.addEvents(change.Events)
	}
	s.cases[c.ID] = c.Clone()
}

func (r *CaseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.cases[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.cases, id)
	return nil
}

func (r *CaseRepository) CountByStage(ctx context.Context, stageID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.casesWithStage(stageID)), nil
}

func (r *CaseRepository) CountByType(ctx context.Context, typeID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, c := range r.s.cases {
		if c.CaseTypeID == typeID {
			n++
		}
	}
	return n, nil
}

func (s *Store) casesWithStage(stageID uuid.UUID) []*model.Case {
	var out []*model.Case
	for _, c := range s.cases {
		if _, ok := c.Row(stageID); ok {
			out = append(out, c)
		}
	}
	return out
}
