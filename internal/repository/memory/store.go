// Package memory is a mutex-guarded, map-backed implementation of the
// repository interfaces. Every read returns a copy, and every write is applied
// to a copy and swapped in only on success, so a failing mutation leaves the
// store exactly as it was.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
)

type Store struct {
	mu sync.Mutex

	cases     map[uuid.UUID]*model.Case
	types     map[uuid.UUID]*model.CaseType
	roles     map[uuid.UUID]model.Role
	rolePerms map[uuid.UUID]map[string]struct{}
	userRoles map[uuid.UUID]map[uuid.UUID]struct{}
	outbox    map[uuid.UUID]*model.OutboxEvent
	codeSeq   int64
	now       func() time.Time
}

func New() *Store {
	return &Store{
		cases:     map[uuid.UUID]*model.Case{},
		types:     map[uuid.UUID]*model.CaseType{},
		roles:     map[uuid.UUID]model.Role{},
		rolePerms: map[uuid.UUID]map[string]struct{}{},
		userRoles: map[uuid.UUID]map[uuid.UUID]struct{}{},
		outbox:    map[uuid.UUID]*model.OutboxEvent{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Cases() *CaseRepository { return &CaseRepository{s} }
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s} }
func (s *Store) RBAC() *RBACRepository { return &RBACRepository{s} }
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s} }

func (s *Store) nextCode() string {
	s.codeSeq++
	return fmt.Sprintf("LAB-%06d", s.codeSeq)
}

func (s *Store) stamp() time.Time { return s.now() }

// Events returns a copy of every outbox event, in no particular order.
func (s *Store) Events() []*model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.OutboxEvent, 0, len(s.outbox))
	for _, e := range s.outbox {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

func (s *Store) addEvents(events []*model.OutboxEvent) {
	now := s.stamp()
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.Status = string(model.OutboxStatusPending)
		e.CreatedAt = now
		e.UpdatedAt = now
		cp := *e
		s.outbox[e.ID] = &cp
	}
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
