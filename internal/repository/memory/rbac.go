package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

type RBACRepository struct {
	s *Store
}

var _ repository.RBACRepository = (*RBACRepository)(nil)

func (r *RBACRepository) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	roles := make([]model.Role, 0)
	for id := range r.s.userRoles[userID] {
		if role, ok := r.s.roles[id]; ok {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

func (r *RBACRepository) MissingRoles(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var missing []uuid.UUID
	for _, id := range ids {
		if _, ok := r.s.roles[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *RBACRepository) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for roleID := range r.s.userRoles[userID] {
		if _, ok := r.s.rolePerms[roleID][permission]; ok {
			return true, nil
		}
	}
	return false, nil
}

// UpsertRole matches an existing role by name and replaces its permissions.
func (r *RBACRepository) UpsertRole(ctx context.Context, role *model.Role, permissions []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.stamp()
	for id, existing := range r.s.roles {
		if existing.Name == role.Name {
			role.ID = id
			role.CreatedAt = existing.CreatedAt
		}
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	r.s.roles[role.ID] = *role

	perms := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		perms[p] = struct{}{}
	}
	r.s.rolePerms[role.ID] = perms
	return nil
}

func (r *RBACRepository) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.roles[roleID]; !ok {
		return repository.ErrNotFound
	}
	if r.s.userRoles[userID] == nil {
		r.s.userRoles[userID] = map[uuid.UUID]struct{}{}
	}
	r.s.userRoles[userID][roleID] = struct{}{}
	return nil
}
