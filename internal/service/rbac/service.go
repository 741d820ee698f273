package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

// Service resolves the flat role set of a user and answers permission
// checks. Role sets are cached per user for ttl.
type Service struct {
	repo  repository.RBACRepository
	cache *cache.Cache
}

func NewService(repo repository.RBACRepository, ttl time.Duration) *Service {
	return &Service{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *Service) roles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	if v, ok := s.cache.Get(userID.String()); ok {
		return v.([]model.Role), nil
	}
	roles, err := s.repo.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	s.cache.SetDefault(userID.String(), roles)
	return roles, nil
}

// ResolveActor builds the acting user for an authenticated request. A user
// without roles is still returned; the workflow rejects it where it matters.
func (s *Service) ResolveActor(ctx context.Context, userID uuid.UUID, email string) (*model.ActingUser, error) {
	roles, err := s.roles(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Role, len(roles))
	copy(out, roles)
	return &model.ActingUser{UserID: userID, Email: email, Roles: out}, nil
}

func (s *Service) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	ok, err := s.repo.HasPermission(ctx, userID, permission)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}

// ValidateRoles rejects role ids that do not name an existing role.
func (s *Service) ValidateRoles(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	missing, err := s.repo.MissingRoles(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to validate roles: %w", err)
	}
	if len(missing) > 0 {
		return errors.NewBadRequest("allowed_roles references unknown roles", nil).
			WithDetails(map[string]interface{}{"unknown_roles": missing})
	}
	return nil
}

func (s *Service) UpsertRole(ctx context.Context, role *model.Role, permissions []string) error {
	if role.Name == "" {
		return errors.BadRequest("role name is required", nil)
	}
	if err := s.repo.UpsertRole(ctx, role, permissions); err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

func (s *Service) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errors.NotFound("role", err)
		}
		return fmt.Errorf("failed to assign role: %w", err)
	}
	s.cache.Delete(userID.String())
	return nil
}
