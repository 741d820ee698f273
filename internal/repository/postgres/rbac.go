package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

type rbacRepository struct {
	BaseRepository
}

func NewRBACRepository(db *sqlx.DB) repository.RBACRepository {
	return &rbacRepository{NewBaseRepository(db)}
}

func (r *rbacRepository) GetUserRoles(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	roles := []model.Role{}
	if err := r.db.SelectContext(ctx, &roles, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	return roles, nil
}

func (r *rbacRepository) MissingRoles(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var found []uuid.UUID
	if err := r.db.SelectContext(ctx, &found, `SELECT id FROM roles WHERE id = ANY($1::uuid[])`, roleArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to check roles: %w", err)
	}
	seen := make(map[uuid.UUID]bool, len(found))
	for _, id := range found {
		seen[id] = true
	}

	var missing []uuid.UUID
	for _, id := range ids {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *rbacRepository) HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			WHERE ur.user_id = $1 AND rp.permission = $2
		)
	`
	var ok bool
	if err := r.db.GetContext(ctx, &ok, query, userID, permission); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}

func (r *rbacRepository) UpsertRole(ctx context.Context, role *model.Role, permissions []string) error {
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	now := time.Now().UTC()

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO roles (id, name, description, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (name) DO UPDATE
			SET description = EXCLUDED.description, updated_at = EXCLUDED.updated_at
			RETURNING id, created_at, updated_at
		`
		row := tx.QueryRowxContext(ctx, query, role.ID, role.Name, role.Description, now)
		if err := row.Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return fmt.Errorf("failed to upsert role: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
			return fmt.Errorf("failed to clear role permissions: %w", err)
		}
		if len(permissions) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role_id, permission) SELECT $1, UNNEST($2::text[])`,
			role.ID, pq.Array(permissions))
		if err != nil {
			return fmt.Errorf("failed to write role permissions: %w", err)
		}
		return nil
	})
}

func (r *rbacRepository) AssignRole(ctx context.Context, userID, roleID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", translate(err))
	}
	return nil
}
