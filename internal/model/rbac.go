package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Permission names checked at the route level.
const (
	PermissionCatalogManage         = "catalog.manage"
	PermissionCasesApprove          = "cases.approve"
	PermissionCasesOverrideDelivery = "cases.override_delivery"
)

// ActingUser is the authenticated caller with a flat role set resolved by the
// authorization query.
type ActingUser struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Roles  []Role    `json:"roles"`
}

// RoleLabel renders the role set for audit entries.
func (u *ActingUser) RoleLabel() string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return strings.Join(names, ",")
}

// HasAnyRole reports whether the user's roles intersect allowed.
func (u *ActingUser) HasAnyRole(allowed []uuid.UUID) bool {
	for _, a := range allowed {
		for _, r := range u.Roles {
			if r.ID == a {
				return true
			}
		}
	}
	return false
}
