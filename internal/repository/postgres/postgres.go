package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/labcase-api/internal/repository"
)

// Repositories bundles the Postgres-backed repositories sharing one pool.
type Repositories struct {
	Cases   repository.CaseRepository
	Catalog repository.CatalogRepository
	RBAC    repository.RBACRepository
	Outbox  repository.OutboxRepository
}

func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Cases:   NewCaseRepository(db),
		Catalog: NewCatalogRepository(db),
		RBAC:    NewRBACRepository(db),
		Outbox:  NewOutboxRepository(db),
	}
}
