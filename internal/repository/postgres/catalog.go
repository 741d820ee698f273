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

// stageRow carries allowed roles as a Postgres uuid[] read through pq.
type stageRow struct {
	ID           uuid.UUID      `db:"id"`
	CaseTypeID   uuid.UUID      `db:"case_type_id"`
	Name         string         `db:"name"`
	Order        int            `db:"stage_order"`
	Color        string         `db:"color"`
	AllowedRoles pq.StringArray `db:"allowed_roles"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (s stageRow) toModel() (model.StageTemplate, error) {
	roles := make([]uuid.UUID, 0, len(s.AllowedRoles))
	for _, raw := range s.AllowedRoles {
		id, err := uuid.Parse(raw)
		if err != nil {
			return model.StageTemplate{}, fmt.Errorf("stage %s: bad role id %q: %w", s.ID, raw, err)
		}
		roles = append(roles, id)
	}
	return model.StageTemplate{
		ID:           s.ID,
		CaseTypeID:   s.CaseTypeID,
		Name:         s.Name,
		Order:        s.Order,
		Color:        s.Color,
		AllowedRoles: roles,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}, nil
}

func roleArray(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

const stageColumns = `id, case_type_id, name, stage_order, color, allowed_roles, created_at, updated_at`

type catalogRepository struct {
	BaseRepository
}

func NewCatalogRepository(db *sqlx.DB) repository.CatalogRepository {
	return &catalogRepository{NewBaseRepository(db)}
}

func (r *catalogRepository) CreateType(ctx context.Context, ct *model.CaseType) error {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	now := time.Now().UTC()
	ct.CreatedAt = now
	ct.UpdatedAt = now

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO case_types (id, name, created_at, updated_at) VALUES ($1, $2, $3, $3)`,
			ct.ID, ct.Name, now)
		if err != nil {
			return fmt.Errorf("failed to create case type: %w", translate(err))
		}
		return upsertStages(ctx, tx, ct.ID, ct.Stages)
	})
}

// upsertStages writes every stage by identity; orders are checked at commit.
func upsertStages(ctx context.Context, tx *sqlx.Tx, typeID uuid.UUID, stages []model.StageTemplate) error {
	const query = `
		INSERT INTO stage_templates (` + stageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, stage_order = EXCLUDED.stage_order, color = EXCLUDED.color,
			allowed_roles = EXCLUDED.allowed_roles, updated_at = EXCLUDED.updated_at
	`
	now := time.Now().UTC()
	for i := range stages {
		s := &stages[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.CaseTypeID = typeID
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		s.UpdatedAt = now
		_, err := tx.ExecContext(ctx, query, s.ID, typeID, s.Name, s.Order, s.Color, roleArray(s.AllowedRoles), now)
		if err != nil {
			return fmt.Errorf("failed to write stage %q: %w", s.Name, translate(err))
		}
	}
	_, err := tx.ExecContext(ctx, `UPDATE case_types SET updated_at = $1 WHERE id = $2`, now, typeID)
	return err
}

func (r *catalogRepository) GetType(ctx context.Context, id uuid.UUID) (*model.CaseType, error) {
	var ct model.CaseType
	err := r.db.GetContext(ctx, &ct, `SELECT id, name, created_at, updated_at FROM case_types WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}

	stages, err := r.loadStages(ctx, `WHERE case_type_id = $1`, id)
	if err != nil {
		return nil, err
	}
	ct.Stages = stages[id]
	return &ct, nil
}

func (r *catalogRepository) ListTypes(ctx context.Context) ([]*model.CaseType, error) {
	types := []*model.CaseType{}
	if err := r.db.SelectContext(ctx, &types, `SELECT id, name, created_at, updated_at FROM case_types ORDER BY name`); err != nil {
		return nil, fmt.Errorf("failed to list case types: %w", err)
	}

	stages, err := r.loadStages(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, ct := range types {
		ct.Stages = stages[ct.ID]
	}
	return types, nil
}

func (r *catalogRepository) loadStages(ctx context.Context, cond string, args ...interface{}) (map[uuid.UUID][]model.StageTemplate, error) {
	var rows []stageRow
	query := `SELECT ` + stageColumns + ` FROM stage_templates ` + cond + ` ORDER BY case_type_id, stage_order`
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}

	out := make(map[uuid.UUID][]model.StageTemplate)
	for _, row := range rows {
		st, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out[row.CaseTypeID] = append(out[row.CaseTypeID], st)
	}
	return out, nil
}

func (r *catalogRepository) RenameType(ctx context.Context, id uuid.UUID, name string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE case_types SET name = $1, updated_at = $2 WHERE id = $3`, name, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to rename case type: %w", translate(err))
	}
	return requireRow(result)
}

func (r *catalogRepository) DeleteType(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM case_types WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete case type: %w", translate(err))
	}
	return requireRow(result)
}

func (r *catalogRepository) ReplaceStages(ctx context.Context, typeID uuid.UUID, stages []model.StageTemplate) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockType(ctx, tx, typeID); err != nil {
			return err
		}
		return upsertStages(ctx, tx, typeID, stages)
	})
}

func (r *catalogRepository) RemoveStage(ctx context.Context, typeID uuid.UUID, remaining []model.StageTemplate, removedID uuid.UUID, reconcile repository.CaseMutator, events []*model.OutboxEvent) (int, error) {
	affected := 0
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockType(ctx, tx, typeID); err != nil {
			return err
		}

		var cases []*model.Case
		err := tx.SelectContext(ctx, &cases,
			`SELECT `+caseColumns+` FROM cases WHERE stages @> $1::jsonb ORDER BY id FOR UPDATE`,
			stageRef(removedID))
		if err != nil {
			return fmt.Errorf("failed to lock affected cases: %w", err)
		}

		for _, c := range cases {
			change, err := reconcile(c)
			if err != nil {
				return err
			}
			if err := updateCase(ctx, tx, c, change); err != nil {
				return err
			}
		}
		affected = len(cases)

		if _, err := tx.ExecContext(ctx, `DELETE FROM stage_templates WHERE id = $1 AND case_type_id = $2`, removedID, typeID); err != nil {
			return fmt.Errorf("failed to delete stage: %w", err)
		}
		if err := upsertStages(ctx, tx, typeID, remaining); err != nil {
			return err
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func lockType(ctx context.Context, tx *sqlx.Tx, typeID uuid.UUID) error {
	var id uuid.UUID
	if err := tx.GetContext(ctx, &id, `SELECT id FROM case_types WHERE id = $1 FOR UPDATE`, typeID); err != nil {
		return translate(err)
	}
	return nil
}
