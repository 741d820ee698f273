package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository"
)

const caseColumns = `id, code, doctor_id, patient_id, case_type_id, note, current_stage_order,
	stages, delivery, approval, audit_trail, created_at, updated_at`

type caseRepository struct {
	BaseRepository
}

func NewCaseRepository(db *sqlx.DB) repository.CaseRepository {
	return &caseRepository{NewBaseRepository(db)}
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case, events []*model.OutboxEvent) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var seq int64
		if err := tx.GetContext(ctx, &seq, `SELECT nextval('case_code_seq')`); err != nil {
			return fmt.Errorf("failed to allocate case code: %w", err)
		}
		c.Code = fmt.Sprintf("LAB-%06d", seq)

		query := `
			INSERT INTO cases (` + caseColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`
		_, err := tx.ExecContext(ctx, query,
			c.ID, c.Code, c.DoctorID, c.PatientID, c.CaseTypeID, c.Note, c.CurrentStageOrder,
			c.Stages, c.Delivery, c.Approval, c.AuditTrail, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create case: %w", translate(err))
		}
		return insertEvents(ctx, tx, events)
	})
}

func (r *caseRepository) Get(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	var c model.Case
	err := r.db.GetContext(ctx, &c, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *caseRepository) List(ctx context.Context, f *model.CaseFilters) ([]*model.Case, int, error) {
	f.Normalize()

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.CaseTypeID != nil {
		add("case_type_id = $%d", *f.CaseTypeID)
	}
	if f.DeliveryStatus != nil {
		add("delivery->>'status' = $%d", string(*f.DeliveryStatus))
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM cases`+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count cases: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM cases%s ORDER BY created_at DESC, code DESC LIMIT $%d OFFSET $%d`,
		caseColumns, cond, len(args)+1, len(args)+2)
	cases := []*model.Case{}
	if err := r.db.SelectContext(ctx, &cases, query, append(args, f.PageSize, f.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("failed to list cases: %w", err)
	}
	return cases, total, nil
}

func (r *caseRepository) Transition(ctx context.Context, id uuid.UUID, fn repository.CaseMutator) (*model.Case, error) {
	var out *model.Case
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		var c model.Case
		err := tx.GetContext(ctx, &c, `SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return translate(err)
		}

		change, err := fn(&c)
		if err != nil {
			return err
		}
		if err := updateCase(ctx, tx, &c, change); err != nil {
			return err
		}
		out = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// updateCase rewrites the mutable columns of a locked case and appends the
// audit entry in the same statement.
func updateCase(ctx context.Context, tx *sqlx.Tx, c *model.Case, change *repository.CaseChange) error {
	c.UpdatedAt = time.Now().UTC()

	appended := []byte("[]")
	if change != nil {
		var err error
		if appended, err = json.Marshal(model.AuditTrail{change.Audit}); err != nil {
			return fmt.Errorf("failed to encode audit entry: %w", err)
		}
	}

	query := `
		UPDATE cases
		SET doctor_id = $1, patient_id = $2, case_type_id = $3, note = $4,
			current_stage_order = $5, stages = $6, delivery = $7, approval = $8,
			audit_trail = audit_trail || $9::jsonb, updated_at = $10
		WHERE id = $11
	`
	_, err := tx.ExecContext(ctx, query,
		c.DoctorID, c.PatientID, c.CaseTypeID, c.Note,
		c.CurrentStageOrder, c.Stages, c.Delivery, c.Approval,
		string(appended), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update case: %w", translate(err))
	}

	if change == nil {
		return nil
	}
	c.AuditTrail = append(c.AuditTrail, change.Audit)
	return insertEvents(ctx, tx, change.Events)
}

func (r *caseRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete case: %w", err)
	}
	return requireRow(result)
}

// stageRef is a jsonb containment probe matching any case with a row for the stage.
func stageRef(stageID uuid.UUID) string {
	return fmt.Sprintf(`[{"stage_id":%q}]`, stageID.String())
}

func (r *caseRepository) CountByStage(ctx context.Context, stageID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cases WHERE stages @> $1::jsonb`, stageRef(stageID))
	if err != nil {
		return 0, fmt.Errorf("failed to count cases by stage: %w", err)
	}
	return n, nil
}

func (r *caseRepository) CountByType(ctx context.Context, typeID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cases WHERE case_type_id = $1`, typeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count cases by type: %w", err)
	}
	return n, nil
}
