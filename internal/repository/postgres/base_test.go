package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/repository"
)

func TestTranslate(t *testing.T) {
	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(sql.ErrNoRows), repository.ErrNotFound)

	err := translate(fmt.Errorf("update stages: %w", &pq.Error{Code: "23505", Constraint: repository.ConstraintStageOrder}))
	assert.ErrorIs(t, err, repository.ErrDuplicate)
	var dup *repository.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, repository.ConstraintStageOrder, dup.Constraint)

	err = translate(&pq.Error{Code: "23503", Constraint: "case_stage_fk"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}
