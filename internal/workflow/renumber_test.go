package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

func names(stages []model.StageTemplate) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Name)
	}
	return out
}

func orders(stages []model.StageTemplate) []int {
	out := make([]int, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Order)
	}
	return out
}

func TestRenumberCloseGaps(t *testing.T) {
	in := []model.StageTemplate{{Name: "C", Order: 9}, {Name: "A", Order: 2}, {Name: "B", Order: 5}}

	out := Renumber(in)

	assert.Equal(t, []string{"A", "B", "C"}, names(out))
	assert.Equal(t, []int{1, 2, 3}, orders(out))
	assert.Equal(t, 9, in[0].Order, "input is not modified")
}

func TestPlace(t *testing.T) {
	ct := newType("A", "B", "C")

	inserted := Place(ct.Stages, model.StageTemplate{ID: uuid.New(), Name: "X"}, 2)
	assert.Equal(t, []string{"A", "X", "B", "C"}, names(inserted))
	assert.Equal(t, []int{1, 2, 3, 4}, orders(inserted))

	appended := Place(ct.Stages, model.StageTemplate{ID: uuid.New(), Name: "Y"}, 0)
	assert.Equal(t, []string{"A", "B", "C", "Y"}, names(appended))

	moved := ct.Stages[0]
	out := Place(ct.Stages, moved, 3)
	assert.Equal(t, []string{"B", "C", "A"}, names(out))
	assert.Equal(t, moved.ID, out[2].ID, "identity survives a move")
}

func TestReorder(t *testing.T) {
	ct := newType("A", "B", "C")
	ids := []uuid.UUID{ct.Stages[2].ID, ct.Stages[0].ID, ct.Stages[1].ID}

	out, err := Reorder(ct.Stages, ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "A", "B"}, names(out))
	assert.Equal(t, []int{1, 2, 3}, orders(out))

	_, err = Reorder(ct.Stages, []uuid.UUID{ct.Stages[0].ID, ct.Stages[0].ID, ct.Stages[1].ID})
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))

	_, err = Reorder(ct.Stages, ids[:2])
	assert.True(t, errors.IsCode(err, errors.ErrBadRequest))
}

func TestRemove(t *testing.T) {
	ct := newType("A", "B", "C")

	rest, removed := Remove(ct.Stages, ct.Stages[1].ID)
	require.NotNil(t, removed)
	assert.Equal(t, "B", removed.Name)
	assert.Equal(t, []string{"A", "C"}, names(rest))
	assert.Equal(t, []int{1, 2}, orders(rest))

	_, removed = Remove(ct.Stages, uuid.New())
	assert.Nil(t, removed)
}
