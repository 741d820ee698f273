package workflow

import (
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

// Renumber returns the stages stably sorted by order with orders rewritten to
// 1..N. The input is left alone.
func Renumber(stages []model.StageTemplate) []model.StageTemplate {
	out := make([]model.StageTemplate, len(stages))
	copy(out, stages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Place removes stage (matched by identity) from the list if present and
// inserts it at position. Position 0 or beyond the end appends.
func Place(stages []model.StageTemplate, stage model.StageTemplate, position int) []model.StageTemplate {
	rest := make([]model.StageTemplate, 0, len(stages)+1)
	for _, s := range Renumber(stages) {
		if s.ID != stage.ID {
			rest = append(rest, s)
		}
	}

	at := position - 1
	if position <= 0 || at > len(rest) {
		at = len(rest)
	}

	out := make([]model.StageTemplate, 0, len(rest)+1)
	out = append(out, rest[:at]...)
	out = append(out, stage)
	out = append(out, rest[at:]...)
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Reorder arranges stages to follow ids, which must be a permutation of the
// current stage identities.
func Reorder(stages []model.StageTemplate, ids []uuid.UUID) ([]model.StageTemplate, error) {
	if len(ids) != len(stages) {
		return nil, errors.BadRequest("stage_ids must list every stage exactly once", nil)
	}
	byID := make(map[uuid.UUID]model.StageTemplate, len(stages))
	for _, s := range stages {
		byID[s.ID] = s
	}

	out := make([]model.StageTemplate, 0, len(ids))
	for i, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, errors.BadRequest("stage_ids must list every stage exactly once", nil)
		}
		delete(byID, id)
		s.Order = i + 1
		out = append(out, s)
	}
	return out, nil
}

// Remove drops a stage by identity and renumbers the rest.
func Remove(stages []model.StageTemplate, id uuid.UUID) ([]model.StageTemplate, *model.StageTemplate) {
	var removed *model.StageTemplate
	rest := make([]model.StageTemplate, 0, len(stages))
	for i := range stages {
		if stages[i].ID == id {
			s := stages[i]
			removed = &s
			continue
		}
		rest = append(rest, stages[i])
	}
	return Renumber(rest), removed
}
