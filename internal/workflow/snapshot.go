package workflow

import "github.com/jwalitptl/labcase-api/internal/model"

// Snapshot builds the pending stage rows for a new case of type ct.
func Snapshot(ct *model.CaseType) model.StageRows {
	stages := Renumber(ct.Stages)
	rows := make(model.StageRows, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, model.CaseStageState{
			StageID: s.ID,
			Order:   s.Order,
			Status:  model.StageStatusPending,
		})
	}
	return rows
}
