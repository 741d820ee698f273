package workflow

import (
	"math"

	"github.com/jwalitptl/labcase-api/internal/model"
)

// Enrich joins a case's stage rows with the catalog templates for display.
// Rows whose template no longer exists are flagged Missing rather than
// dropped. ct may be nil.
func Enrich(c *model.Case, ct *model.CaseType) model.DisplayCase {
	d := model.DisplayCase{
		ID:                c.ID,
		Code:              c.Code,
		DoctorID:          c.DoctorID,
		PatientID:         c.PatientID,
		CaseTypeID:        c.CaseTypeID,
		Note:              c.Note,
		CurrentStageOrder: c.CurrentStageOrder,
		TotalStages:       c.TotalStages(),
		Delivery:          c.Delivery,
		Approval:          c.Approval,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
		Stages:            make([]model.DisplayStage, 0, len(c.Stages)),
	}
	if ct != nil {
		d.CaseTypeName = ct.Name
	}

	done := 0
	for _, row := range RenumberRows(c.Stages) {
		ds := model.DisplayStage{
			StageID:     row.StageID,
			Order:       row.Order,
			Status:      row.Status,
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
			AssigneeID:  row.AssigneeID,
			Note:        row.Note,
			Current:     row.Order == c.CurrentStageOrder,
		}
		var tmpl *model.StageTemplate
		if ct != nil {
			tmpl, _ = ct.Stage(row.StageID)
		}
		if tmpl != nil {
			ds.Name = tmpl.Name
			ds.Color = tmpl.Color
			ds.AllowedRoles = tmpl.AllowedRoles
		} else {
			ds.Missing = true
		}
		if ds.Current {
			d.CurrentStageName = ds.Name
		}
		if row.IsComplete() {
			done++
		}
		d.Stages = append(d.Stages, ds)
	}

	if len(c.Stages) > 0 {
		d.Progress = math.Round(float64(done)/float64(len(c.Stages))*1000) / 10
	}
	return d
}
