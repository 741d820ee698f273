package workflow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

func TestAuthorize(t *testing.T) {
	labTech := model.Role{ID: uuid.New(), Name: "LabTech"}
	doctor := model.Role{ID: uuid.New(), Name: "Doctor"}

	restricted := &model.StageTemplate{Name: "Analyze", AllowedRoles: []uuid.UUID{labTech.ID}}
	open := &model.StageTemplate{Name: "Collect"}

	err := Authorize(&model.ActingUser{Roles: []model.Role{doctor}}, restricted)
	assert.True(t, errors.HasReason(err, errors.ReasonRoleNotAuthorized))

	assert.NoError(t, Authorize(&model.ActingUser{Roles: []model.Role{doctor, labTech}}, restricted))
	assert.NoError(t, Authorize(&model.ActingUser{Roles: []model.Role{doctor}}, open))

	err = Authorize(nil, open)
	assert.True(t, errors.HasReason(err, errors.ReasonUnauthenticated))

	err = Authorize(&model.ActingUser{UserID: uuid.New()}, open)
	assert.True(t, errors.HasReason(err, errors.ReasonNoRolesAssigned))
}
