package workflow

import (
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

// CheckActor rejects callers that cannot act on any stage.
func CheckActor(actor *model.ActingUser) error {
	if actor == nil {
		return errors.Unauthenticated()
	}
	if len(actor.Roles) == 0 {
		return errors.NoRolesAssigned()
	}
	return nil
}

// Authorize gates an action on a stage template. An open stage accepts any
// authenticated role.
func Authorize(actor *model.ActingUser, stage *model.StageTemplate) error {
	if err := CheckActor(actor); err != nil {
		return err
	}
	if stage.IsOpen() || actor.HasAnyRole(stage.AllowedRoles) {
		return nil
	}
	return errors.RoleNotAuthorized(stage.Name)
}
