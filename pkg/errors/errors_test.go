package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
	}{
		{NotFound("case", nil), http.StatusNotFound},
		{BadRequest("bad", nil), http.StatusBadRequest},
		{Unauthenticated(), http.StatusUnauthorized},
		{NoRolesAssigned(), http.StatusForbidden},
		{RoleNotAuthorized("Analyze"), http.StatusForbidden},
		{NoStagesDefined(), http.StatusBadRequest},
		{InvalidTargetOrder(4, 3), http.StatusBadRequest},
		{StageInUse(2), http.StatusConflict},
		{Internal(fmt.Errorf("boom")), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.status, tc.err.StatusCode(), tc.err.Reason)
	}
}

func TestHasReasonThroughWrapping(t *testing.T) {
	err := fmt.Errorf("advance: %w", RoleNotAuthorized("Analyze"))

	assert.True(t, HasReason(err, ReasonRoleNotAuthorized))
	assert.False(t, HasReason(err, ReasonNoRolesAssigned))
	assert.True(t, IsCode(err, ErrForbidden))
	assert.False(t, HasReason(fmt.Errorf("plain"), ReasonRoleNotAuthorized))
}

func TestStageInUseCarriesCount(t *testing.T) {
	err := StageInUse(3)

	assert.Equal(t, 3, err.Details["count"])
	assert.Contains(t, err.Error(), "3 case(s)")
}
