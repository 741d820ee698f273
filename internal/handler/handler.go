// Package handler holds what the HTTP handlers and middleware share: the
// context keys set during authentication and small request helpers.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/errors"
)

const (
	ActorKey     = "actor"
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"
)

// Actor returns the acting user resolved by the auth middleware, or nil.
func Actor(c *gin.Context) *model.ActingUser {
	v, ok := c.Get(ActorKey)
	if !ok {
		return nil
	}
	actor, _ := v.(*model.ActingUser)
	return actor
}

func SetActor(c *gin.Context, actor *model.ActingUser) {
	c.Set(ActorKey, actor)
	c.Set(UserIDKey, actor.UserID.String())
}

// ParamUUID parses a path parameter as a UUID.
func ParamUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errors.BadRequest("invalid "+name, err)
	}
	return id, nil
}
