package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/labcase-api/internal/handler"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/pkg/auth"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/httputil"
)

// ActorResolver loads the role set of an authenticated user.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID uuid.UUID, email string) (*model.ActingUser, error)
	HasPermission(ctx context.Context, userID uuid.UUID, permission string) (bool, error)
}

type AuthMiddleware struct {
	tokens *auth.TokenValidator
	rbac   ActorResolver
}

func NewAuthMiddleware(tokens *auth.TokenValidator, rbac ActorResolver) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		rbac:   rbac,
	}
}

// Authenticate verifies the bearer token and stores the acting user, with
// its roles, in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthenticated())
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		claims, err := m.tokens.Validate(parts[1])
		if err != nil {
			log.Debug().Err(err).Msg("Token rejected")
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		actor, err := m.rbac.ResolveActor(c.Request.Context(), userID, claims.Email)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}

		handler.SetActor(c, actor)
		c.Next()
	}
}

// RequirePermission rejects acting users none of whose roles grant permission.
func (m *AuthMiddleware) RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := handler.Actor(c)
		if actor == nil {
			httputil.RespondWithError(c, errors.Unauthenticated())
			return
		}

		ok, err := m.rbac.HasPermission(c.Request.Context(), actor.UserID, permission)
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		if !ok {
			httputil.RespondWithError(c, errors.Forbidden("permission denied: "+permission))
			return
		}

		c.Next()
	}
}
