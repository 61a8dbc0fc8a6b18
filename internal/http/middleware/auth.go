package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-users-backend/internal/auth"
	"github.com/tbourn/go-users-backend/internal/domain"
)

// actorKey is the Gin context key holding the authenticated *domain.Actor.
const actorKey = "actor"

// Authenticate verifies an "Authorization: Bearer <jwt>" header with secret
// and, on success, attaches the resulting actor to the context.
//
// A missing or invalid token does not abort the request: handlers decide
// whether an actor is required and answer 401 themselves.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c.GetHeader("Authorization")); ok {
			actor, err := auth.ParseActor(token, secret)
			if err != nil {
				LoggerFrom(c).Debug().Err(err).Msg("bearer token rejected")
			} else {
				SetActor(c, actor)
			}
		}
		c.Next()
	}
}

// SetActor attaches actor to the request context.
func SetActor(c *gin.Context, actor *domain.Actor) {
	c.Set(actorKey, actor)
}

// ActorFrom returns the authenticated actor, or nil when the request carries
// no valid credentials.
func ActorFrom(c *gin.Context) *domain.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(*domain.Actor); ok {
			return a
		}
	}
	return nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
