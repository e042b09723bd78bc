// Package middleware provides the Gin middleware shared by every API route.
//
// Ordering is enforced in router.go:
//
//	Recovery → RequestID → Metrics → SecurityHeaders → Auth → Audit → Handler
//
// Auth resolves the actor before Audit so every captured change is attributed to
// the user that made it.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/auth"
	"github.com/school-registry/registro/internal/requestctx"
)

// ActorKey is the gin.Context key holding the authenticated requestctx.Actor.
const ActorKey = "actor"

// AuthMiddleware validates the bearer token and stores the actor in the context.
func AuthMiddleware(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := v.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		id, _ := claims.UserID()
		actor := requestctx.Actor{UserID: &id, Username: claims.Username, Role: claims.Role}
		if claims.Impersonator != "" {
			imp := claims.Impersonator
			actor.Impersonator = &imp
		}
		c.Set(ActorKey, actor)
		c.Set("user_id", id)
		c.Next()
	}
}

// RequireRole rejects requests whose actor has none of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !slices.Contains(roles, actor.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor stored by AuthMiddleware.
func ActorFrom(c *gin.Context) (requestctx.Actor, bool) {
	v, ok := c.Get(ActorKey)
	if !ok {
		return requestctx.Actor{}, false
	}
	actor, ok := v.(requestctx.Actor)
	return actor, ok
}
