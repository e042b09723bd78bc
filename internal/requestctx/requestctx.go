// Package requestctx carries the identity of whoever triggered a unit of
// work (an HTTP request or a console command) through context.Context.
package requestctx

import (
	"context"

	"github.com/school-registry/registro/internal/db/models"
)

// Actor is the authenticated principal.
type Actor struct {
	UserID   *int64
	Username string
	Role     string
	// Impersonator is the username of the real user when acting as someone else.
	Impersonator *string
}

// Info is the request metadata recorded alongside every audit row.
type Info struct {
	Actor     Actor
	Route     string
	ClientIP  string
	RequestID string
}

type infoKey struct{}

// With attaches info to ctx.
func With(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info)
}

// From returns the request metadata attached to ctx. Missing values are
// filled with the anonymous/console sentinels so callers never see blanks.
func From(ctx context.Context) Info {
	info, ok := ctx.Value(infoKey{}).(Info)
	if !ok {
		return Console(models.CommandOrigin)
	}
	if info.Actor.Username == "" {
		info.Actor.Username = models.AnonymousUser
	}
	if info.Actor.Role == "" {
		info.Actor.Role = models.NoRole
	}
	if info.Route == "" {
		info.Route = models.CommandOrigin
	}
	if info.ClientIP == "" {
		info.ClientIP = models.ConsoleIP
	}
	return info
}

// Console returns the metadata used outside HTTP requests.
func Console(origin string) Info {
	if origin == "" {
		origin = models.CommandOrigin
	}
	return Info{
		Actor:    Actor{Username: models.AnonymousUser, Role: models.NoRole},
		Route:    origin,
		ClientIP: models.ConsoleIP,
	}
}
