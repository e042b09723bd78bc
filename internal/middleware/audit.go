// audit.go wires commit-time change capture into every request: each request gets
// its own audit.Listener attached to the request context, and the records it
// captured are persisted once the handler has returned or panicked.
package middleware

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/audit"
	"github.com/school-registry/registro/internal/db/schema"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/requestctx"
)

// AuditFlusher persists the records captured by a listener.
type AuditFlusher interface {
	Flush(ctx context.Context, l *audit.Listener) error
}

// AuditMiddleware attaches the request metadata to the request context and, when
// persister is not nil, captures the changes committed by the handler.
func AuditMiddleware(reg *schema.Registry, persister AuditFlusher) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := requestctx.Info{
			Route:    routeName(c),
			ClientIP: c.ClientIP(),
		}
		if actor, ok := ActorFrom(c); ok {
			info.Actor = actor
		}
		if id, ok := c.Get(RequestIDKey); ok {
			info.RequestID, _ = id.(string)
		}
		ctx := requestctx.With(c.Request.Context(), info)

		if persister == nil {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			return
		}

		l := audit.NewListener(reg)
		ctx = uow.WithHooks(ctx, l)
		c.Request = c.Request.WithContext(ctx)

		// deferred so commits made before a handler panic are still recorded;
		// the client may be gone already, the changes are committed regardless
		defer func() {
			if err := persister.Flush(context.WithoutCancel(ctx), l); err != nil {
				slog.Error("failed to persist audit records",
					"route", info.Route, "request_id", info.RequestID, "error", err)
			}
		}()

		c.Next()
	}
}

func routeName(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return c.Request.Method + " " + path
}
