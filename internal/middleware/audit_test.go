package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/audit"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/db/schema"
	"github.com/school-registry/registro/internal/db/uow"
	"github.com/school-registry/registro/internal/requestctx"
)

type fakeFlusher struct {
	listeners []*audit.Listener
	ctxErr    error
	err       error
}

func (f *fakeFlusher) Flush(ctx context.Context, l *audit.Listener) error {
	f.listeners = append(f.listeners, l)
	f.ctxErr = ctx.Err()
	return f.err
}

type seenRequest struct {
	info  requestctx.Info
	hooks uow.Hooks
}

func newAuditRouter(flusher AuditFlusher, actor *requestctx.Actor) (*gin.Engine, *seenRequest) {
	seen := &seenRequest{}
	r := gin.New()
	r.Use(RequestIDMiddleware())
	if actor != nil {
		r.Use(func(c *gin.Context) { c.Set(ActorKey, *actor) })
	}
	r.Use(AuditMiddleware(models.NewSchema(), flusher))
	r.POST("/api/circulars/:id/publish", func(c *gin.Context) {
		seen.info = requestctx.From(c.Request.Context())
		seen.hooks = uow.HooksFrom(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r, seen
}

func post(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.RemoteAddr = "10.1.1.1:4000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// AuditMiddleware
// ---------------------------------------------------------------------------

func TestAuditMiddleware_AttachesRequestInfo(t *testing.T) {
	id := int64(3)
	actor := requestctx.Actor{UserID: &id, Username: "mrossi", Role: models.RoleTeacher}
	r, seen := newAuditRouter(&fakeFlusher{}, &actor)

	post(r, "/api/circulars/42/publish")

	if seen.info.Route != "POST /api/circulars/:id/publish" {
		t.Errorf("Route = %q", seen.info.Route)
	}
	if seen.info.ClientIP != "10.1.1.1" {
		t.Errorf("ClientIP = %q", seen.info.ClientIP)
	}
	if seen.info.RequestID != "req-1" {
		t.Errorf("RequestID = %q", seen.info.RequestID)
	}
	if seen.info.Actor.Username != "mrossi" || seen.info.Actor.UserID == nil || *seen.info.Actor.UserID != 3 {
		t.Errorf("Actor = %+v", seen.info.Actor)
	}
}

func TestAuditMiddleware_AnonymousRequestUsesSentinels(t *testing.T) {
	r, seen := newAuditRouter(&fakeFlusher{}, nil)

	post(r, "/api/circulars/42/publish")

	if seen.info.Actor.Username != models.AnonymousUser || seen.info.Actor.Role != models.NoRole {
		t.Errorf("Actor = %+v, want anonymous sentinels", seen.info.Actor)
	}
}

func TestAuditMiddleware_FlushesListenerAfterHandler(t *testing.T) {
	flusher := &fakeFlusher{}
	r, seen := newAuditRouter(flusher, nil)

	post(r, "/api/circulars/42/publish")

	if len(flusher.listeners) != 1 {
		t.Fatalf("Flush called %d times, want 1", len(flusher.listeners))
	}
	if seen.hooks != uow.Hooks(flusher.listeners[0]) {
		t.Error("handler context does not carry the flushed listener")
	}
	if flusher.ctxErr != nil {
		t.Errorf("flush context already done: %v", flusher.ctxErr)
	}
}

func TestAuditMiddleware_FlushesWhenHandlerPanicsAfterCommit(t *testing.T) {
	flusher := &fakeFlusher{}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AuditMiddleware(models.NewSchema(), flusher))
	var hooks uow.Hooks
	r.DELETE("/api/circulars/:id", func(c *gin.Context) {
		ctx := c.Request.Context()
		hooks = uow.HooksFrom(ctx)
		hooks.OnStagedChanges(ctx, uow.Staged{Deletions: []schema.Entity{&models.Circular{ID: 7}}})
		hooks.OnCommitted(ctx)
		panic("rendering failed")
	})

	req := httptest.NewRequest(http.MethodDelete, "/api/circulars/7", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if len(flusher.listeners) != 1 {
		t.Fatalf("Flush called %d times, want 1", len(flusher.listeners))
	}
	if hooks != uow.Hooks(flusher.listeners[0]) {
		t.Fatal("flushed listener is not the one the handler committed through")
	}
	if records := flusher.listeners[0].Drain(); len(records) != 1 {
		t.Errorf("captured %d records, want the committed deletion", len(records))
	}
}

func TestAuditMiddleware_FlushErrorKeepsResponse(t *testing.T) {
	r, _ := newAuditRouter(&fakeFlusher{err: errors.New("db down")}, nil)

	if w := post(r, "/api/circulars/42/publish"); w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestAuditMiddleware_DisabledCapturesNothing(t *testing.T) {
	r, seen := newAuditRouter(nil, nil)

	post(r, "/api/circulars/42/publish")

	if seen.hooks != nil {
		t.Errorf("hooks = %T, want nil when auditing is disabled", seen.hooks)
	}
	if seen.info.RequestID != "req-1" {
		t.Errorf("RequestID = %q, request info must still be attached", seen.info.RequestID)
	}
}
