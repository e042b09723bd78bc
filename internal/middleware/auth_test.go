package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/school-registry/registro/internal/auth"
	"github.com/school-registry/registro/internal/db/models"
	"github.com/school-registry/registro/internal/requestctx"
)

const testSecret = "middleware-test-secret-at-least-32-chars!"

func newVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(testSecret, "registro")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func newAuthRouter(v *auth.Verifier, extra ...gin.HandlerFunc) (*gin.Engine, *requestctx.Actor) {
	var seen requestctx.Actor
	r := gin.New()
	r.Use(AuthMiddleware(v))
	handlers := append(extra, func(c *gin.Context) {
		seen, _ = ActorFrom(c)
		c.Status(http.StatusOK)
	})
	r.GET("/protected", handlers...)
	return r, &seen
}

func doGet(r http.Handler, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// AuthMiddleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	r, _ := newAuthRouter(newVerifier(t))

	for _, header := range []string{"", "Basic dXNlcjpwYXNz", "Bearer ", "Bearer not-a-jwt"} {
		if w := doGet(r, header); w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestAuthMiddleware_RejectsTokenFromOtherSecret(t *testing.T) {
	other, err := auth.NewVerifier("some-other-secret-that-is-32-chars-long", "registro")
	if err != nil {
		t.Fatal(err)
	}
	token, err := other.Generate(3, "mrossi", models.RoleTeacher, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	r, _ := newAuthRouter(newVerifier(t))
	if w := doGet(r, "Bearer "+token); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_SetsActor(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate(3, "mrossi", models.RoleTeacher, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	r, seen := newAuthRouter(v)
	w := doGet(r, "Bearer "+token)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if seen.UserID == nil || *seen.UserID != 3 {
		t.Errorf("UserID = %v, want 3", seen.UserID)
	}
	if seen.Username != "mrossi" || seen.Role != models.RoleTeacher {
		t.Errorf("actor = %+v", *seen)
	}
	if seen.Impersonator != nil {
		t.Errorf("Impersonator = %q, want nil", *seen.Impersonator)
	}
}

// ---------------------------------------------------------------------------
// RequireRole
// ---------------------------------------------------------------------------

func TestRequireRole(t *testing.T) {
	v := newVerifier(t)
	r, _ := newAuthRouter(v, RequireRole(models.RoleStaff, models.RolePrincipal))

	tests := []struct {
		role string
		want int
	}{
		{models.RoleStaff, http.StatusOK},
		{models.RolePrincipal, http.StatusOK},
		{models.RoleTeacher, http.StatusForbidden},
		{models.RoleStudent, http.StatusForbidden},
	}
	for _, tt := range tests {
		token, err := v.Generate(9, "utente", tt.role, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if w := doGet(r, "Bearer "+token); w.Code != tt.want {
			t.Errorf("role %s: status = %d, want %d", tt.role, w.Code, tt.want)
		}
	}
}

func TestRequireRole_WithoutActor(t *testing.T) {
	r := gin.New()
	r.GET("/protected", RequireRole(models.RoleStaff), func(c *gin.Context) { c.Status(http.StatusOK) })

	if w := doGet(r, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
