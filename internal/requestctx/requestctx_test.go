package requestctx

import (
	"context"
	"testing"

	"github.com/school-registry/registro/internal/db/models"
)

func TestFrom_EmptyContextUsesConsoleSentinels(t *testing.T) {
	info := From(context.Background())
	if info.Actor.Username != models.AnonymousUser {
		t.Errorf("Username = %q, want %q", info.Actor.Username, models.AnonymousUser)
	}
	if info.Actor.Role != models.NoRole {
		t.Errorf("Role = %q, want %q", info.Actor.Role, models.NoRole)
	}
	if info.Route != models.CommandOrigin {
		t.Errorf("Route = %q, want %q", info.Route, models.CommandOrigin)
	}
	if info.ClientIP != models.ConsoleIP {
		t.Errorf("ClientIP = %q, want %q", info.ClientIP, models.ConsoleIP)
	}
	if info.Actor.UserID != nil {
		t.Errorf("UserID = %v, want nil", *info.Actor.UserID)
	}
}

func TestFrom_RoundTrip(t *testing.T) {
	id := int64(31)
	alias := "admin"
	ctx := With(context.Background(), Info{
		Actor:     Actor{UserID: &id, Username: "mrossi", Role: "Docente", Impersonator: &alias},
		Route:     "circulars.publish",
		ClientIP:  "10.0.0.8",
		RequestID: "req-1",
	})

	info := From(ctx)
	if info.Actor.Username != "mrossi" || *info.Actor.UserID != 31 {
		t.Errorf("actor = %+v", info.Actor)
	}
	if info.Actor.Impersonator == nil || *info.Actor.Impersonator != "admin" {
		t.Errorf("Impersonator = %v, want admin", info.Actor.Impersonator)
	}
	if info.Route != "circulars.publish" || info.ClientIP != "10.0.0.8" || info.RequestID != "req-1" {
		t.Errorf("info = %+v", info)
	}
}

func TestFrom_PartialInfoFilled(t *testing.T) {
	ctx := With(context.Background(), Info{ClientIP: "1.2.3.4"})
	info := From(ctx)
	if info.Actor.Username != models.AnonymousUser || info.Actor.Role != models.NoRole {
		t.Errorf("actor = %+v, want anonymous sentinels", info.Actor)
	}
	if info.ClientIP != "1.2.3.4" {
		t.Errorf("ClientIP = %q", info.ClientIP)
	}
}

func TestConsole_CustomOrigin(t *testing.T) {
	if got := Console("queuectl.flush-audit").Route; got != "queuectl.flush-audit" {
		t.Errorf("Route = %q", got)
	}
	if got := Console("").Route; got != models.CommandOrigin {
		t.Errorf("Route = %q, want %q", got, models.CommandOrigin)
	}
}
