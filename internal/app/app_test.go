package app

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"dossierline/internal/config"
	"dossierline/internal/engine"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), AdminID: "u-admin", AdminName: "Admin"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	who, err := a.Engine.WhoAmI(ctx, "u-admin")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !who.User.HasRole(engine.AdminRole) || len(who.Permissions) == 0 {
		t.Fatalf("admin not bootstrapped: %+v", who)
	}
	if a.Engine.Cache != nil {
		t.Fatalf("cache should be off without redis_addr")
	}
}

func TestOpenWiresRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ws := t.TempDir()
	yml := config.GenerateDefault("Bureau Test")
	yml = strings.Replace(yml, "cache:\n  ttl: 30s", "cache:\n  ttl: 30s\n  redis_addr: "+mr.Addr(), 1)
	if err := os.WriteFile(config.Path(ws), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: ws, AdminID: "u-admin"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Engine.Cache == nil {
		t.Fatalf("expected lead cache")
	}
	if a.Config.Office.Name != "Bureau Test" {
		t.Fatalf("office %q", a.Config.Office.Name)
	}

	lead, err := a.Engine.CreateLead(ctx, engine.LeadInput{ID: "L-1", ClientName: "Fam. Visser"}, "u-admin")
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	if _, err := a.Engine.GetLead(ctx, lead.ID, "u-admin"); err != nil {
		t.Fatalf("get lead: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 {
		t.Fatalf("expected one cached lead, got %v", keys)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(config.Path(ws), []byte("storage:\n  driver: mysql\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Open(context.Background(), Options{Workspace: ws}); err == nil {
		t.Fatalf("expected config error")
	}
}
