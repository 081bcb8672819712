package repo

import (
	"strings"
	"testing"

	"dossierline/internal/db"
)

func TestLeadQueryLocksRowOnPostgres(t *testing.T) {
	pg := Repo{Dialect: db.Postgres}
	if q := pg.leadQuery(true); !strings.HasSuffix(q, "WHERE id=$1 FOR UPDATE") {
		t.Fatalf("expected row lock, got %q", q)
	}
	if q := pg.leadQuery(false); strings.Contains(q, "FOR UPDATE") {
		t.Fatalf("plain read must not lock: %q", q)
	}
	lite := Repo{Dialect: db.SQLite}
	if q := lite.leadQuery(true); strings.Contains(q, "FOR UPDATE") || !strings.HasSuffix(q, "WHERE id=?") {
		t.Fatalf("sqlite has no row locks: %q", q)
	}
}
