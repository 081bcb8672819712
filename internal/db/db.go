package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const defaultDBName = "dossierline.db"

// Dialect selects SQL flavour differences (placeholders, identity columns).
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

type Config struct {
	Workspace string
	Driver    string
	DSN       string
}

func (c Config) Dialect() Dialect {
	if c.Driver == string(Postgres) {
		return Postgres
	}
	return SQLite
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".dossierline", defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, ".dossierline")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the configured database. SQLite lives in the workspace with foreign keys on;
// postgres uses the DSN as given.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Dialect() == Postgres {
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("postgres dsn required")
		}
		return sql.Open("postgres", cfg.DSN)
	}
	dsn := cfg.DSN
	if dsn == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg.Workspace))
	}
	return sql.Open("sqlite", dsn)
}

// Path returns the sqlite db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// Rebind rewrites ? placeholders to $n for postgres. Queries in this module never
// contain literal question marks.
func Rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
