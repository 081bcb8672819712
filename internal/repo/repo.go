package repo

import (
	"context"
	"database/sql"
	"errors"

	"dossierline/internal/db"
)

type Repo struct {
	DB      *sql.DB
	Dialect db.Dialect
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by *sql.DB and *sql.Tx so reads can run inside a mutation's
// transaction or on their own.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Dialect, query)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableEnum[T ~string](v *T) any {
	if v == nil || *v == "" {
		return nil
	}
	return string(*v)
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func enumPtr[T ~string](v sql.NullString) *T {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := T(v.String)
	return &t
}

func affectedOne(res sql.Result) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
