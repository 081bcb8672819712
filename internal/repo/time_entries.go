package repo

import (
	"context"
	"database/sql"
	"strings"

	"dossierline/internal/domain"
)

const timeEntryColumns = `id,user_id,lead_id,date,duration,category,description,created_at`

func scanTimeEntry(s scanner) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	var leadID, desc sql.NullString
	err := s.Scan(&e.ID, &e.UserID, &leadID, &e.Date, &e.Duration, &e.Category, &desc, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.LeadID = stringPtr(leadID)
	e.Description = desc.String
	return e, nil
}

func (r Repo) InsertTimeEntry(ctx context.Context, tx *sql.Tx, e domain.TimeEntry) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO time_entries(`+timeEntryColumns+`) VALUES (?,?,?,?,?,?,?,?)`),
		e.ID, e.UserID, nullableStringPtr(e.LeadID), e.Date, e.Duration, string(e.Category), nullable(e.Description), e.CreatedAt)
	return err
}

func (r Repo) GetTimeEntryTx(ctx context.Context, tx *sql.Tx, id string) (domain.TimeEntry, error) {
	return scanTimeEntry(tx.QueryRowContext(ctx, r.q(`SELECT `+timeEntryColumns+` FROM time_entries WHERE id=?`), id))
}

func (r Repo) DeleteTimeEntry(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM time_entries WHERE id=?`), id)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// TimeFilters bounds are inclusive YYYY-MM-DD dates.
type TimeFilters struct {
	UserID string
	LeadID string
	From   string
	To     string
}

func (r Repo) ListTimeEntries(ctx context.Context, f TimeFilters) ([]domain.TimeEntry, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.LeadID != "" {
		clauses = append(clauses, "lead_id=?")
		args = append(args, f.LeadID)
	}
	if f.From != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "date<=?")
		args = append(args, f.To)
	}
	query := `SELECT ` + timeEntryColumns + ` FROM time_entries`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY date ASC, created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []domain.TimeEntry{}
	for rows.Next() {
		e, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
