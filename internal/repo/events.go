package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"dossierline/internal/domain"
)

type EventFilters struct {
	LeadID     string
	Type       string
	EntityKind string
	Cursor     int64
	Limit      int
}

// LatestEvents returns events newest first. Cursor pages to ids below it.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.LeadID != "" {
		clauses = append(clauses, "lead_id=?")
		args = append(args, f.LeadID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,lead_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT id,ts,type,lead_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var leadID, entityID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &leadID, &e.EntityKind, &entityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		e.LeadID = leadID.String
		e.EntityID = entityID.String
		res = append(res, e)
	}
	return res, rows.Err()
}
