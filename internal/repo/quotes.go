package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"dossierline/internal/domain"
)

const quoteVersionColumns = `lead_id,version,created_at,created_by,value_cents,line_items_json,description,estimated_hours,status`

func scanQuoteVersion(s scanner) (domain.QuoteVersion, error) {
	var v domain.QuoteVersion
	var value int64
	var itemsJSON string
	var desc sql.NullString
	var hours sql.NullFloat64
	err := s.Scan(&v.LeadID, &v.Version, &v.CreatedAt, &v.CreatedBy, &value, &itemsJSON, &desc, &hours, &v.Status)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	v.Value = domain.Money(value)
	v.Description = desc.String
	if hours.Valid {
		h := hours.Float64
		v.EstimatedHours = &h
	}
	v.LineItems = []domain.LineItem{}
	if err := json.Unmarshal([]byte(itemsJSON), &v.LineItems); err != nil {
		return v, fmt.Errorf("decode version %d line items: %w", v.Version, err)
	}
	return v, nil
}

// InsertQuoteVersion appends a version. The (lead_id, version) primary key rejects reuse.
func (r Repo) InsertQuoteVersion(ctx context.Context, tx *sql.Tx, v domain.QuoteVersion) error {
	items, err := encodeList(v.LineItems)
	if err != nil {
		return fmt.Errorf("encode line items: %w", err)
	}
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO quote_versions(`+quoteVersionColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`),
		v.LeadID, v.Version, v.CreatedAt, v.CreatedBy, int64(v.Value), items, nullable(v.Description), nullableFloatPtr(v.EstimatedHours), string(v.Status))
	return err
}

func (r Repo) UpdateQuoteVersionStatus(ctx context.Context, tx *sql.Tx, leadID string, version int, status domain.QuoteVersionStatus) error {
	res, err := tx.ExecContext(ctx, r.q(`UPDATE quote_versions SET status=? WHERE lead_id=? AND version=?`), string(status), leadID, version)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

// LatestQuoteVersionTx returns the highest version, or ErrNotFound when none exist.
func (r Repo) LatestQuoteVersionTx(ctx context.Context, tx *sql.Tx, leadID string) (domain.QuoteVersion, error) {
	return scanQuoteVersion(tx.QueryRowContext(ctx, r.q(`SELECT `+quoteVersionColumns+` FROM quote_versions WHERE lead_id=? ORDER BY version DESC LIMIT 1`), leadID))
}

func (r Repo) GetQuoteVersion(ctx context.Context, leadID string, version int) (domain.QuoteVersion, error) {
	return r.getQuoteVersion(ctx, r.DB, leadID, version)
}

func (r Repo) GetQuoteVersionTx(ctx context.Context, tx *sql.Tx, leadID string, version int) (domain.QuoteVersion, error) {
	return r.getQuoteVersion(ctx, tx, leadID, version)
}

func (r Repo) getQuoteVersion(ctx context.Context, q queryer, leadID string, version int) (domain.QuoteVersion, error) {
	return scanQuoteVersion(q.QueryRowContext(ctx, r.q(`SELECT `+quoteVersionColumns+` FROM quote_versions WHERE lead_id=? AND version=?`), leadID, version))
}

// ListQuoteVersions returns versions in ascending order.
func (r Repo) ListQuoteVersions(ctx context.Context, leadID string) ([]domain.QuoteVersion, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+quoteVersionColumns+` FROM quote_versions WHERE lead_id=? ORDER BY version ASC`), leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	versions := []domain.QuoteVersion{}
	for rows.Next() {
		v, err := scanQuoteVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// InsertFeedback appends a feedback record after the existing ones of the lead.
func (r Repo) InsertFeedback(ctx context.Context, tx *sql.Tx, leadID string, fb domain.Feedback) error {
	var seq int
	if err := tx.QueryRowContext(ctx, r.q(`SELECT COALESCE(MAX(seq),0)+1 FROM quote_feedback WHERE lead_id=?`), leadID).Scan(&seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO quote_feedback(id,lead_id,seq,type,message,author_name,created_at) VALUES (?,?,?,?,?,?,?)`),
		fb.ID, leadID, seq, string(fb.Type), fb.Message, fb.AuthorName, fb.Timestamp)
	return err
}

func (r Repo) listFeedback(ctx context.Context, q queryer, leadID string) ([]domain.Feedback, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT id,type,message,author_name,created_at FROM quote_feedback WHERE lead_id=? ORDER BY seq ASC`), leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Feedback{}
	for rows.Next() {
		var fb domain.Feedback
		if err := rows.Scan(&fb.ID, &fb.Type, &fb.Message, &fb.AuthorName, &fb.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
