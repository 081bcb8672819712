package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"dossierline/internal/db"
	"dossierline/internal/domain"
)

const leadColumns = `id,client_name,client_email,client_phone,client_company,project_type,address,city,value_cents,notes,
status,execution_phase,design_phase,is_complex_project,
assignee,assigned_projectleider,assigned_rekenaar,assigned_tekenaar,aan_zet,
quote_approval,quote_value_cents,quote_description,quote_line_items_json,quote_estimated_hours,
specifications_json,created_at,updated_at`

func scanLead(s scanner) (domain.Lead, error) {
	var l domain.Lead
	var email, phone, company, projectType, address, city, notes sql.NullString
	var execPhase, designPhase, assignee, pl, rek, tek, aanZet, quoteDesc sql.NullString
	var value, quoteValue int64
	var hours sql.NullFloat64
	var itemsJSON, specsJSON string
	err := s.Scan(&l.ID, &l.ClientName, &email, &phone, &company, &projectType, &address, &city, &value, &notes,
		&l.Status, &execPhase, &designPhase, &l.IsComplexProject,
		&assignee, &pl, &rek, &tek, &aanZet,
		&l.QuoteApproval, &quoteValue, &quoteDesc, &itemsJSON, &hours,
		&specsJSON, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	l.ClientEmail = email.String
	l.ClientPhone = phone.String
	l.ClientCompany = company.String
	l.ProjectType = projectType.String
	l.Address = address.String
	l.City = city.String
	l.Notes = notes.String
	l.Value = domain.Money(value)
	l.ExecutionPhase = enumPtr[domain.Phase](execPhase)
	l.DesignPhase = enumPtr[domain.Phase](designPhase)
	l.Assignee = stringPtr(assignee)
	l.AssignedProjectleider = stringPtr(pl)
	l.AssignedRekenaar = stringPtr(rek)
	l.AssignedTekenaar = stringPtr(tek)
	l.AanZet = enumPtr[domain.Role](aanZet)
	l.QuoteValue = domain.Money(quoteValue)
	l.QuoteDescription = quoteDesc.String
	if hours.Valid {
		h := hours.Float64
		l.QuoteEstimatedHours = &h
	}
	l.QuoteLineItems = []domain.LineItem{}
	if err := json.Unmarshal([]byte(itemsJSON), &l.QuoteLineItems); err != nil {
		return l, fmt.Errorf("decode line items of lead %s: %w", l.ID, err)
	}
	l.Specifications = []domain.Specification{}
	if err := json.Unmarshal([]byte(specsJSON), &l.Specifications); err != nil {
		return l, fmt.Errorf("decode specifications of lead %s: %w", l.ID, err)
	}
	return l, nil
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func leadArgs(l domain.Lead) ([]any, error) {
	items, err := encodeList(l.QuoteLineItems)
	if err != nil {
		return nil, fmt.Errorf("encode line items: %w", err)
	}
	specs, err := encodeList(l.Specifications)
	if err != nil {
		return nil, fmt.Errorf("encode specifications: %w", err)
	}
	return []any{
		l.ClientName, nullable(l.ClientEmail), nullable(l.ClientPhone), nullable(l.ClientCompany),
		nullable(l.ProjectType), nullable(l.Address), nullable(l.City), int64(l.Value), nullable(l.Notes),
		string(l.Status), nullableEnum(l.ExecutionPhase), nullableEnum(l.DesignPhase), l.IsComplexProject,
		nullableStringPtr(l.Assignee), nullableStringPtr(l.AssignedProjectleider), nullableStringPtr(l.AssignedRekenaar),
		nullableStringPtr(l.AssignedTekenaar), nullableEnum(l.AanZet),
		string(l.QuoteApproval), int64(l.QuoteValue), nullable(l.QuoteDescription), items, nullableFloatPtr(l.QuoteEstimatedHours),
		specs, l.UpdatedAt,
	}, nil
}

func (r Repo) InsertLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	args, err := leadArgs(l)
	if err != nil {
		return err
	}
	args = append([]any{l.ID}, args...)
	args = append(args, l.CreatedAt)
	_, err = tx.ExecContext(ctx, r.q(`INSERT INTO leads(id,client_name,client_email,client_phone,client_company,project_type,address,city,value_cents,notes,
status,execution_phase,design_phase,is_complex_project,
assignee,assigned_projectleider,assigned_rekenaar,assigned_tekenaar,aan_zet,
quote_approval,quote_value_cents,quote_description,quote_line_items_json,quote_estimated_hours,
specifications_json,updated_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`), args...)
	return err
}

// UpdateLead rewrites every mutable column of the lead row.
func (r Repo) UpdateLead(ctx context.Context, tx *sql.Tx, l domain.Lead) error {
	args, err := leadArgs(l)
	if err != nil {
		return err
	}
	args = append(args, l.ID)
	res, err := tx.ExecContext(ctx, r.q(`UPDATE leads SET client_name=?,client_email=?,client_phone=?,client_company=?,project_type=?,address=?,city=?,value_cents=?,notes=?,
status=?,execution_phase=?,design_phase=?,is_complex_project=?,
assignee=?,assigned_projectleider=?,assigned_rekenaar=?,assigned_tekenaar=?,aan_zet=?,
quote_approval=?,quote_value_cents=?,quote_description=?,quote_line_items_json=?,quote_estimated_hours=?,
specifications_json=?,updated_at=? WHERE id=?`), args...)
	if err != nil {
		return err
	}
	return affectedOne(res)
}

func (r Repo) GetLead(ctx context.Context, id string) (domain.Lead, error) {
	return r.getLead(ctx, r.DB, id, false)
}

// GetLeadTx reads the lead inside tx; guards evaluate against this read. On postgres the
// row stays locked until tx ends so concurrent guards on the same lead serialize.
func (r Repo) GetLeadTx(ctx context.Context, tx *sql.Tx, id string) (domain.Lead, error) {
	return r.getLead(ctx, tx, id, true)
}

// leadQuery selects one lead. SQLite takes the database write lock on the first write
// instead of supporting row locks.
func (r Repo) leadQuery(forUpdate bool) string {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id=?`
	if forUpdate && r.Dialect == db.Postgres {
		query += ` FOR UPDATE`
	}
	return r.q(query)
}

func (r Repo) getLead(ctx context.Context, q queryer, id string, forUpdate bool) (domain.Lead, error) {
	l, err := scanLead(q.QueryRowContext(ctx, r.leadQuery(forUpdate), id))
	if err != nil {
		return l, err
	}
	fb, err := r.listFeedback(ctx, q, id)
	if err != nil {
		return l, err
	}
	l.QuoteFeedback = fb
	return l, nil
}

type LeadFilters struct {
	Status   string
	AanZet   string
	Assignee string
	Query    string
	Limit    int
}

func (r Repo) ListLeads(ctx context.Context, f LeadFilters) ([]domain.Lead, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AanZet != "" {
		clauses = append(clauses, "aan_zet=?")
		args = append(args, f.AanZet)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "(assignee=? OR assigned_projectleider=? OR assigned_rekenaar=? OR assigned_tekenaar=?)")
		args = append(args, f.Assignee, f.Assignee, f.Assignee, f.Assignee)
	}
	if f.Query != "" {
		clauses = append(clauses, "(LOWER(client_name) LIKE ? OR LOWER(COALESCE(city,'')) LIKE ?)")
		like := "%" + strings.ToLower(f.Query) + "%"
		args = append(args, like, like)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, r.q(fmt.Sprintf(`SELECT %s FROM leads %s ORDER BY created_at DESC, id DESC LIMIT ?`, leadColumns, where)), args...)
	if err != nil {
		return nil, err
	}
	var leads []domain.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range leads {
		fb, err := r.listFeedback(ctx, r.DB, leads[i].ID)
		if err != nil {
			return nil, err
		}
		leads[i].QuoteFeedback = fb
	}
	return leads, nil
}
