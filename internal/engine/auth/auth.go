package auth

import (
	"context"
	"database/sql"
	"fmt"

	"dossierline/internal/db"
)

// Permissions checked by the engine.
const (
	PermLeadCreate    = "lead.create"
	PermLeadRead      = "lead.read"
	PermLeadUpdate    = "lead.update"
	PermLeadStatus    = "lead.status.update"
	PermLeadPhase     = "lead.phase.update"
	PermLeadAssign    = "lead.assign"
	PermQuoteSubmit   = "quote.submit"
	PermQuoteApprove  = "quote.approve"
	PermQuoteReject   = "quote.reject"
	PermQuoteSend     = "quote.send"
	PermQuoteRollback = "quote.rollback"
	PermTeamAssign    = "team.assign"
	PermTeamAanZet    = "team.aanzet.update"
	PermTimeCreate    = "time.create"
	PermTimeManage    = "time.manage"
	PermTimeReadTeam  = "time.read.team"
	PermUserManage    = "user.manage"
	PermEventsRead    = "events.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB      *sql.DB
	Dialect db.Dialect
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s Service) q(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return s.DB
}

func (s Service) UserHasPermission(ctx context.Context, tx *sql.Tx, userID, perm string) (bool, error) {
	row := s.q(tx).QueryRowContext(ctx, db.Rebind(s.Dialect, `
SELECT 1 FROM user_roles ur
JOIN role_permissions rp ON rp.role_id=ur.role_id
WHERE ur.user_id=? AND rp.permission_id=? LIMIT 1`),
		userID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Require returns ForbiddenError when the user lacks perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, userID, perm string) error {
	ok, err := s.UserHasPermission(ctx, tx, userID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) UserPermissions(ctx context.Context, tx *sql.Tx, userID string) ([]string, error) {
	rows, err := s.q(tx).QueryContext(ctx, db.Rebind(s.Dialect, `
SELECT DISTINCT rp.permission_id
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id=ur.role_id
WHERE ur.user_id=? ORDER BY rp.permission_id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
