package repo

import (
	"context"
	"database/sql"
	"strings"

	"dossierline/internal/domain"
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO users(id,name,email,created_at) VALUES (?,?,?,?)`),
		u.ID, u.Name, nullable(u.Email), u.CreatedAt)
	return err
}

// EnsureUser inserts the user when missing; an existing row is left untouched.
func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	if name == "" {
		name = id
	}
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO users(id,name,created_at) VALUES (?,?,?) ON CONFLICT (id) DO NOTHING`), id, name, now)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return r.getUser(ctx, r.DB, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return r.getUser(ctx, tx, id)
}

func (r Repo) getUser(ctx context.Context, q queryer, id string) (domain.User, error) {
	var u domain.User
	var email sql.NullString
	err := q.QueryRowContext(ctx, r.q(`SELECT id,name,email,created_at FROM users WHERE id=?`), id).
		Scan(&u.ID, &u.Name, &email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Email = email.String
	roles, err := r.userRoles(ctx, q, id)
	if err != nil {
		return u, err
	}
	u.Roles = roles
	return u, nil
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,email,created_at FROM users ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	var users []domain.User
	for rows.Next() {
		var u domain.User
		var email sql.NullString
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		u.Email = email.String
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range users {
		roles, err := r.userRoles(ctx, r.DB, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Roles = roles
	}
	return users, nil
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO roles(id, description) VALUES (?,?) ON CONFLICT (id) DO NOTHING`), id, nullable(desc))
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO role_permissions(role_id, permission_id) VALUES (?,?) ON CONFLICT (role_id, permission_id) DO NOTHING`), roleID, permID)
	return err
}

// ClearRolePermissions drops the permission set of a role so config can reseed it.
func (r Repo) ClearRolePermissions(ctx context.Context, tx *sql.Tx, roleID string) error {
	_, err := tx.ExecContext(ctx, r.q(`DELETE FROM role_permissions WHERE role_id=?`), roleID)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, userID, roleID string) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO user_roles(user_id, role_id) VALUES (?,?) ON CONFLICT (user_id, role_id) DO NOTHING`), userID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, userID, roleID string) error {
	_, err := tx.ExecContext(ctx, r.q(`DELETE FROM user_roles WHERE user_id=? AND role_id=?`), userID, roleID)
	return err
}

func (r Repo) ListRoles(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT r.id, COALESCE(rp.permission_id,'') FROM roles r LEFT JOIN role_permissions rp ON rp.role_id=r.id ORDER BY r.id, rp.permission_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]string{}
	for rows.Next() {
		var role, perm string
		if err := rows.Scan(&role, &perm); err != nil {
			return nil, err
		}
		if _, ok := out[role]; !ok {
			out[role] = []string{}
		}
		if strings.TrimSpace(perm) != "" {
			out[role] = append(out[role], perm)
		}
	}
	return out, rows.Err()
}

func (r Repo) userRoles(ctx context.Context, q queryer, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, r.q(`SELECT role_id FROM user_roles WHERE user_id=? ORDER BY role_id`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
