package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/repo"
)

// AdminRole is the role seeded for the bootstrap user.
const AdminRole = "admin"

type UserInput struct {
	ID    string
	Name  string
	Email string
	Roles []string
}

type WhoAmI struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
}

// knownRole reports whether role is configured.
func (e Engine) knownRole(role string) bool {
	_, ok := e.cfg().RBAC.Roles[role]
	return ok
}

func (e Engine) checkRoles(roles []string) error {
	for _, r := range roles {
		if !e.knownRole(r) {
			return domain.Invalid("roles", "unknown role %q", r)
		}
	}
	return nil
}

// SeedRBAC writes the configured roles and permission sets. Permission sets are replaced
// so config edits take effect on the next start.
func (e Engine) SeedRBAC(ctx context.Context) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("seed rbac", err)
	}
	defer tx.Rollback()
	names := make([]string, 0, len(e.cfg().RBAC.Roles))
	for name := range e.cfg().RBAC.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		role := e.cfg().RBAC.Roles[name]
		if err := e.Repo.InsertRole(ctx, tx, name, role.Description); err != nil {
			return storageErr("seed rbac", err)
		}
		if err := e.Repo.ClearRolePermissions(ctx, tx, name); err != nil {
			return storageErr("seed rbac", err)
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.AddRolePermission(ctx, tx, name, perm); err != nil {
				return storageErr("seed rbac", err)
			}
		}
	}
	return storageErr("seed rbac", tx.Commit())
}

// Bootstrap ensures userID exists and holds the admin role, without permission checks.
func (e Engine) Bootstrap(ctx context.Context, userID, name string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.Invalid("user_id", "is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("bootstrap", err)
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRole(ctx, tx, AdminRole, "Office administrator"); err != nil {
		return storageErr("bootstrap", err)
	}
	if err := e.Repo.EnsureUser(ctx, tx, userID, name, e.timestamp()); err != nil {
		return storageErr("bootstrap", err)
	}
	if err := e.Repo.AssignRole(ctx, tx, userID, AdminRole); err != nil {
		return storageErr("bootstrap", err)
	}
	return storageErr("bootstrap", tx.Commit())
}

func (e Engine) CreateUser(ctx context.Context, in UserInput, actorID string) (domain.User, error) {
	const op = "create user"
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return domain.User{}, domain.Invalid("name", "is required")
	}
	if err := e.checkRoles(in.Roles); err != nil {
		return domain.User{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	u := domain.User{ID: in.ID, Name: in.Name, Email: in.Email, Roles: append([]string{}, in.Roles...), CreatedAt: e.timestamp()}
	sort.Strings(u.Roles)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, storageErr(op, err)
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermUserManage); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	if _, err := e.Repo.GetUserTx(ctx, tx, u.ID); err == nil {
		return domain.User{}, domain.Invalid("id", "user %q already exists", u.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, storageErr(op, err)
	}
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	for _, r := range u.Roles {
		if err := e.Repo.AssignRole(ctx, tx, u.ID, r); err != nil {
			return domain.User{}, storageErr(op, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.UserCreated, "", "user", u.ID, actorID, events.EventPayload{"name": u.Name, "roles": u.Roles}); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	return u, nil
}

// SetUserRoles replaces the user's role set.
func (e Engine) SetUserRoles(ctx context.Context, userID string, roles []string, actorID string) (domain.User, error) {
	const op = "set user roles"
	if err := e.checkRoles(roles); err != nil {
		return domain.User{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, storageErr(op, err)
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermUserManage); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, storageErr(op, err)
	}
	want := map[string]bool{}
	for _, r := range roles {
		want[r] = true
	}
	for _, r := range u.Roles {
		if !want[r] {
			if err := e.Repo.RevokeRole(ctx, tx, userID, r); err != nil {
				return domain.User{}, storageErr(op, err)
			}
		}
	}
	for r := range want {
		if err := e.Repo.AssignRole(ctx, tx, userID, r); err != nil {
			return domain.User{}, storageErr(op, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.UserRolesUpdated, "", "user", userID, actorID, events.EventPayload{"from": u.Roles, "to": roles}); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	u, err = e.Repo.GetUserTx(ctx, tx, userID)
	if err != nil {
		return domain.User{}, storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, storageErr(op, err)
	}
	return u, nil
}

func (e Engine) GrantRole(ctx context.Context, userID, role, actorID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, storageErr("grant role", err)
	}
	return e.SetUserRoles(ctx, userID, append(u.Roles, role), actorID)
}

func (e Engine) RevokeRole(ctx context.Context, userID, role, actorID string) (domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, storageErr("revoke role", err)
	}
	roles := []string{}
	for _, r := range u.Roles {
		if r != role {
			roles = append(roles, r)
		}
	}
	return e.SetUserRoles(ctx, userID, roles, actorID)
}

// ListUsers is open to every known user; assignments need the directory.
func (e Engine) ListUsers(ctx context.Context, actorID string) ([]domain.User, error) {
	if _, err := e.Repo.GetUser(ctx, actorID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, auth.ForbiddenError{Permission: auth.PermLeadRead}
		}
		return nil, storageErr("list users", err)
	}
	users, err := e.Repo.ListUsers(ctx)
	if users == nil {
		users = []domain.User{}
	}
	return users, storageErr("list users", err)
}

func (e Engine) GetUser(ctx context.Context, userID, actorID string) (domain.User, error) {
	if userID != actorID {
		if err := e.Auth.Require(ctx, nil, actorID, auth.PermUserManage); err != nil {
			return domain.User{}, storageErr("get user", err)
		}
	}
	u, err := e.Repo.GetUser(ctx, userID)
	return u, storageErr("get user", err)
}

// WhoAmI returns the actor with its effective permissions.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (WhoAmI, error) {
	u, err := e.Repo.GetUser(ctx, actorID)
	if err != nil {
		return WhoAmI{}, storageErr("whoami", err)
	}
	perms, err := e.Auth.UserPermissions(ctx, nil, actorID)
	if err != nil {
		return WhoAmI{}, storageErr("whoami", err)
	}
	return WhoAmI{User: u, Permissions: perms}, nil
}

// CreateAPIKey issues a key for userID. Only the hash is stored; the plain key is returned
// once.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name, actorID string) (string, domain.APIKey, error) {
	const op = "create api key"
	if userID != actorID {
		if err := e.Auth.Require(ctx, nil, actorID, auth.PermUserManage); err != nil {
			return "", domain.APIKey{}, storageErr(op, err)
		}
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return "", domain.APIKey{}, storageErr(op, err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, err
	}
	plain := "dl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.timestamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return "", domain.APIKey{}, storageErr(op, err)
	}
	return plain, key, nil
}
