package engine

import (
	"context"
	"database/sql"
	"errors"

	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/repo"
)

// TeamUpdate is a partial role assignment. Nil leaves a slot alone, an empty string clears it.
type TeamUpdate struct {
	Projectleider *string
	Rekenaar      *string
	Tekenaar      *string
}

func (u TeamUpdate) slots() map[domain.Role]*string {
	return map[domain.Role]*string{
		domain.RoleProjectleider: u.Projectleider,
		domain.RoleRekenaar:      u.Rekenaar,
		domain.RoleTekenaar:      u.Tekenaar,
	}
}

// checkAssignee verifies that userID exists and holds the role capability.
func (e Engine) checkAssignee(ctx context.Context, tx *sql.Tx, role domain.Role, userID string) error {
	u, err := e.Repo.GetUserTx(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Invalid(string(role), "unknown user %q", userID)
	}
	if err != nil {
		return err
	}
	if !u.HasRole(string(role)) {
		return domain.Invalid(string(role), "user %q does not hold the %s role", userID, role)
	}
	return nil
}

func teamPayload(t domain.Team) events.EventPayload {
	return events.EventPayload{
		"projectleider": t.Projectleider,
		"rekenaar":      t.Rekenaar,
		"tekenaar":      t.Tekenaar,
		"aan_zet":       t.AanZet,
	}
}

// SetRole toggles a slot: assigning the current assignee again clears it.
func (e Engine) SetRole(ctx context.Context, leadID string, role domain.Role, userID *string, actorID string) (domain.Lead, error) {
	if !role.IsValid() {
		return domain.Lead{}, domain.Invalid("role", "unknown role %q", role)
	}
	return e.mutateLead(ctx, "set role", leadID, actorID, auth.PermTeamAssign, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		team := lead.Team()
		cur := team.Assignee(role)
		clearing := userID == nil || *userID == "" || (cur != nil && *cur == *userID)
		if !clearing {
			if err := e.checkAssignee(ctx, tx, role, *userID); err != nil {
				return leadChange{}, err
			}
		}
		if err := team.SetRole(role, userID); err != nil {
			return leadChange{}, err
		}
		lead.ApplyTeam(team)
		payload := teamPayload(team)
		payload["role"] = role
		return leadChange{Event: events.TeamUpdated, Payload: payload}, nil
	})
}

// UpdateTeamAssignments applies a partial update of the three slots in one write.
func (e Engine) UpdateTeamAssignments(ctx context.Context, leadID string, u TeamUpdate, actorID string) (domain.Lead, error) {
	return e.mutateLead(ctx, "update team", leadID, actorID, auth.PermTeamAssign, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		team := lead.Team()
		for _, role := range domain.TeamRoles {
			v := u.slots()[role]
			if v == nil {
				continue
			}
			if *v != "" {
				if err := e.checkAssignee(ctx, tx, role, *v); err != nil {
					return leadChange{}, err
				}
			}
			if err := team.Assign(role, v); err != nil {
				return leadChange{}, err
			}
		}
		lead.ApplyTeam(team)
		return leadChange{Event: events.TeamUpdated, Payload: teamPayload(team)}, nil
	})
}

// UpdateAanZet points the turn at a role with an assignee, or clears it with nil.
func (e Engine) UpdateAanZet(ctx context.Context, leadID string, role *domain.Role, actorID string) (domain.Lead, error) {
	return e.mutateLead(ctx, "update aan zet", leadID, actorID, auth.PermTeamAanZet, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		team := lead.Team()
		from := team.AanZet
		if err := team.SetAanZet(role); err != nil {
			return leadChange{}, err
		}
		lead.ApplyTeam(team)
		return leadChange{Event: events.AanZetUpdated, Payload: events.EventPayload{"from": from, "to": team.AanZet}}, nil
	})
}
