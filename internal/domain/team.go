package domain

// Role is one of the three team slots on a lead. The same names are used as user
// capabilities: a user can only fill a slot if they hold the role.
type Role string

const (
	RoleProjectleider Role = "projectleider"
	RoleRekenaar      Role = "rekenaar"
	RoleTekenaar      Role = "tekenaar"
)

var TeamRoles = []Role{RoleProjectleider, RoleRekenaar, RoleTekenaar}

func (r Role) IsValid() bool {
	switch r {
	case RoleProjectleider, RoleRekenaar, RoleTekenaar:
		return true
	}
	return false
}

// Team is the role assignment of a lead plus the aan-zet pointer. AanZet always names a
// role with an assignee.
type Team struct {
	Projectleider *string
	Rekenaar      *string
	Tekenaar      *string
	AanZet        *Role
}

func (t Team) Assignee(r Role) *string {
	switch r {
	case RoleProjectleider:
		return t.Projectleider
	case RoleRekenaar:
		return t.Rekenaar
	case RoleTekenaar:
		return t.Tekenaar
	}
	return nil
}

func (t *Team) slot(r Role) **string {
	switch r {
	case RoleProjectleider:
		return &t.Projectleider
	case RoleRekenaar:
		return &t.Rekenaar
	case RoleTekenaar:
		return &t.Tekenaar
	}
	return nil
}

// Assign sets or clears (nil or empty) a slot. Clearing the slot aan zet points to also
// clears aan zet.
func (t *Team) Assign(r Role, userID *string) error {
	slot := t.slot(r)
	if slot == nil {
		return Invalid("role", "unknown role %q", r)
	}
	if userID != nil && *userID == "" {
		userID = nil
	}
	if userID != nil {
		v := *userID
		userID = &v
	}
	*slot = userID
	if userID == nil && t.AanZet != nil && *t.AanZet == r {
		t.AanZet = nil
	}
	return nil
}

// SetRole assigns userID to r, or clears r when userID is already the assignee.
func (t *Team) SetRole(r Role, userID *string) error {
	current := t.Assignee(r)
	if userID != nil && current != nil && *current == *userID {
		return t.Assign(r, nil)
	}
	return t.Assign(r, userID)
}

// SetAanZet points the turn at r. Clearing with nil is always allowed.
func (t *Team) SetAanZet(r *Role) error {
	if r == nil {
		t.AanZet = nil
		return nil
	}
	if !r.IsValid() {
		return Invalid("aan_zet", "unknown role %q", *r)
	}
	if t.Assignee(*r) == nil {
		return Invalid("aan_zet", "role %s has no assignee", *r)
	}
	role := *r
	t.AanZet = &role
	return nil
}
