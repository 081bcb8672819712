// Package quotediff compares line items of consecutive quote versions.
package quotediff

import "dossierline/internal/domain"

type ChangeType string

const (
	Added    ChangeType = "added"
	Removed  ChangeType = "removed"
	Modified ChangeType = "modified"
)

type Change struct {
	Type        ChangeType    `json:"type" enum:"added,removed,modified"`
	Description string        `json:"description"`
	OldValue    *domain.Money `json:"old_value,omitempty"`
	NewValue    *domain.Money `json:"new_value,omitempty"`
}

// Diff lists what changed from previous to current. Items are matched by exact
// description; repeated descriptions pair up in order of occurrence. Added and modified
// entries follow current's order, removed entries follow previous's. A nil previous
// (first version) yields no changes.
func Diff(current, previous *domain.QuoteVersion) []Change {
	if current == nil || previous == nil {
		return []Change{}
	}
	return Items(current.LineItems, previous.LineItems)
}

// Items is Diff on bare line item lists.
func Items(current, previous []domain.LineItem) []Change {
	pending := map[string][]int{}
	for i, it := range previous {
		pending[it.Description] = append(pending[it.Description], i)
	}
	matched := make([]bool, len(previous))
	changes := []Change{}
	for _, it := range current {
		idx := pending[it.Description]
		if len(idx) == 0 {
			changes = append(changes, Change{Type: Added, Description: it.Description, NewValue: money(it.Amount)})
			continue
		}
		prev := previous[idx[0]]
		pending[it.Description] = idx[1:]
		matched[idx[0]] = true
		if prev.Amount != it.Amount {
			changes = append(changes, Change{
				Type:        Modified,
				Description: it.Description,
				OldValue:    money(prev.Amount),
				NewValue:    money(it.Amount),
			})
		}
	}
	for i, it := range previous {
		if !matched[i] {
			changes = append(changes, Change{Type: Removed, Description: it.Description, OldValue: money(it.Amount)})
		}
	}
	return changes
}

// Invert turns a diff of (a, b) into the diff of (b, a), up to ordering.
func Invert(changes []Change) []Change {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		inv := Change{Description: c.Description, OldValue: c.NewValue, NewValue: c.OldValue}
		switch c.Type {
		case Added:
			inv.Type = Removed
		case Removed:
			inv.Type = Added
		default:
			inv.Type = c.Type
		}
		out = append(out, inv)
	}
	return out
}

func money(m domain.Money) *domain.Money { return &m }
