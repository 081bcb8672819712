package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dossierline/internal/db"
)

// Event types written by the engine.
const (
	LeadCreated       = "lead.created"
	LeadUpdated       = "lead.updated"
	LeadStatusChanged = "lead.status_changed"
	LeadPhaseChanged  = "lead.phase_changed"
	LeadAssigned      = "lead.assigned"
	TeamUpdated       = "team.updated"
	AanZetUpdated     = "team.aan_zet_updated"
	QuoteDraftSaved   = "quote.draft_saved"
	QuoteSubmitted    = "quote.submitted"
	QuoteApproved     = "quote.approved"
	QuoteRejected     = "quote.rejected"
	QuoteSent         = "quote.sent"
	QuoteRolledBack   = "quote.rolled_back"
	TimeEntryCreated  = "time.entry_created"
	TimeEntryDeleted  = "time.entry_deleted"
	UserCreated       = "user.created"
	UserRolesUpdated  = "user.roles_updated"
)

type Writer struct {
	DB      *sql.DB
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append writes one event inside the caller's transaction, so it commits or rolls back
// with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, leadID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Dialect, `INSERT INTO events(ts,type,lead_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(leadID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
