package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"dossierline/internal/cache"
	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/repo"
)

// LeadInput are the intake fields of a new dossier.
type LeadInput struct {
	ID               string
	ClientName       string
	ClientEmail      string
	ClientPhone      string
	ClientCompany    string
	ProjectType      string
	Address          string
	City             string
	Value            domain.Money
	Notes            string
	IsComplexProject bool
	Specifications   []domain.Specification
}

func validateSpecifications(specs []domain.Specification) error {
	for i, s := range specs {
		if strings.TrimSpace(s.Key) == "" {
			return domain.Invalid("specifications", "entry %d has an empty key", i+1)
		}
	}
	return nil
}

func (e Engine) CreateLead(ctx context.Context, in LeadInput, actorID string) (domain.Lead, error) {
	const op = "create lead"
	if strings.TrimSpace(in.ClientName) == "" {
		return domain.Lead{}, domain.Invalid("client_name", "is required")
	}
	if in.Value < 0 {
		return domain.Lead{}, domain.Invalid("value", "must be >= 0")
	}
	if err := validateSpecifications(in.Specifications); err != nil {
		return domain.Lead{}, err
	}
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.timestamp()
	lc := domain.NewLifecycle(in.IsComplexProject)
	lead := domain.Lead{
		ID:             id,
		ClientName:     strings.TrimSpace(in.ClientName),
		ClientEmail:    in.ClientEmail,
		ClientPhone:    in.ClientPhone,
		ClientCompany:  in.ClientCompany,
		ProjectType:    in.ProjectType,
		Address:        in.Address,
		City:           in.City,
		Value:          in.Value,
		Notes:          in.Notes,
		QuoteApproval:  domain.QuoteNone,
		QuoteLineItems: []domain.LineItem{},
		QuoteFeedback:  []domain.Feedback{},
		Specifications: in.Specifications,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if lead.Specifications == nil {
		lead.Specifications = []domain.Specification{}
	}
	lead.ApplyLifecycle(lc)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	defer tx.Rollback()
	if err := e.Auth.Require(ctx, tx, actorID, auth.PermLeadCreate); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if err := e.Repo.InsertLead(ctx, tx, lead); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if err := e.Events.Append(ctx, tx, events.LeadCreated, lead.ID, "lead", lead.ID, actorID, events.EventPayload{
		"client_name": lead.ClientName,
		"status":      lead.Status,
		"complex":     lead.IsComplexProject,
	}); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	e.log().InfoContext(ctx, "lead created", "lead_id", lead.ID, "actor", actorID)
	return lead, nil
}

// GetLead reads through the cache. Cached copies are at most Cache.TTL() old.
func (e Engine) GetLead(ctx context.Context, id, actorID string) (domain.Lead, error) {
	const op = "get lead"
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermLeadRead); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if e.Cache != nil {
		lead, err := e.Cache.Get(ctx, id)
		if err == nil {
			return lead, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			e.log().WarnContext(ctx, "lead cache read failed", "lead_id", id, "error", err)
		}
	}
	lead, err := e.Repo.GetLead(ctx, id)
	if err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if e.Cache != nil {
		if err := e.Cache.Set(ctx, lead); err != nil {
			e.log().WarnContext(ctx, "lead cache write failed", "lead_id", id, "error", err)
		}
	}
	return lead, nil
}

func (e Engine) ListLeads(ctx context.Context, f repo.LeadFilters, actorID string) ([]domain.Lead, error) {
	const op = "list leads"
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermLeadRead); err != nil {
		return nil, storageErr(op, err)
	}
	if f.Status != "" && !domain.LeadStatus(f.Status).IsValid() {
		return nil, domain.Invalid("status", "unknown status %q", f.Status)
	}
	if f.AanZet != "" && !domain.Role(f.AanZet).IsValid() {
		return nil, domain.Invalid("aan_zet", "unknown role %q", f.AanZet)
	}
	leads, err := e.Repo.ListLeads(ctx, f)
	if err != nil {
		return nil, storageErr(op, err)
	}
	if leads == nil {
		leads = []domain.Lead{}
	}
	return leads, nil
}

// UpdateLeadStatus applies a lifecycle transition. Entering Offerte Verzonden runs the
// same path as SendQuote; withdrawing back to Calculatie reopens the quote for editing.
func (e Engine) UpdateLeadStatus(ctx context.Context, id string, to domain.LeadStatus, actorID string) (domain.Lead, error) {
	var from domain.LeadStatus
	var signal func(domain.Lead)
	lead, err := e.mutateLead(ctx, "update lead status", id, actorID, auth.PermLeadStatus, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		from = lead.Status
		if to == domain.StatusOfferteVerzonden {
			if err := e.Auth.Require(ctx, tx, actorID, auth.PermQuoteSend); err != nil {
				return leadChange{}, err
			}
			version, err := e.sendQuote(ctx, tx, lead, actorID)
			if err != nil {
				return leadChange{}, err
			}
			signal = e.quoteReadySignal(actorID, version)
			return leadChange{
				Event:   events.QuoteSent,
				Payload: events.EventPayload{"from": from, "to": lead.Status, "version": version, "value": lead.QuoteValue},
			}, nil
		}
		next, err := lead.Lifecycle().Transition(to, lead.QuoteApproval)
		if err != nil {
			return leadChange{}, err
		}
		lead.ApplyLifecycle(next)
		if from == domain.StatusOfferteVerzonden && to == domain.StatusCalculatie {
			lead.QuoteApproval = domain.QuoteNone
		}
		return leadChange{
			Event:   events.LeadStatusChanged,
			Payload: events.EventPayload{"from": from, "to": to},
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.LeadTransition(string(from), string(lead.Status))
	e.log().InfoContext(ctx, "lead status changed", "lead_id", id, "from", from, "to", lead.Status, "actor", actorID)
	if signal != nil {
		signal(lead)
	}
	return lead, nil
}

// UpdatePhase moves the execution or design sub-phase forward.
func (e Engine) UpdatePhase(ctx context.Context, id string, phase domain.Phase, actorID string) (domain.Lead, error) {
	var track string
	lead, err := e.mutateLead(ctx, "update phase", id, actorID, auth.PermLeadPhase, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		lc := lead.Lifecycle()
		from := lc.Phase
		next, err := lc.Advance(phase)
		if err != nil {
			return leadChange{}, err
		}
		lead.ApplyLifecycle(next)
		track = next.TrackName()
		return leadChange{
			Event:   events.LeadPhaseChanged,
			Payload: events.EventPayload{"track": track, "from": from, "to": phase},
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.PhaseChange(track, string(phase))
	return lead, nil
}

// SetComplexProject selects the design (true) or execution track.
func (e Engine) SetComplexProject(ctx context.Context, id string, complex bool, actorID string) (domain.Lead, error) {
	return e.mutateLead(ctx, "set complex project", id, actorID, auth.PermLeadUpdate, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		next, err := lead.Lifecycle().SetComplex(complex)
		if err != nil {
			return leadChange{}, err
		}
		lead.ApplyLifecycle(next)
		return leadChange{Event: events.LeadUpdated, Payload: events.EventPayload{"is_complex_project": complex}}, nil
	})
}

// LeadPatch holds optional detail updates; nil fields are left unchanged.
type LeadPatch struct {
	ClientName    *string
	ClientEmail   *string
	ClientPhone   *string
	ClientCompany *string
	ProjectType   *string
	Address       *string
	City          *string
	Value         *domain.Money
	Notes         *string
}

func (e Engine) UpdateLeadDetails(ctx context.Context, id string, p LeadPatch, actorID string) (domain.Lead, error) {
	return e.mutateLead(ctx, "update lead", id, actorID, auth.PermLeadUpdate, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		var changed []string
		set := func(name string, dst *string, v *string) {
			if v != nil && *dst != *v {
				*dst = *v
				changed = append(changed, name)
			}
		}
		if p.ClientName != nil && strings.TrimSpace(*p.ClientName) == "" {
			return leadChange{}, domain.Invalid("client_name", "cannot be empty")
		}
		if p.Value != nil && *p.Value < 0 {
			return leadChange{}, domain.Invalid("value", "must be >= 0")
		}
		set("client_name", &lead.ClientName, p.ClientName)
		set("client_email", &lead.ClientEmail, p.ClientEmail)
		set("client_phone", &lead.ClientPhone, p.ClientPhone)
		set("client_company", &lead.ClientCompany, p.ClientCompany)
		set("project_type", &lead.ProjectType, p.ProjectType)
		set("address", &lead.Address, p.Address)
		set("city", &lead.City, p.City)
		set("notes", &lead.Notes, p.Notes)
		if p.Value != nil && lead.Value != *p.Value {
			lead.Value = *p.Value
			changed = append(changed, "value")
		}
		return leadChange{Event: events.LeadUpdated, Payload: events.EventPayload{"fields": changed}}, nil
	})
}

// UpdateSpecifications replaces the ordered specification list.
func (e Engine) UpdateSpecifications(ctx context.Context, id string, specs []domain.Specification, actorID string) (domain.Lead, error) {
	if err := validateSpecifications(specs); err != nil {
		return domain.Lead{}, err
	}
	return e.mutateLead(ctx, "update specifications", id, actorID, auth.PermLeadUpdate, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		lead.Specifications = append([]domain.Specification{}, specs...)
		return leadChange{Event: events.LeadUpdated, Payload: events.EventPayload{"fields": []string{"specifications"}, "count": len(specs)}}, nil
	})
}

// AssignLead sets the legacy single assignee. An empty name clears it.
func (e Engine) AssignLead(ctx context.Context, id, assignee, actorID string) (domain.Lead, error) {
	return e.mutateLead(ctx, "assign lead", id, actorID, auth.PermLeadAssign, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		lead.Assignee = optionalString(strings.TrimSpace(assignee))
		return leadChange{Event: events.LeadAssigned, Payload: events.EventPayload{"assignee": assignee}}, nil
	})
}
