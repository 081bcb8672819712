package engine

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/notify"
	"dossierline/internal/quotediff"
	"dossierline/internal/repo"
)

// QuoteSubmission is a quote offered for approval. QuoteValue is optional; when given it
// must match the sum of the line items.
type QuoteSubmission struct {
	LineItems      []domain.LineItem
	Description    string
	EstimatedHours *float64
	QuoteValue     *domain.Money
}

// QuoteDraft edits the live quote fields without creating a version.
type QuoteDraft struct {
	LineItems      []domain.LineItem
	Description    string
	EstimatedHours *float64
}

func validateHours(h *float64) error {
	if h != nil && *h < 0 {
		return domain.Invalid("estimated_hours", "must be >= 0")
	}
	return nil
}

func (s QuoteSubmission) validate() error {
	if err := domain.ValidateLineItems(s.LineItems); err != nil {
		return err
	}
	if err := validateHours(s.EstimatedHours); err != nil {
		return err
	}
	if s.QuoteValue != nil {
		if sum := domain.SumLineItems(s.LineItems); *s.QuoteValue != sum {
			return domain.Invalid("quote_value", "%s does not match the line item total %s", s.QuoteValue, sum)
		}
	}
	return nil
}

// quoteEditable reports whether the live quote may change: only while calculating.
func quoteEditable(lead *domain.Lead, op string) error {
	if lead.Status != domain.StatusCalculatie {
		return domain.InvalidState(string(lead.Status), op)
	}
	return nil
}

// appendVersion stores version last+1 and moves the lead's live quote to pending.
func (e Engine) appendVersion(ctx context.Context, tx *sql.Tx, lead *domain.Lead, items []domain.LineItem, desc string, hours *float64, actorID string) (domain.QuoteVersion, error) {
	if err := quoteEditable(lead, "submit a quote"); err != nil {
		return domain.QuoteVersion{}, err
	}
	if !lead.QuoteApproval.Editable() {
		return domain.QuoteVersion{}, domain.InvalidState(string(lead.QuoteApproval), "submit a quote")
	}
	next := 1
	latest, err := e.Repo.LatestQuoteVersionTx(ctx, tx, lead.ID)
	switch {
	case err == nil:
		next = latest.Version + 1
	case !errors.Is(err, repo.ErrNotFound):
		return domain.QuoteVersion{}, err
	}
	v := domain.QuoteVersion{
		LeadID:         lead.ID,
		Version:        next,
		CreatedAt:      e.timestamp(),
		CreatedBy:      actorID,
		Value:          domain.SumLineItems(items),
		LineItems:      domain.CloneLineItems(items),
		Description:    desc,
		EstimatedHours: hours,
		Status:         domain.VersionSubmitted,
	}
	if err := e.Repo.InsertQuoteVersion(ctx, tx, v); err != nil {
		return domain.QuoteVersion{}, err
	}
	lead.QuoteApproval = domain.QuotePending
	lead.QuoteValue = v.Value
	lead.QuoteLineItems = domain.CloneLineItems(items)
	lead.QuoteDescription = desc
	lead.QuoteEstimatedHours = hours
	return v, nil
}

// SubmitQuote validates the submission, appends a new version and sets approval to pending.
// A rejected submission writes nothing.
func (e Engine) SubmitQuote(ctx context.Context, leadID string, s QuoteSubmission, actorID string) (domain.Lead, error) {
	if err := s.validate(); err != nil {
		return domain.Lead{}, err
	}
	lead, err := e.mutateLead(ctx, "submit quote", leadID, actorID, auth.PermQuoteSubmit, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		v, err := e.appendVersion(ctx, tx, lead, s.LineItems, strings.TrimSpace(s.Description), s.EstimatedHours, actorID)
		if err != nil {
			return leadChange{}, err
		}
		return leadChange{
			Event:      events.QuoteSubmitted,
			EntityKind: "quote_version",
			EntityID:   versionEntityID(lead.ID, v.Version),
			Payload:    events.EventPayload{"version": v.Version, "value": v.Value, "items": len(v.LineItems)},
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.QuoteVersionCreated()
	e.log().InfoContext(ctx, "quote submitted", "lead_id", leadID, "value", lead.QuoteValue.String(), "actor", actorID)
	return lead, nil
}

func (e Engine) SaveQuoteDraft(ctx context.Context, leadID string, d QuoteDraft, actorID string) (domain.Lead, error) {
	if err := domain.ValidateDraftItems(d.LineItems); err != nil {
		return domain.Lead{}, err
	}
	if err := validateHours(d.EstimatedHours); err != nil {
		return domain.Lead{}, err
	}
	return e.mutateLead(ctx, "save quote draft", leadID, actorID, auth.PermQuoteSubmit, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		if err := quoteEditable(lead, "edit the quote"); err != nil {
			return leadChange{}, err
		}
		if !lead.QuoteApproval.Editable() {
			return leadChange{}, domain.InvalidState(string(lead.QuoteApproval), "edit the quote")
		}
		items := domain.CloneLineItems(d.LineItems)
		if items == nil {
			items = []domain.LineItem{}
		}
		lead.QuoteLineItems = items
		lead.QuoteValue = domain.SumLineItems(items)
		lead.QuoteDescription = d.Description
		lead.QuoteEstimatedHours = d.EstimatedHours
		return leadChange{Event: events.QuoteDraftSaved, Payload: events.EventPayload{"value": lead.QuoteValue, "items": len(items)}}, nil
	})
}

// decide moves a pending quote to approved or rejected, stamps the latest version and
// records optional feedback.
func (e Engine) decide(ctx context.Context, leadID, actorID, message string, approve bool) (domain.Lead, error) {
	op, perm, target := "reject quote", auth.PermQuoteReject, domain.QuoteRejected
	fbType, vStatus, evt := domain.FeedbackRejection, domain.VersionRejected, events.QuoteRejected
	if approve {
		op, perm, target = "approve quote", auth.PermQuoteApprove, domain.QuoteApproved
		fbType, vStatus, evt = domain.FeedbackApproval, domain.VersionApproved, events.QuoteApproved
	}
	message = strings.TrimSpace(message)
	if !approve && message == "" {
		return domain.Lead{}, domain.Invalid("message", "a rejection needs feedback")
	}
	lead, err := e.mutateLead(ctx, op, leadID, actorID, perm, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		if lead.QuoteApproval != domain.QuotePending {
			return leadChange{}, domain.InvalidState(string(lead.QuoteApproval), op)
		}
		latest, err := e.Repo.LatestQuoteVersionTx(ctx, tx, lead.ID)
		if err != nil {
			return leadChange{}, err
		}
		if err := e.Repo.UpdateQuoteVersionStatus(ctx, tx, lead.ID, latest.Version, vStatus); err != nil {
			return leadChange{}, err
		}
		lead.QuoteApproval = target
		payload := events.EventPayload{"version": latest.Version}
		if message != "" {
			fb := domain.Feedback{
				ID:         uuid.NewString(),
				Type:       fbType,
				Message:    message,
				AuthorName: e.actorName(ctx, tx, actorID),
				Timestamp:  e.timestamp(),
			}
			if err := e.Repo.InsertFeedback(ctx, tx, lead.ID, fb); err != nil {
				return leadChange{}, err
			}
			lead.QuoteFeedback = append(lead.QuoteFeedback, fb)
			payload["feedback_id"] = fb.ID
			payload["message"] = message
		}
		return leadChange{
			Event:      evt,
			EntityKind: "quote_version",
			EntityID:   versionEntityID(lead.ID, latest.Version),
			Payload:    payload,
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.QuoteDecision(string(target))
	e.log().InfoContext(ctx, "quote decided", "lead_id", leadID, "decision", target, "actor", actorID)
	return lead, nil
}

func (e Engine) ApproveQuote(ctx context.Context, leadID, message, actorID string) (domain.Lead, error) {
	return e.decide(ctx, leadID, actorID, message, true)
}

func (e Engine) RejectQuote(ctx context.Context, leadID, message, actorID string) (domain.Lead, error) {
	return e.decide(ctx, leadID, actorID, message, false)
}

// sendQuote moves the lead to Offerte Verzonden and marks the latest version sent. The
// lifecycle guard requires approval = approved and status = Calculatie.
func (e Engine) sendQuote(ctx context.Context, tx *sql.Tx, lead *domain.Lead, actorID string) (int, error) {
	next, err := lead.Lifecycle().Transition(domain.StatusOfferteVerzonden, lead.QuoteApproval)
	if err != nil {
		return 0, err
	}
	latest, err := e.Repo.LatestQuoteVersionTx(ctx, tx, lead.ID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, domain.PreconditionError{Reason: "lead has no quote version to send"}
	}
	if err != nil {
		return 0, err
	}
	if err := e.Repo.UpdateQuoteVersionStatus(ctx, tx, lead.ID, latest.Version, domain.VersionSent); err != nil {
		return 0, err
	}
	lead.ApplyLifecycle(next)
	lead.QuoteApproval = domain.QuoteSent
	return latest.Version, nil
}

// quoteReadySignal returns the post-commit hook that hands a sent quote to the notifier.
// Delivery failures are logged and counted; the committed state stands.
func (e Engine) quoteReadySignal(actorID string, version int) func(domain.Lead) {
	return func(lead domain.Lead) {
		if e.Notifier == nil {
			return
		}
		sig := notify.QuoteReady{
			LeadID:         lead.ID,
			Version:        version,
			ClientName:     lead.ClientName,
			ClientEmail:    lead.ClientEmail,
			QuoteValue:     lead.QuoteValue,
			TotalInclVAT:   lead.QuoteTotalInclVAT(e.cfg().VATRate()),
			LineItems:      domain.CloneLineItems(lead.QuoteLineItems),
			Description:    lead.QuoteDescription,
			EstimatedHours: lead.QuoteEstimatedHours,
			SentBy:         actorID,
			SentAt:         lead.UpdatedAt,
		}
		if err := e.Notifier.QuoteReady(context.Background(), sig); err != nil {
			e.Metrics.NotifyFailed()
			e.log().Warn("quote ready signal failed", "lead_id", lead.ID, "error", err)
		}
	}
}

// SendQuote sends an approved quote: the lead enters Offerte Verzonden and the quote ready
// signal is emitted after commit.
func (e Engine) SendQuote(ctx context.Context, leadID, actorID string) (domain.Lead, error) {
	var from domain.LeadStatus
	lead, err := e.mutateLead(ctx, "send quote", leadID, actorID, auth.PermQuoteSend, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		from = lead.Status
		version, err := e.sendQuote(ctx, tx, lead, actorID)
		if err != nil {
			return leadChange{}, err
		}
		return leadChange{
			Event:       events.QuoteSent,
			EntityKind:  "quote_version",
			EntityID:    versionEntityID(lead.ID, version),
			Payload:     events.EventPayload{"from": from, "to": lead.Status, "version": version, "value": lead.QuoteValue},
			afterCommit: e.quoteReadySignal(actorID, version),
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.QuoteDecision(string(domain.QuoteSent))
	e.Metrics.LeadTransition(string(from), string(lead.Status))
	e.log().InfoContext(ctx, "quote sent", "lead_id", leadID, "actor", actorID)
	return lead, nil
}

// RollbackQuote restores the content of an earlier version as a new version. History is
// never rewritten.
func (e Engine) RollbackQuote(ctx context.Context, leadID string, toVersion int, actorID string) (domain.Lead, error) {
	if toVersion < 1 {
		return domain.Lead{}, domain.Invalid("version", "must be >= 1")
	}
	lead, err := e.mutateLead(ctx, "rollback quote", leadID, actorID, auth.PermQuoteRollback, func(tx *sql.Tx, lead *domain.Lead) (leadChange, error) {
		src, err := e.Repo.GetQuoteVersionTx(ctx, tx, lead.ID, toVersion)
		if err != nil {
			return leadChange{}, err
		}
		v, err := e.appendVersion(ctx, tx, lead, src.LineItems, src.Description, src.EstimatedHours, actorID)
		if err != nil {
			return leadChange{}, err
		}
		return leadChange{
			Event:      events.QuoteRolledBack,
			EntityKind: "quote_version",
			EntityID:   versionEntityID(lead.ID, v.Version),
			Payload:    events.EventPayload{"from_version": toVersion, "version": v.Version, "value": v.Value},
		}, nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	e.Metrics.QuoteVersionCreated()
	return lead, nil
}

func (e Engine) QuoteVersions(ctx context.Context, leadID, actorID string) ([]domain.QuoteVersion, error) {
	const op = "list quote versions"
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermLeadRead); err != nil {
		return nil, storageErr(op, err)
	}
	if _, err := e.Repo.GetLead(ctx, leadID); err != nil {
		return nil, storageErr(op, err)
	}
	versions, err := e.Repo.ListQuoteVersions(ctx, leadID)
	if err != nil {
		return nil, storageErr(op, err)
	}
	if versions == nil {
		versions = []domain.QuoteVersion{}
	}
	return versions, nil
}

func (e Engine) QuoteVersion(ctx context.Context, leadID string, version int, actorID string) (domain.QuoteVersion, error) {
	const op = "get quote version"
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermLeadRead); err != nil {
		return domain.QuoteVersion{}, storageErr(op, err)
	}
	v, err := e.Repo.GetQuoteVersion(ctx, leadID, version)
	return v, storageErr(op, err)
}

// QuoteDiff compares version n with version n-1. Version 1 has no predecessor and yields
// an empty diff.
func (e Engine) QuoteDiff(ctx context.Context, leadID string, version int, actorID string) ([]quotediff.Change, error) {
	const op = "diff quote version"
	cur, err := e.QuoteVersion(ctx, leadID, version, actorID)
	if err != nil {
		return nil, err
	}
	if version == 1 {
		return quotediff.Diff(&cur, nil), nil
	}
	prev, err := e.Repo.GetQuoteVersion(ctx, leadID, version-1)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return quotediff.Diff(&cur, &prev), nil
}

func versionEntityID(leadID string, version int) string {
	return leadID + "#" + strconv.Itoa(version)
}
