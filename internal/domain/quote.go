package domain

import (
	"strings"
)

// QuoteApproval is the live approval state of a lead's quote.
type QuoteApproval string

const (
	QuoteNone     QuoteApproval = "none"
	QuotePending  QuoteApproval = "pending"
	QuoteApproved QuoteApproval = "approved"
	QuoteRejected QuoteApproval = "rejected"
	QuoteSent     QuoteApproval = "sent"
)

func (a QuoteApproval) IsValid() bool {
	switch a {
	case QuoteNone, QuotePending, QuoteApproved, QuoteRejected, QuoteSent:
		return true
	}
	return false
}

func (a QuoteApproval) CanTransitionTo(target QuoteApproval) bool {
	switch a {
	case QuoteNone, QuoteRejected:
		return target == QuotePending
	case QuotePending:
		return target == QuoteApproved || target == QuoteRejected
	case QuoteApproved:
		return target == QuoteSent
	case QuoteSent:
		// withdrawn: Offerte Verzonden -> Calculatie
		return target == QuoteNone
	default:
		return false
	}
}

// Editable reports whether line items may be changed and (re)submitted.
func (a QuoteApproval) Editable() bool {
	return a == QuoteNone || a == QuoteRejected
}

// QuoteVersionStatus is the historical label stored on a version snapshot.
type QuoteVersionStatus string

const (
	VersionDraft     QuoteVersionStatus = "draft"
	VersionSubmitted QuoteVersionStatus = "submitted"
	VersionApproved  QuoteVersionStatus = "approved"
	VersionRejected  QuoteVersionStatus = "rejected"
	VersionSent      QuoteVersionStatus = "sent"
)

type LineItem struct {
	Description string `json:"description"`
	Amount      Money  `json:"amount"`
}

type FeedbackType string

const (
	FeedbackRejection FeedbackType = "rejection"
	FeedbackApproval  FeedbackType = "approval"
)

type Feedback struct {
	ID         string       `json:"id"`
	Type       FeedbackType `json:"type" enum:"rejection,approval"`
	Message    string       `json:"message"`
	AuthorName string       `json:"author_name"`
	Timestamp  string       `json:"timestamp" format:"date-time"`
}

// QuoteVersion is an immutable snapshot of a submitted quote. Only Status changes after
// creation, to record what happened to the version.
type QuoteVersion struct {
	LeadID         string             `json:"lead_id"`
	Version        int                `json:"version"`
	CreatedAt      string             `json:"created_at" format:"date-time"`
	CreatedBy      string             `json:"created_by"`
	Value          Money              `json:"value"`
	LineItems      []LineItem         `json:"line_items"`
	Description    string             `json:"description,omitempty"`
	EstimatedHours *float64           `json:"estimated_hours,omitempty"`
	Status         QuoteVersionStatus `json:"status" enum:"draft,submitted,sent,approved,rejected"`
}

// ValidateLineItems checks a submission: at least one item, each with a description and a
// positive amount.
func ValidateLineItems(items []LineItem) error {
	if len(items) == 0 {
		return Invalid("line_items", "at least one line item is required")
	}
	for i, it := range items {
		if err := validateLineItem(i, it); err != nil {
			return err
		}
	}
	return nil
}

func validateLineItem(i int, it LineItem) error {
	if strings.TrimSpace(it.Description) == "" {
		return Invalid("line_items", "item %d has an empty description", i+1)
	}
	if it.Amount <= 0 {
		return Invalid("line_items", "item %d (%s) must have an amount > 0", i+1, it.Description)
	}
	return nil
}

// ValidateDraftItems is the relaxed check for drafts: an empty list is fine.
func ValidateDraftItems(items []LineItem) error {
	for i, it := range items {
		if err := validateLineItem(i, it); err != nil {
			return err
		}
	}
	return nil
}

func SumLineItems(items []LineItem) Money {
	var total Money
	for _, it := range items {
		total += it.Amount
	}
	return total
}

func CloneLineItems(items []LineItem) []LineItem {
	if items == nil {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}
