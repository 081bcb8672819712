// Package notify delivers the "quote ready" signal emitted when a quote is sent. The
// email itself is composed and delivered by whoever consumes the signal.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"dossierline/internal/domain"
)

// QuoteReady describes a sent quote.
type QuoteReady struct {
	LeadID         string            `json:"lead_id"`
	Version        int               `json:"version"`
	ClientName     string            `json:"client_name"`
	ClientEmail    string            `json:"client_email,omitempty"`
	QuoteValue     domain.Money      `json:"quote_value"`
	TotalInclVAT   domain.Money      `json:"total_incl_vat"`
	LineItems      []domain.LineItem `json:"line_items"`
	Description    string            `json:"description,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	SentBy         string            `json:"sent_by"`
	SentAt         string            `json:"sent_at"`
}

const EventQuoteReady = "quote.ready"

type Notifier interface {
	QuoteReady(ctx context.Context, sig QuoteReady) error
}

// Nop discards signals.
type Nop struct{}

func (Nop) QuoteReady(context.Context, QuoteReady) error { return nil }

// Log writes signals to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) QuoteReady(ctx context.Context, sig QuoteReady) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "quote ready to notify",
		"lead_id", sig.LeadID, "version", sig.Version, "client", sig.ClientName, "value", sig.QuoteValue.String())
	return nil
}

// Multi fans a signal out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) QuoteReady(ctx context.Context, sig QuoteReady) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.QuoteReady(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
