package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"dossierline/internal/cache"
	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/metrics"
	"dossierline/internal/notify"
	"dossierline/internal/repo"
	"dossierline/internal/timeledger"
)

// Engine is the single entry point for reading and mutating dossiers. Every mutation
// targets one lead or one time entry and runs in one transaction; guards are evaluated
// against the row read inside that transaction.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Auth     auth.Service
	Config   *config.Config
	Cache    *cache.LeadCache
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Events:   events.Writer{DB: conn, Dialect: dialect},
		Auth:     auth.Service{DB: conn, Dialect: dialect},
		Config:   cfg,
		Notifier: notify.Nop{},
		Logger:   slog.Default(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("")
}

// VATRate is the display rate for VAT-inclusive totals.
func (e Engine) VATRate() float64 { return e.cfg().VATRate() }

func (e Engine) classifier() timeledger.Classifier {
	return timeledger.NewClassifier(e.cfg().BillableTable())
}

// storageErr passes classified errors through and wraps anything else (driver, I/O) as a
// retryable StorageError.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var forbidden auth.ForbiddenError
	switch {
	case errors.As(err, &forbidden),
		errors.Is(err, repo.ErrNotFound),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrStorage),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return domain.StorageError{Op: op, Err: err}
}

// leadChange describes what a lead mutation did, for the event log and post-commit work.
type leadChange struct {
	Event       string
	EntityKind  string
	EntityID    string
	Payload     events.EventPayload
	afterCommit func(lead domain.Lead)
}

// mutateLead loads the lead inside a transaction, lets fn apply guarded changes to it,
// persists the row plus one event and commits. Nothing is written when fn fails.
func (e Engine) mutateLead(ctx context.Context, op, leadID, actorID, perm string, fn func(tx *sql.Tx, lead *domain.Lead) (leadChange, error)) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	defer tx.Rollback()

	if perm != "" {
		if err := e.Auth.Require(ctx, tx, actorID, perm); err != nil {
			return domain.Lead{}, storageErr(op, err)
		}
	}
	lead, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	change, err := fn(tx, &lead)
	if err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	lead.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateLead(ctx, tx, lead); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	if change.Event != "" {
		kind, id := change.EntityKind, change.EntityID
		if kind == "" {
			kind, id = "lead", lead.ID
		}
		if err := e.Events.Append(ctx, tx, change.Event, lead.ID, kind, id, actorID, change.Payload); err != nil {
			return domain.Lead{}, storageErr(op, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, storageErr(op, err)
	}
	e.invalidate(ctx, lead.ID)
	if change.afterCommit != nil {
		change.afterCommit(lead)
	}
	return lead, nil
}

func (e Engine) invalidate(ctx context.Context, leadID string) {
	if e.Cache == nil {
		return
	}
	if err := e.Cache.Delete(ctx, leadID); err != nil {
		e.log().WarnContext(ctx, "lead cache invalidation failed", "lead_id", leadID, "error", err)
	}
}

// actorName resolves the display name used on feedback records.
func (e Engine) actorName(ctx context.Context, tx *sql.Tx, actorID string) string {
	u, err := e.Repo.GetUserTx(ctx, tx, actorID)
	if err != nil || u.Name == "" {
		return actorID
	}
	return u.Name
}

// ListEvents returns the newest events first.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters, actorID string) ([]domain.Event, error) {
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermEventsRead); err != nil {
		return nil, storageErr("list events", err)
	}
	evts, err := e.Repo.LatestEvents(ctx, f)
	return evts, storageErr("list events", err)
}

// EventsAfter returns events newer than cursor, oldest first. A zero cursor with
// fromLatest set starts at the current head so only new events come back.
func (e Engine) EventsAfter(ctx context.Context, cursor int64, limit int, fromLatest bool, actorID string) ([]domain.Event, int64, error) {
	if err := e.Auth.Require(ctx, nil, actorID, auth.PermEventsRead); err != nil {
		return nil, cursor, storageErr("follow events", err)
	}
	if cursor == 0 && fromLatest {
		head, err := e.Repo.LatestEventID(ctx)
		if err != nil {
			return nil, cursor, storageErr("follow events", err)
		}
		return nil, head, nil
	}
	evts, err := e.Repo.EventsAfter(ctx, limit, cursor)
	if err != nil {
		return nil, cursor, storageErr("follow events", err)
	}
	if len(evts) > 0 {
		cursor = evts[len(evts)-1].ID
	}
	return evts, cursor, nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
