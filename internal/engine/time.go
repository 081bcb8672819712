package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"dossierline/internal/domain"
	"dossierline/internal/engine/auth"
	"dossierline/internal/events"
	"dossierline/internal/repo"
	"dossierline/internal/timeledger"
)

// TimeEntryInput is one block of logged time. An empty UserID logs for the actor.
type TimeEntryInput struct {
	UserID      string
	LeadID      string
	Date        string
	Duration    int
	Category    domain.Category
	Description string
}

func (in TimeEntryInput) validate() error {
	if in.Duration <= 0 {
		return domain.Invalid("duration", "must be > 0 minutes")
	}
	if !in.Category.IsValid() {
		return domain.Invalid("category", "unknown category %q", in.Category)
	}
	if _, err := timeledger.ParseDate(in.Date); err != nil {
		return domain.Invalid("date", "expected YYYY-MM-DD, got %q", in.Date)
	}
	return nil
}

// CreateTimeEntry records time for the actor, or for another user when the actor holds
// time.manage.
func (e Engine) CreateTimeEntry(ctx context.Context, in TimeEntryInput, actorID string) (domain.TimeEntry, error) {
	const op = "create time entry"
	if in.UserID == "" {
		in.UserID = actorID
	}
	in.LeadID = strings.TrimSpace(in.LeadID)
	if err := in.validate(); err != nil {
		return domain.TimeEntry{}, err
	}
	entry := domain.TimeEntry{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		LeadID:      optionalString(in.LeadID),
		Date:        in.Date,
		Duration:    in.Duration,
		Category:    in.Category,
		Description: in.Description,
		CreatedAt:   e.timestamp(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, storageErr(op, err)
	}
	defer tx.Rollback()
	perm := auth.PermTimeCreate
	if in.UserID != actorID {
		perm = auth.PermTimeManage
	}
	if err := e.Auth.Require(ctx, tx, actorID, perm); err != nil {
		return domain.TimeEntry{}, storageErr(op, err)
	}
	if _, err := e.Repo.GetUserTx(ctx, tx, in.UserID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.TimeEntry{}, domain.Invalid("user_id", "unknown user %q", in.UserID)
		}
		return domain.TimeEntry{}, storageErr(op, err)
	}
	if entry.LeadID != nil {
		if _, err := e.Repo.GetLeadTx(ctx, tx, *entry.LeadID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.TimeEntry{}, domain.Invalid("lead_id", "unknown lead %q", in.LeadID)
			}
			return domain.TimeEntry{}, storageErr(op, err)
		}
	}
	if err := e.Repo.InsertTimeEntry(ctx, tx, entry); err != nil {
		return domain.TimeEntry{}, storageErr(op, err)
	}
	billable := e.classifier().Billable(entry)
	if err := e.Events.Append(ctx, tx, events.TimeEntryCreated, in.LeadID, "time_entry", entry.ID, actorID, events.EventPayload{
		"user_id":  entry.UserID,
		"date":     entry.Date,
		"duration": entry.Duration,
		"category": entry.Category,
		"billable": billable,
	}); err != nil {
		return domain.TimeEntry{}, storageErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeEntry{}, storageErr(op, err)
	}
	e.Metrics.TimeLogged(entry.Duration, billable)
	return entry, nil
}

// DeleteTimeEntry removes an entry owned by the actor, or any entry with time.manage.
func (e Engine) DeleteTimeEntry(ctx context.Context, id, actorID string) error {
	const op = "delete time entry"
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback()
	entry, err := e.Repo.GetTimeEntryTx(ctx, tx, id)
	if err != nil {
		return storageErr(op, err)
	}
	perm := auth.PermTimeCreate
	if entry.UserID != actorID {
		perm = auth.PermTimeManage
	}
	if err := e.Auth.Require(ctx, tx, actorID, perm); err != nil {
		return storageErr(op, err)
	}
	if err := e.Repo.DeleteTimeEntry(ctx, tx, id); err != nil {
		return storageErr(op, err)
	}
	leadID := ""
	if entry.LeadID != nil {
		leadID = *entry.LeadID
	}
	if err := e.Events.Append(ctx, tx, events.TimeEntryDeleted, leadID, "time_entry", id, actorID, events.EventPayload{
		"user_id":  entry.UserID,
		"date":     entry.Date,
		"duration": entry.Duration,
	}); err != nil {
		return storageErr(op, err)
	}
	return storageErr(op, tx.Commit())
}

// ListTimeEntries lists the actor's own entries; other users (or everyone, with an empty
// UserID) need time.read.team.
func (e Engine) ListTimeEntries(ctx context.Context, f repo.TimeFilters, actorID string) ([]domain.TimeEntry, error) {
	const op = "list time entries"
	if err := checkRange(f.From, f.To); err != nil {
		return nil, err
	}
	perm := auth.PermTimeReadTeam
	if f.UserID != "" && f.UserID == actorID {
		perm = auth.PermTimeCreate
	}
	if err := e.Auth.Require(ctx, nil, actorID, perm); err != nil {
		return nil, storageErr(op, err)
	}
	entries, err := e.Repo.ListTimeEntries(ctx, f)
	return entries, storageErr(op, err)
}

// TeamTimeEntries returns every user's entries in [from, to].
func (e Engine) TeamTimeEntries(ctx context.Context, from, to, actorID string) ([]domain.TimeEntry, error) {
	return e.ListTimeEntries(ctx, repo.TimeFilters{From: from, To: to}, actorID)
}

func checkRange(from, to string) error {
	for _, b := range [][2]string{{"from", from}, {"to", to}} {
		if b[1] == "" {
			continue
		}
		if _, err := timeledger.ParseDate(b[1]); err != nil {
			return domain.Invalid(b[0], "expected YYYY-MM-DD, got %q", b[1])
		}
	}
	if from != "" && to != "" && from > to {
		return domain.Invalid("to", "must not be before from")
	}
	return nil
}

// WeekSummary is one user's ISO week.
type WeekSummary struct {
	UserID     string                                `json:"user_id"`
	WeekStart  string                                `json:"week_start" format:"date"`
	WeekEnd    string                                `json:"week_end" format:"date"`
	Totals     timeledger.Bucket                     `json:"totals"`
	ByLead     map[string]timeledger.Bucket          `json:"by_lead"`
	ByCategory map[domain.Category]timeledger.Bucket `json:"by_category"`
	Entries    []domain.TimeEntry                    `json:"entries"`
}

// WeeklySummary totals the ISO week containing date (today when empty) for one user.
func (e Engine) WeeklySummary(ctx context.Context, userID, date, actorID string) (WeekSummary, error) {
	day := e.now()
	if date != "" {
		d, err := timeledger.ParseDate(date)
		if err != nil {
			return WeekSummary{}, domain.Invalid("date", "expected YYYY-MM-DD, got %q", date)
		}
		day = d
	}
	if userID == "" {
		userID = actorID
	}
	start := timeledger.WeekStart(day)
	end := start.AddDate(0, 0, 6)
	entries, err := e.ListTimeEntries(ctx, repo.TimeFilters{
		UserID: userID,
		From:   start.Format(timeledger.DateLayout),
		To:     end.Format(timeledger.DateLayout),
	}, actorID)
	if err != nil {
		return WeekSummary{}, err
	}
	totals := timeledger.Summarize(entries, e.classifier())
	return WeekSummary{
		UserID:     userID,
		WeekStart:  start.Format(timeledger.DateLayout),
		WeekEnd:    end.Format(timeledger.DateLayout),
		Totals:     totals.All,
		ByLead:     totals.ByLead,
		ByCategory: totals.ByCategory,
		Entries:    entries,
	}, nil
}

// WeeklyTotals buckets the filtered entries per user and ISO week.
func (e Engine) WeeklyTotals(ctx context.Context, f repo.TimeFilters, actorID string) ([]timeledger.WeekBucket, error) {
	entries, err := e.ListTimeEntries(ctx, f, actorID)
	if err != nil {
		return nil, err
	}
	return timeledger.WeeklyTotals(entries, e.classifier()), nil
}

// AverageBillableHoursPerEmployee averages billable hours per week over the last weeks
// ISO weeks. weeks <= 0 uses the configured default.
func (e Engine) AverageBillableHoursPerEmployee(ctx context.Context, weeks int, actorID string) (timeledger.Average, error) {
	if weeks <= 0 {
		weeks = e.cfg().AverageWeeks()
	}
	now := e.now()
	start, end := timeledger.Window(weeks, now)
	entries, err := e.TeamTimeEntries(ctx, start.Format(timeledger.DateLayout), end.Format(timeledger.DateLayout), actorID)
	if err != nil {
		return timeledger.Average{}, err
	}
	return timeledger.AverageBillable(entries, e.classifier(), weeks, now)
}
