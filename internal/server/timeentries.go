package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/repo"
	"dossierline/internal/timeledger"
)

type timeRange struct {
	UserID string `query:"user_id"`
	LeadID string `query:"lead_id"`
	From   string `query:"from" format:"date"`
	To     string `query:"to" format:"date"`
}

func (r timeRange) filters() repo.TimeFilters {
	return repo.TimeFilters{UserID: r.UserID, LeadID: r.LeadID, From: r.From, To: r.To}
}

var timeErrors = []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity}

func registerTime(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-time-entry",
		Method:        http.MethodPost,
		Path:          "/time-entries",
		Summary:       "Log time",
		DefaultStatus: http.StatusCreated,
		Errors:        timeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTimeEntryRequest
	}) (*body[domain.TimeEntry], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.CreateTimeEntry(ctx, engine.TimeEntryInput{
			UserID:      input.Body.UserID,
			LeadID:      input.Body.LeadID,
			Date:        input.Body.Date,
			Duration:    input.Body.Duration,
			Category:    input.Body.Category,
			Description: input.Body.Description,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(entry), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-time-entry",
		Method:        http.MethodDelete,
		Path:          "/time-entries/{id}",
		Summary:       "Delete a time entry",
		DefaultStatus: http.StatusNoContent,
		Errors:        timeErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTimeEntry(ctx, input.ID, actor); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-time-entries",
		Method:      http.MethodGet,
		Path:        "/time-entries",
		Summary:     "List time entries",
		Description: "Without user_id every user's entries are listed, which needs time.read.team.",
		Errors:      timeErrors,
	}, func(ctx context.Context, input *timeRange) (*body[TimeEntryList], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.ListTimeEntries(ctx, input.filters(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TimeEntryList{Items: nonNilSlice(entries)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "weekly-summary",
		Method:      http.MethodGet,
		Path:        "/time/weekly-summary",
		Summary:     "One user's ISO week",
		Errors:      timeErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Date   string `query:"date" format:"date"`
	}) (*body[engine.WeekSummary], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		summary, err := e.WeeklySummary(ctx, input.UserID, input.Date, actor)
		if err != nil {
			return nil, handleError(err)
		}
		summary.Entries = nonNilSlice(summary.Entries)
		return reply(summary), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "weekly-totals",
		Method:      http.MethodGet,
		Path:        "/time/weekly-totals",
		Summary:     "Totals per user and ISO week",
		Errors:      timeErrors,
	}, func(ctx context.Context, input *timeRange) (*body[[]timeledger.WeekBucket], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		buckets, err := e.WeeklyTotals(ctx, input.filters(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(buckets)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "average-billable-hours",
		Method:      http.MethodGet,
		Path:        "/time/average-billable",
		Summary:     "Average billable hours per employee per week",
		Errors:      timeErrors,
	}, func(ctx context.Context, input *struct {
		Weeks int `query:"weeks" minimum:"0"`
	}) (*body[timeledger.Average], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		avg, err := e.AverageBillableHoursPerEmployee(ctx, input.Weeks, actor)
		if err != nil {
			return nil, handleError(err)
		}
		avg.Employees = nonNilSlice(avg.Employees)
		return reply(avg), nil
	})
}
