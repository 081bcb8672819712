package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
)

type versionPath struct {
	LeadPath
	Version int `path:"version" minimum:"1"`
}

func registerQuotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "save-quote-draft",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/quote/draft",
		Summary:     "Edit the live quote without creating a version",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body QuoteDraftRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.SaveQuoteDraft(ctx, input.ID, engine.QuoteDraft{
				LineItems:      input.Body.LineItems,
				Description:    input.Body.Description,
				EstimatedHours: input.Body.EstimatedHours,
			}, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/submit",
		Summary:     "Submit the quote for approval",
		Description: "Appends a new version and sets the approval state to pending.",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body QuoteSubmitRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.SubmitQuote(ctx, input.ID, engine.QuoteSubmission{
				LineItems:      input.Body.LineItems,
				Description:    input.Body.Description,
				EstimatedHours: input.Body.EstimatedHours,
				QuoteValue:     input.Body.QuoteValue,
			}, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/approve",
		Summary:     "Approve the pending quote",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body QuoteDecisionRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.ApproveQuote(ctx, input.ID, input.Body.Message, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/reject",
		Summary:     "Reject the pending quote with feedback",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body QuoteDecisionRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.RejectQuote(ctx, input.ID, input.Body.Message, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/send",
		Summary:     "Send the approved quote to the client",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *LeadPath) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.SendQuote(ctx, input.ID, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "rollback-quote",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/quote/rollback",
		Summary:     "Restore an earlier version as a new version",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body QuoteRollbackRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.RollbackQuote(ctx, input.ID, input.Body.Version, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-quote-versions",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/quote/versions",
		Summary:     "Version history, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *LeadPath) (*body[QuoteVersionList], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		versions, err := e.QuoteVersions(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(QuoteVersionList{Items: nonNilSlice(versions)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quote-version",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/quote/versions/{version}",
		Summary:     "One quote version",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *versionPath) (*body[domain.QuoteVersion], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := e.QuoteVersion(ctx, input.ID, input.Version, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "diff-quote-version",
		Method:      http.MethodGet,
		Path:        "/leads/{id}/quote/versions/{version}/diff",
		Summary:     "Line item changes against the previous version",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *versionPath) (*body[QuoteDiffResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		changes, err := e.QuoteDiff(ctx, input.ID, input.Version, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(QuoteDiffResponse{LeadID: input.ID, Version: input.Version, Changes: nonNilSlice(changes)}), nil
	})
}
