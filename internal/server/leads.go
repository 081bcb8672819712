package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/repo"
)

type leadHandler func(ctx context.Context, actor string) (domain.Lead, error)

// leadReply runs fn for the authenticated actor and renders the lead.
func leadReply(ctx context.Context, e engine.Engine, fn leadHandler) (*body[LeadResponse], error) {
	actor, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return nil, authErr
	}
	lead, err := fn(ctx, actor)
	if err != nil {
		return nil, handleError(err)
	}
	return reply(leadResponse(lead, e.VATRate())), nil
}

var leadErrors = []int{
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusPreconditionFailed,
	http.StatusUnprocessableEntity,
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/leads",
		Summary:       "Create a dossier",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateLeadRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.CreateLead(ctx, input.Body.input(), actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "List dossiers",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		AanZet   string `query:"aan_zet"`
		Assignee string `query:"assignee"`
		Query    string `query:"q"`
		Limit    int    `query:"limit" default:"50"`
	}) (*body[LeadList], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		leads, err := e.ListLeads(ctx, repo.LeadFilters{
			Status:   input.Status,
			AanZet:   input.AanZet,
			Assignee: input.Assignee,
			Query:    input.Query,
			Limit:    normalizeLimit(input.Limit),
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		out := LeadList{Items: []LeadResponse{}}
		for _, l := range leads {
			out.Items = append(out.Items, leadResponse(l, e.VATRate()))
		}
		return reply(out), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Get a dossier",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *LeadPath) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.GetLead(ctx, input.ID, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead",
		Method:      http.MethodPatch,
		Path:        "/leads/{id}",
		Summary:     "Update client and project details",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body UpdateLeadRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.UpdateLeadDetails(ctx, input.ID, input.Body.patch(), actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead-status",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/status",
		Summary:     "Move a dossier through the lifecycle",
		Description: "Moving to Offerte Verzonden sends the approved quote.",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body UpdateStatusRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.UpdateLeadStatus(ctx, input.ID, input.Body.Status, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead-phase",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/phase",
		Summary:     "Set the execution or design sub-phase",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body UpdatePhaseRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.UpdatePhase(ctx, input.ID, input.Body.Phase, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-complex-project",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/complex",
		Summary:     "Toggle the complex-project design track",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body ComplexProjectRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.SetComplexProject(ctx, input.ID, input.Body.IsComplexProject, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-specifications",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/specifications",
		Summary:     "Replace the specification list",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body SpecificationsRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.UpdateSpecifications(ctx, input.ID, input.Body.Specifications, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-lead",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/assignee",
		Summary:     "Set the legacy single assignee",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body AssignLeadRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.AssignLead(ctx, input.ID, input.Body.Assignee, actor)
		})
	})
}

func registerTeam(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-team",
		Method:      http.MethodPatch,
		Path:        "/leads/{id}/team",
		Summary:     "Assign or clear role slots",
		Description: "Omitted roles are left alone; an empty string clears the slot.",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body TeamUpdateRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			return e.UpdateTeamAssignments(ctx, input.ID, engine.TeamUpdate{
				Projectleider: input.Body.Projectleider,
				Rekenaar:      input.Body.Rekenaar,
				Tekenaar:      input.Body.Tekenaar,
			}, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-team-role",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/team/{role}",
		Summary:     "Toggle one role slot",
		Description: "Assigning the current assignee again clears the slot.",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Role string `path:"role" enum:"projectleider,rekenaar,tekenaar"`
		Body SetRoleRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			var user *string
			if input.Body.UserID != "" {
				user = &input.Body.UserID
			}
			return e.SetRole(ctx, input.ID, domain.Role(input.Role), user, actor)
		})
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-aan-zet",
		Method:      http.MethodPut,
		Path:        "/leads/{id}/aan-zet",
		Summary:     "Point the turn at a role, or clear it",
		Errors:      leadErrors,
	}, func(ctx context.Context, input *struct {
		LeadPath
		Body AanZetRequest
	}) (*body[LeadResponse], error) {
		return leadReply(ctx, e, func(ctx context.Context, actor string) (domain.Lead, error) {
			var role *domain.Role
			if input.Body.AanZet != "" {
				r := domain.Role(input.Body.AanZet)
				role = &r
			}
			return e.UpdateAanZet(ctx, input.ID, role, actor)
		})
	})
}
