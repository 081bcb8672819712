package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"dossierline/internal/domain"
	"dossierline/internal/engine"
)

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "User directory",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*body[UserList], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		users, err := e.ListUsers(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(UserList{Items: users}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register a user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest
	}) (*body[domain.User], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.CreateUser(ctx, engine.UserInput{
			ID:    input.Body.ID,
			Name:  input.Body.Name,
			Email: input.Body.Email,
			Roles: input.Body.Roles,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get a user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*body[domain.User], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.GetUser(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-user-roles",
		Method:      http.MethodPut,
		Path:        "/users/{id}/roles",
		Summary:     "Replace a user's roles",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body SetRolesRequest
	}) (*body[domain.User], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.SetUserRoles(ctx, input.ID, input.Body.Roles, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(u), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/users/{id}/api-keys",
		Summary:       "Issue an API key",
		Description:   "The plain key is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CreateAPIKeyRequest
	}) (*body[APIKeyResponse], error) {
		actor, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, key, err := e.CreateAPIKey(ctx, input.ID, input.Body.Name, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{ID: key.ID, UserID: key.UserID, Name: key.Name, Key: plain}), nil
	})
}
