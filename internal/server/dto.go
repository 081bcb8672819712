package server

import (
	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/quotediff"
)

// Request payloads

type CreateLeadRequest struct {
	ID               string                 `json:"id,omitempty"`
	ClientName       string                 `json:"client_name" minLength:"1"`
	ClientEmail      string                 `json:"client_email,omitempty"`
	ClientPhone      string                 `json:"client_phone,omitempty"`
	ClientCompany    string                 `json:"client_company,omitempty"`
	ProjectType      string                 `json:"project_type,omitempty"`
	Address          string                 `json:"address,omitempty"`
	City             string                 `json:"city,omitempty"`
	Value            domain.Money           `json:"value,omitempty"`
	Notes            string                 `json:"notes,omitempty"`
	IsComplexProject bool                   `json:"is_complex_project,omitempty"`
	Specifications   []domain.Specification `json:"specifications,omitempty"`
}

func (r CreateLeadRequest) input() engine.LeadInput {
	return engine.LeadInput{
		ID:               r.ID,
		ClientName:       r.ClientName,
		ClientEmail:      r.ClientEmail,
		ClientPhone:      r.ClientPhone,
		ClientCompany:    r.ClientCompany,
		ProjectType:      r.ProjectType,
		Address:          r.Address,
		City:             r.City,
		Value:            r.Value,
		Notes:            r.Notes,
		IsComplexProject: r.IsComplexProject,
		Specifications:   r.Specifications,
	}
}

type UpdateLeadRequest struct {
	ClientName    *string       `json:"client_name,omitempty"`
	ClientEmail   *string       `json:"client_email,omitempty"`
	ClientPhone   *string       `json:"client_phone,omitempty"`
	ClientCompany *string       `json:"client_company,omitempty"`
	ProjectType   *string       `json:"project_type,omitempty"`
	Address       *string       `json:"address,omitempty"`
	City          *string       `json:"city,omitempty"`
	Value         *domain.Money `json:"value,omitempty"`
	Notes         *string       `json:"notes,omitempty"`
}

func (r UpdateLeadRequest) patch() engine.LeadPatch {
	return engine.LeadPatch{
		ClientName:    r.ClientName,
		ClientEmail:   r.ClientEmail,
		ClientPhone:   r.ClientPhone,
		ClientCompany: r.ClientCompany,
		ProjectType:   r.ProjectType,
		Address:       r.Address,
		City:          r.City,
		Value:         r.Value,
		Notes:         r.Notes,
	}
}

type UpdateStatusRequest struct {
	Status domain.LeadStatus `json:"status" enum:"Nieuw,Calculatie,Offerte Verzonden,Opdracht,Archief"`
}

type UpdatePhaseRequest struct {
	Phase domain.Phase `json:"phase"`
}

type ComplexProjectRequest struct {
	IsComplexProject bool `json:"is_complex_project"`
}

type SpecificationsRequest struct {
	Specifications []domain.Specification `json:"specifications"`
}

type AssignLeadRequest struct {
	Assignee string `json:"assignee"`
}

type TeamUpdateRequest struct {
	Projectleider *string `json:"projectleider,omitempty"`
	Rekenaar      *string `json:"rekenaar,omitempty"`
	Tekenaar      *string `json:"tekenaar,omitempty"`
}

type SetRoleRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type AanZetRequest struct {
	AanZet string `json:"aan_zet,omitempty"`
}

type QuoteSubmitRequest struct {
	LineItems      []domain.LineItem `json:"line_items" minItems:"1"`
	Description    string            `json:"description,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
	QuoteValue     *domain.Money     `json:"quote_value,omitempty"`
}

type QuoteDraftRequest struct {
	LineItems      []domain.LineItem `json:"line_items,omitempty"`
	Description    string            `json:"description,omitempty"`
	EstimatedHours *float64          `json:"estimated_hours,omitempty"`
}

type QuoteDecisionRequest struct {
	Message string `json:"message,omitempty"`
}

type QuoteRollbackRequest struct {
	Version int `json:"version" minimum:"1"`
}

type CreateTimeEntryRequest struct {
	UserID      string          `json:"user_id,omitempty"`
	LeadID      string          `json:"lead_id,omitempty"`
	Date        string          `json:"date" format:"date"`
	Duration    int             `json:"duration" minimum:"1"`
	Category    domain.Category `json:"category" enum:"calculatie,overleg,administratie,site-bezoek,overig,algemeen,prive"`
	Description string          `json:"description,omitempty"`
}

type CreateUserRequest struct {
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

type SetRolesRequest struct {
	Roles []string `json:"roles"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

// Response payloads

// LeadFields carries domain.Lead's fields without its methods so the OpenAPI schema can
// be flattened into LeadResponse.
type LeadFields domain.Lead

// LeadResponse adds display-only derived amounts to a lead.
type LeadResponse struct {
	LeadFields
	QuoteTotalInclVAT domain.Money `json:"quote_total_incl_vat"`
}

type LeadList struct {
	Items []LeadResponse `json:"items"`
}

type QuoteVersionList struct {
	Items []domain.QuoteVersion `json:"items"`
}

type QuoteDiffResponse struct {
	LeadID  string             `json:"lead_id"`
	Version int                `json:"version"`
	Changes []quotediff.Change `json:"changes"`
}

type TimeEntryList struct {
	Items []domain.TimeEntry `json:"items"`
}

type UserList struct {
	Items []domain.User `json:"items"`
}

type APIKeyResponse struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Key    string `json:"key"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

func leadResponse(l domain.Lead, vatRate float64) LeadResponse {
	return LeadResponse{LeadFields: LeadFields(l), QuoteTotalInclVAT: l.QuoteTotalInclVAT(vatRate)}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
