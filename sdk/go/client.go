package dossierlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Dossierline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// LineItem is one priced quote line. Amounts are euros.
type LineItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// Feedback is an approval or rejection note on a quote.
type Feedback struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	AuthorName string `json:"author_name"`
	Timestamp  string `json:"timestamp"`
}

// Lead represents the API dossier model (partial).
type Lead struct {
	ID                    string     `json:"id"`
	ClientName            string     `json:"client_name"`
	ClientEmail           string     `json:"client_email,omitempty"`
	Status                string     `json:"status"`
	ExecutionPhase        *string    `json:"execution_phase,omitempty"`
	DesignPhase           *string    `json:"design_phase,omitempty"`
	IsComplexProject      bool       `json:"is_complex_project"`
	AssignedProjectleider *string    `json:"assigned_projectleider,omitempty"`
	AssignedRekenaar      *string    `json:"assigned_rekenaar,omitempty"`
	AssignedTekenaar      *string    `json:"assigned_tekenaar,omitempty"`
	AanZet                *string    `json:"aan_zet,omitempty"`
	QuoteApproval         string     `json:"quote_approval"`
	QuoteValue            float64    `json:"quote_value"`
	QuoteTotalInclVAT     float64    `json:"quote_total_incl_vat"`
	QuoteLineItems        []LineItem `json:"quote_line_items"`
	QuoteFeedback         []Feedback `json:"quote_feedback"`
	UpdatedAt             string     `json:"updated_at"`
}

// QuoteVersion is one immutable quote snapshot.
type QuoteVersion struct {
	LeadID    string     `json:"lead_id"`
	Version   int        `json:"version"`
	CreatedBy string     `json:"created_by"`
	Value     float64    `json:"value"`
	LineItems []LineItem `json:"line_items"`
	Status    string     `json:"status"`
	CreatedAt string     `json:"created_at"`
}

// LineChange describes one line item difference between two versions.
type LineChange struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	OldValue    *float64 `json:"old_value,omitempty"`
	NewValue    *float64 `json:"new_value,omitempty"`
}

// TimeEntry is a logged block of work in minutes.
type TimeEntry struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	LeadID      *string `json:"lead_id,omitempty"`
	Date        string  `json:"date"`
	Duration    int     `json:"duration"`
	Category    string  `json:"category"`
	Description string  `json:"description,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	LeadID     string `json:"lead_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateLead creates a dossier in Nieuw.
func (c *Client) CreateLead(ctx context.Context, clientName, clientEmail string) (Lead, error) {
	body := map[string]any{
		"client_name":  clientName,
		"client_email": clientEmail,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, "leads", body, &resp)
	return resp, err
}

// Lead fetches a dossier.
func (c *Client) Lead(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodGet, leadPath(id, ""), nil, &resp)
	return resp, err
}

// UpdateStatus moves a dossier through the lifecycle.
func (c *Client) UpdateStatus(ctx context.Context, id, status string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(id, "status"), map[string]any{"status": status}, &resp)
	return resp, err
}

// SubmitQuote submits line items for approval. The quote value is derived server side.
func (c *Client) SubmitQuote(ctx context.Context, id, description string, items []LineItem) (Lead, error) {
	body := map[string]any{
		"line_items":  items,
		"description": description,
	}
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(id, "quote/submit"), body, &resp)
	return resp, err
}

// ApproveQuote approves the pending quote.
func (c *Client) ApproveQuote(ctx context.Context, id, message string) (Lead, error) {
	return c.decide(ctx, id, "approve", message)
}

// RejectQuote rejects the pending quote; message is required.
func (c *Client) RejectQuote(ctx context.Context, id, message string) (Lead, error) {
	return c.decide(ctx, id, "reject", message)
}

func (c *Client) decide(ctx context.Context, id, decision, message string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(id, "quote/"+decision), map[string]any{"message": message}, &resp)
	return resp, err
}

// SendQuote sends the approved quote.
func (c *Client) SendQuote(ctx context.Context, id string) (Lead, error) {
	var resp Lead
	err := c.do(ctx, http.MethodPost, leadPath(id, "quote/send"), nil, &resp)
	return resp, err
}

// QuoteVersions lists versions oldest first.
func (c *Client) QuoteVersions(ctx context.Context, id string) ([]QuoteVersion, error) {
	var resp struct {
		Items []QuoteVersion `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, leadPath(id, "quote/versions"), nil, &resp)
	return resp.Items, err
}

// QuoteDiff returns the line item changes of version against its predecessor.
func (c *Client) QuoteDiff(ctx context.Context, id string, version int) ([]LineChange, error) {
	var resp struct {
		Changes []LineChange `json:"changes"`
	}
	err := c.do(ctx, http.MethodGet, leadPath(id, fmt.Sprintf("quote/versions/%d/diff", version)), nil, &resp)
	return resp.Changes, err
}

// SetTeam assigns role slots. Nil leaves a slot alone; an empty string clears it.
func (c *Client) SetTeam(ctx context.Context, id string, projectleider, rekenaar, tekenaar *string) (Lead, error) {
	body := map[string]any{}
	for k, v := range map[string]*string{"projectleider": projectleider, "rekenaar": rekenaar, "tekenaar": tekenaar} {
		if v != nil {
			body[k] = *v
		}
	}
	var resp Lead
	err := c.do(ctx, http.MethodPatch, leadPath(id, "team"), body, &resp)
	return resp, err
}

// LogTime records minutes for a user. An empty leadID logs time without a dossier.
func (c *Client) LogTime(ctx context.Context, userID, leadID, date string, minutes int, category string) (TimeEntry, error) {
	body := map[string]any{
		"user_id":  userID,
		"date":     date,
		"duration": minutes,
		"category": category,
	}
	if leadID != "" {
		body["lead_id"] = leadID
	}
	var resp TimeEntry
	err := c.do(ctx, http.MethodPost, "time-entries", body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func leadPath(id, suffix string) string {
	p := "leads/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
