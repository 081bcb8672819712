package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/metrics"
	"dossierline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	return newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true})
}

func newTestServerWithAuth(t *testing.T, authCfg AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Bureau Test")
	e := engine.New(conn, db.SQLite, cfg)
	e.Now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }
	e.Events.Now = e.Now
	e.Metrics = metrics.New()
	ctx := context.Background()
	if err := e.SeedRBAC(ctx); err != nil {
		t.Fatalf("seed rbac: %v", err)
	}
	if err := e.Bootstrap(ctx, "u-admin", "Admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	for _, u := range []engine.UserInput{
		{ID: "u-eng", Name: "Eva Engineer", Roles: []string{"engineer"}},
		{ID: "u-jan", Name: "Jan", Roles: []string{"rekenaar"}},
	} {
		if _, err := e.CreateUser(ctx, u, "u-admin"); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     authCfg,
		Metrics:  e.Metrics,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(user string) map[string]string { return map[string]string{"X-Actor-Id": user} }

func expectStatus(t *testing.T, res *http.Response, data []byte, want int) {
	t.Helper()
	if res.StatusCode != want {
		t.Fatalf("status %d, want %d: %s", res.StatusCode, want, string(data))
	}
}

func decodeLead(t *testing.T, data []byte) LeadResponse {
	t.Helper()
	var lead LeadResponse
	if err := json.Unmarshal(data, &lead); err != nil {
		t.Fatalf("unmarshal lead: %v", err)
	}
	return lead
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestQuoteWorkflowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/leads"

	res, data := doJSON(t, client, http.MethodPost, base, map[string]any{
		"id":           "L-1",
		"client_name":  "Fam. Jansen",
		"client_email": "jansen@example.nl",
	}, as("u-eng"))
	expectStatus(t, res, data, http.StatusCreated)
	if lead := decodeLead(t, data); lead.Status != domain.StatusNieuw || lead.QuoteApproval != domain.QuoteNone {
		t.Fatalf("unexpected new lead: %+v", lead)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/status", map[string]any{"status": "Calculatie"}, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)

	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/submit", map[string]any{
		"line_items": []map[string]any{
			{"description": "Berekening", "amount": 500},
			{"description": "Tekening", "amount": 85},
		},
		"description": "Constructieve berekening",
		"quote_value": 585,
	}, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)
	lead := decodeLead(t, data)
	if lead.QuoteApproval != domain.QuotePending || lead.QuoteValue != domain.Euros(585) {
		t.Fatalf("unexpected submitted lead: %+v", lead)
	}
	if lead.QuoteTotalInclVAT != domain.Euros(707.85) {
		t.Fatalf("total incl vat %s, want 707.85", lead.QuoteTotalInclVAT)
	}

	// Engineers cannot decide on quotes.
	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/approve", map[string]any{}, as("u-eng"))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/reject", map[string]any{"message": "Berekening te laag"}, as("u-admin"))
	expectStatus(t, res, data, http.StatusOK)
	if lead := decodeLead(t, data); lead.QuoteApproval != domain.QuoteRejected || len(lead.QuoteFeedback) != 1 {
		t.Fatalf("unexpected rejected lead: %+v", lead)
	}

	// A resubmission may leave the quote description out.
	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/submit", map[string]any{
		"line_items": []map[string]any{
			{"description": "Berekening", "amount": 650},
			{"description": "Tekening", "amount": 85},
		},
	}, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)
	if lead := decodeLead(t, data); lead.QuoteApproval != domain.QuotePending || lead.QuoteValue != domain.Euros(735) {
		t.Fatalf("unexpected resubmitted lead: %+v", lead)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/L-1/quote/versions/2/diff", nil, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)
	var diff QuoteDiffResponse
	if err := json.Unmarshal(data, &diff); err != nil {
		t.Fatalf("unmarshal diff: %v", err)
	}
	if len(diff.Changes) != 1 || diff.Changes[0].Description != "Berekening" {
		t.Fatalf("unexpected diff: %+v", diff.Changes)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/approve", map[string]any{}, as("u-admin"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, base+"/L-1/quote/send", nil, as("u-admin"))
	expectStatus(t, res, data, http.StatusOK)
	if lead := decodeLead(t, data); lead.Status != domain.StatusOfferteVerzonden || lead.QuoteApproval != domain.QuoteSent {
		t.Fatalf("unexpected sent lead: %+v", lead)
	}

	res, data = doJSON(t, client, http.MethodGet, base+"/L-1/quote/versions", nil, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)
	var versions QuoteVersionList
	if err := json.Unmarshal(data, &versions); err != nil {
		t.Fatalf("unmarshal versions: %v", err)
	}
	if len(versions.Items) != 2 || versions.Items[1].Status != domain.VersionSent {
		t.Fatalf("unexpected versions: %+v", versions.Items)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0/leads"

	res, data := doJSON(t, client, http.MethodGet, base+"/missing", nil, as("u-eng"))
	expectStatus(t, res, data, http.StatusNotFound)
	if code := errorCode(t, data); code != "not_found" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base, map[string]any{"id": "L-2", "client_name": "Bakker"}, as("u-eng"))
	expectStatus(t, res, data, http.StatusCreated)

	res, data = doJSON(t, client, http.MethodPost, base+"/L-2/status", map[string]any{"status": "Opdracht"}, as("u-eng"))
	expectStatus(t, res, data, http.StatusConflict)
	if code := errorCode(t, data); code != "invalid_transition" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/L-2/quote/submit", map[string]any{
		"line_items":  []map[string]any{{"description": "Berekening", "amount": 500}},
		"description": "x",
	}, as("u-eng"))
	expectStatus(t, res, data, http.StatusConflict)
	if code := errorCode(t, data); code != "invalid_state" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/L-2/status", map[string]any{"status": "Calculatie"}, as("u-eng"))
	expectStatus(t, res, data, http.StatusOK)
	res, data = doJSON(t, client, http.MethodPost, base+"/L-2/quote/submit", map[string]any{
		"line_items":  []map[string]any{{"description": "Berekening", "amount": 500}},
		"description": "x",
		"quote_value": 400,
	}, as("u-eng"))
	expectStatus(t, res, data, http.StatusUnprocessableEntity)

	res, data = doJSON(t, client, http.MethodPost, base+"/L-2/quote/send", nil, as("u-admin"))
	expectStatus(t, res, data, http.StatusPreconditionFailed)
	if code := errorCode(t, data); code != "precondition_failed" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodGet, base, nil, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code %q", code)
	}
}

func TestDevLoginIsOffByDefault(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "u-admin"}, nil)
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "u-admin"}, as("u-jan"))
	expectStatus(t, res, data, http.StatusNotFound)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if strings.Contains(string(data), "/auth/dev/login") {
		t.Fatalf("openapi lists dev login while disabled")
	}
}

func TestDevLoginAndAPIKey(t *testing.T) {
	srv, cleanup := newTestServerWithAuth(t, AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, EnableDevLogin: true})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"user_id": "u-jan"}, nil)
	expectStatus(t, res, data, http.StatusOK)
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unexpected login response: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusOK)
	var who engine.WhoAmI
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if who.User.ID != "u-jan" {
		t.Fatalf("whoami user %q", who.User.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	expectStatus(t, res, data, http.StatusUnauthorized)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/users/u-jan/api-keys", map[string]any{"name": "laptop"}, map[string]string{"Authorization": "Bearer " + login.Token})
	expectStatus(t, res, data, http.StatusCreated)
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if !strings.HasPrefix(key.Key, "dl_") {
		t.Fatalf("unexpected key %q", key.Key)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{"X-Api-Key": key.Key})
	expectStatus(t, res, data, http.StatusOK)
	var users UserList
	if err := json.Unmarshal(data, &users); err != nil {
		t.Fatalf("unmarshal users: %v", err)
	}
	if len(users.Items) != 3 {
		t.Fatalf("got %d users", len(users.Items))
	}
}

func TestTimeEntriesOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/leads", map[string]any{"id": "L-T", "client_name": "Fam. Visser"}, as("u-eng"))
	expectStatus(t, res, data, http.StatusCreated)

	// Only time booked on a dossier is billable.
	for _, entry := range []map[string]any{
		{"date": "2026-10-12", "duration": 90, "category": "calculatie", "lead_id": "L-T"},
		{"date": "2026-10-13", "duration": 45, "category": "calculatie"},
		{"date": "2026-10-13", "duration": 30, "category": "prive"},
	} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/time-entries", entry, as("u-jan"))
		expectStatus(t, res, data, http.StatusCreated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/time/weekly-summary?date=2026-10-14", nil, as("u-jan"))
	expectStatus(t, res, data, http.StatusOK)
	var summary engine.WeekSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.WeekStart != "2026-10-12" || summary.Totals.TotalMinutes != 165 || summary.Totals.BillableMinutes != 90 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Team-wide listing is not open to a rekenaar.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/time-entries", nil, as("u-jan"))
	expectStatus(t, res, data, http.StatusForbidden)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/time-entries?user_id=u-jan", nil, as("u-jan"))
	expectStatus(t, res, data, http.StatusOK)
	var list TimeEntryList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(list.Items) != 3 {
		t.Fatalf("got %d entries", len(list.Items))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/time-entries/"+list.Items[0].ID, nil, as("u-jan"))
	expectStatus(t, res, data, http.StatusNoContent)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/time-entries", map[string]any{
		"date": "2026-10-12", "duration": 30, "category": "calculatie", "user_id": "u-eng",
	}, as("u-jan"))
	expectStatus(t, res, data, http.StatusForbidden)
}

func TestHealthDocsAndMetricsAreOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	for _, p := range []string{"/v0/health", "/v0/openapi.json", "/docs", "/metrics"} {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+p, nil, nil)
		expectStatus(t, res, data, http.StatusOK)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	expectStatus(t, res, data, http.StatusOK)
	if !strings.Contains(string(data), "bearerAuth") {
		t.Fatalf("openapi missing security scheme")
	}
	var oas struct {
		Components struct {
			Schemas map[string]struct {
				Properties map[string]any `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &oas); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	props := oas.Components.Schemas["LeadResponse"].Properties
	for _, field := range []string{"id", "status", "quote_approval", "quote_line_items", "quote_total_incl_vat"} {
		if _, ok := props[field]; !ok {
			t.Fatalf("LeadResponse schema missing %q: %v", field, props)
		}
	}
}
