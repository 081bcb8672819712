package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/domain"
	"dossierline/internal/engine"
	"dossierline/internal/engine/auth"
	"dossierline/internal/migrate"
	"dossierline/internal/notify"
	"dossierline/internal/quotediff"
	"dossierline/internal/repo"
)

type recordingNotifier struct {
	sigs []notify.QuoteReady
	err  error
}

func (n *recordingNotifier) QuoteReady(_ context.Context, sig notify.QuoteReady) error {
	n.sigs = append(n.sigs, sig)
	return n.err
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Notifier *recordingNotifier
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn, db.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("Bureau Test")
	eng := engine.New(conn, db.SQLite, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC) }
	eng.Events.Now = eng.Now
	rec := &recordingNotifier{}
	eng.Notifier = rec
	ctx := context.Background()
	if err := eng.SeedRBAC(ctx); err != nil {
		t.Fatalf("seed rbac: %v", err)
	}
	if err := eng.Bootstrap(ctx, "u-admin", "Admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	users := []engine.UserInput{
		{ID: "u-eng", Name: "Eva Engineer", Roles: []string{"engineer"}},
		{ID: "u-jan", Name: "Jan", Roles: []string{"rekenaar"}},
		{ID: "u-kees", Name: "Kees", Roles: []string{"projectleider"}},
		{ID: "u-piet", Name: "Piet", Roles: []string{"tekenaar"}},
	}
	for _, u := range users {
		if _, err := eng.CreateUser(ctx, u, "u-admin"); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Ctx: ctx, Notifier: rec}
}

// newCalculatieLead creates a lead and moves it to Calculatie.
func newCalculatieLead(t *testing.T, env testEnv, id string) domain.Lead {
	t.Helper()
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadInput{ID: id, ClientName: "Fam. de Vries", ClientEmail: "devries@example.nl"}, "u-eng"); err != nil {
		t.Fatalf("create lead: %v", err)
	}
	lead, err := env.Engine.UpdateLeadStatus(env.Ctx, id, domain.StatusCalculatie, "u-eng")
	if err != nil {
		t.Fatalf("to calculatie: %v", err)
	}
	return lead
}

func submission(items ...domain.LineItem) engine.QuoteSubmission {
	return engine.QuoteSubmission{LineItems: items, Description: "Constructieve berekening aanbouw"}
}

func item(desc string, euros float64) domain.LineItem {
	return domain.LineItem{Description: desc, Amount: domain.Euros(euros)}
}

func strPtr(s string) *string { return &s }

func rolePtr(r domain.Role) *domain.Role { return &r }

func assertSumMatches(t *testing.T, lead domain.Lead) {
	t.Helper()
	if lead.QuoteApproval == domain.QuoteNone {
		return
	}
	if sum := domain.SumLineItems(lead.QuoteLineItems); sum != lead.QuoteValue {
		t.Fatalf("quote value %s != line item total %s", lead.QuoteValue, sum)
	}
}

func TestQuoteRejectResubmitScenario(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")

	lead, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500), item("Tekening", 85)), "u-eng")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if lead.QuoteValue != domain.Euros(585) || lead.QuoteApproval != domain.QuotePending {
		t.Fatalf("unexpected after submit: value=%s approval=%s", lead.QuoteValue, lead.QuoteApproval)
	}
	assertSumMatches(t, lead)
	versions, err := env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if err != nil || len(versions) != 1 || versions[0].Version != 1 || versions[0].Status != domain.VersionSubmitted {
		t.Fatalf("expected version 1 submitted, got %+v err=%v", versions, err)
	}

	lead, err = env.Engine.RejectQuote(env.Ctx, "lead-1", "Te laag voor deze complexiteit", "u-admin")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if lead.QuoteApproval != domain.QuoteRejected {
		t.Fatalf("expected rejected, got %s", lead.QuoteApproval)
	}
	if len(lead.QuoteFeedback) != 1 || lead.QuoteFeedback[0].Type != domain.FeedbackRejection {
		t.Fatalf("expected one rejection feedback, got %+v", lead.QuoteFeedback)
	}
	if lead.QuoteFeedback[0].AuthorName != "Admin" || lead.QuoteFeedback[0].Message != "Te laag voor deze complexiteit" {
		t.Fatalf("unexpected feedback %+v", lead.QuoteFeedback[0])
	}

	lead, err = env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 650), item("Tekening", 85)), "u-eng")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	assertSumMatches(t, lead)
	diff, err := env.Engine.QuoteDiff(env.Ctx, "lead-1", 2, "u-eng")
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	if len(diff) != 1 {
		t.Fatalf("expected one change, got %+v", diff)
	}
	c := diff[0]
	if c.Type != quotediff.Modified || c.Description != "Berekening" || *c.OldValue != domain.Euros(500) || *c.NewValue != domain.Euros(650) {
		t.Fatalf("unexpected change %+v", c)
	}
	first, err := env.Engine.QuoteDiff(env.Ctx, "lead-1", 1, "u-eng")
	if err != nil || len(first) != 0 {
		t.Fatalf("expected empty diff for version 1, got %+v err=%v", first, err)
	}
	v1, err := env.Engine.QuoteVersion(env.Ctx, "lead-1", 1, "u-eng")
	if err != nil || v1.Status != domain.VersionRejected {
		t.Fatalf("expected version 1 labelled rejected, got %s err=%v", v1.Status, err)
	}
}

func TestSubmitQuoteRejectsInvalidInputWithoutWriting(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")

	mismatch := submission(item("Berekening", 500))
	wrong := domain.Euros(400)
	mismatch.QuoteValue = &wrong
	cases := map[string]engine.QuoteSubmission{
		"no items":       submission(),
		"empty desc":     submission(item(" ", 100)),
		"zero amount":    submission(item("Berekening", 0)),
		"negative":       submission(item("Berekening", -5)),
		"value mismatch": mismatch,
	}
	for name, s := range cases {
		if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", s, "u-eng"); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	versions, err := env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if err != nil || len(versions) != 0 {
		t.Fatalf("expected no versions, got %d err=%v", len(versions), err)
	}
	lead, err := env.Engine.GetLead(env.Ctx, "lead-1", "u-eng")
	if err != nil || lead.QuoteApproval != domain.QuoteNone {
		t.Fatalf("expected approval none, got %s err=%v", lead.QuoteApproval, err)
	}

	// The quote-level description is optional.
	lead, err = env.Engine.SubmitQuote(env.Ctx, "lead-1", engine.QuoteSubmission{
		LineItems: []domain.LineItem{item("Berekening", 500), item("Tekening", 85)},
	}, "u-eng")
	if err != nil {
		t.Fatalf("submit without description: %v", err)
	}
	if lead.QuoteValue != domain.Euros(585) || lead.QuoteDescription != "" {
		t.Fatalf("unexpected submitted quote %s %q", lead.QuoteValue, lead.QuoteDescription)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 600)), "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state while pending, got %v", err)
	}
	versions, _ = env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if len(versions) != 1 {
		t.Fatalf("expected one version, got %d", len(versions))
	}
}

func TestQuoteDecisionsNeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state without pending quote, got %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-eng"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden approve, got %v", err)
	}
	if _, err := env.Engine.RejectQuote(env.Ctx, "lead-1", "nee", "u-jan"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden reject, got %v", err)
	}
	if _, err := env.Engine.RejectQuote(env.Ctx, "lead-1", "  ", "u-admin"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty feedback, got %v", err)
	}
	lead, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "Akkoord", "u-admin")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if lead.QuoteApproval != domain.QuoteApproved || len(lead.QuoteFeedback) != 1 || lead.QuoteFeedback[0].Type != domain.FeedbackApproval {
		t.Fatalf("unexpected approved lead %+v", lead)
	}
}

func TestSendQuoteSignalsAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500), item("Tekening", 85)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, "lead-1", "u-eng"); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure before approval, got %v", err)
	}
	if len(env.Notifier.sigs) != 0 {
		t.Fatalf("no signal expected yet")
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	lead, err := env.Engine.SendQuote(env.Ctx, "lead-1", "u-eng")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if lead.Status != domain.StatusOfferteVerzonden || lead.QuoteApproval != domain.QuoteSent {
		t.Fatalf("unexpected after send: %s/%s", lead.Status, lead.QuoteApproval)
	}
	v, err := env.Engine.QuoteVersion(env.Ctx, "lead-1", 1, "u-eng")
	if err != nil || v.Status != domain.VersionSent {
		t.Fatalf("expected latest version sent, got %s err=%v", v.Status, err)
	}
	if len(env.Notifier.sigs) != 1 {
		t.Fatalf("expected one quote ready signal, got %d", len(env.Notifier.sigs))
	}
	sig := env.Notifier.sigs[0]
	if sig.LeadID != "lead-1" || sig.Version != 1 || sig.TotalInclVAT != domain.Money(70785) || sig.ClientEmail != "devries@example.nl" {
		t.Fatalf("unexpected signal %+v", sig)
	}
	evts, err := env.Engine.ListEvents(env.Ctx, repo.EventFilters{LeadID: "lead-1", Type: "quote.sent"}, "u-admin")
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one quote.sent event, got %d err=%v", len(evts), err)
	}
}

func TestNotifierFailureKeepsCommittedState(t *testing.T) {
	env := newTestEnv(t)
	env.Notifier.err = errors.New("broker down")
	newCalculatieLead(t, env, "lead-1")
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	lead, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOfferteVerzonden, "u-eng")
	if err != nil {
		t.Fatalf("status to offerte verzonden: %v", err)
	}
	if lead.QuoteApproval != domain.QuoteSent || len(env.Notifier.sigs) != 1 {
		t.Fatalf("expected sent quote and one attempt, got %s/%d", lead.QuoteApproval, len(env.Notifier.sigs))
	}
}

func TestLifecycleTransitions(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadInput{ID: "lead-1", ClientName: "Bakker BV"}, "u-eng"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOpdracht, "u-eng"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition Nieuw->Opdracht, got %v", err)
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", "Onbekend", "u-eng"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusCalculatie, "u-eng"); err != nil {
		t.Fatalf("to calculatie: %v", err)
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOfferteVerzonden, "u-eng"); !errors.Is(err, domain.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure without approval, got %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOfferteVerzonden, "u-eng"); err != nil {
		t.Fatalf("to offerte verzonden: %v", err)
	}

	// withdraw reopens the quote
	lead, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusCalculatie, "u-eng")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if lead.QuoteApproval != domain.QuoteNone {
		t.Fatalf("expected approval none after withdraw, got %s", lead.QuoteApproval)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 550)), "u-eng"); err != nil {
		t.Fatalf("resubmit after withdraw: %v", err)
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, "lead-1", "u-eng"); err != nil {
		t.Fatalf("send: %v", err)
	}
	lead, err = env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOpdracht, "u-eng")
	if err != nil {
		t.Fatalf("to opdracht: %v", err)
	}
	if lead.ExecutionPhase == nil || *lead.ExecutionPhase != domain.PhaseWachtrij || lead.DesignPhase != nil {
		t.Fatalf("expected execution phase wachtrij, got %v/%v", lead.ExecutionPhase, lead.DesignPhase)
	}
	if _, err := env.Engine.SetComplexProject(env.Ctx, "lead-1", true, "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state for track switch in opdracht, got %v", err)
	}
	if _, err := env.Engine.UpdatePhase(env.Ctx, "lead-1", domain.PhaseVoorlopigOntwerp, "u-eng"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for design phase on standard track, got %v", err)
	}
	lead, err = env.Engine.UpdatePhase(env.Ctx, "lead-1", domain.PhaseTerControle, "u-kees")
	if err != nil {
		t.Fatalf("skip ahead: %v", err)
	}
	if *lead.ExecutionPhase != domain.PhaseTerControle {
		t.Fatalf("expected ter_controle, got %s", *lead.ExecutionPhase)
	}
	if _, err := env.Engine.UpdatePhase(env.Ctx, "lead-1", domain.PhaseInBehandeling, "u-eng"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition going back, got %v", err)
	}
	lead, err = env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusArchief, "u-eng")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if lead.ExecutionPhase != nil || lead.DesignPhase != nil {
		t.Fatalf("expected phases cleared on archive")
	}
	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOpdracht, "u-eng"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("archief must be terminal, got %v", err)
	}
}

func TestComplexProjectUsesDesignTrack(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	if _, err := env.Engine.SetComplexProject(env.Ctx, "lead-1", true, "u-eng"); err != nil {
		t.Fatalf("set complex: %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Ontwerp", 1200)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, "lead-1", "u-eng"); err != nil {
		t.Fatalf("send: %v", err)
	}
	lead, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusOpdracht, "u-eng")
	if err != nil {
		t.Fatalf("to opdracht: %v", err)
	}
	if lead.DesignPhase == nil || *lead.DesignPhase != domain.PhaseVoorlopigOntwerp || lead.ExecutionPhase != nil {
		t.Fatalf("expected design phase voorlopig_ontwerp, got %v/%v", lead.ExecutionPhase, lead.DesignPhase)
	}
}

func TestTeamAssignmentAndAanZet(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")

	if _, err := env.Engine.UpdateAanZet(env.Ctx, "lead-1", rolePtr(domain.RoleRekenaar), "u-eng"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unassigned rekenaar, got %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.SetRole(env.Ctx, "lead-1", domain.RoleRekenaar, strPtr("u-jan"), "u-eng"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}
	if _, err := env.Engine.SetRole(env.Ctx, "lead-1", domain.RoleRekenaar, strPtr("u-piet"), "u-admin"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for user without rekenaar role, got %v", err)
	}
	if _, err := env.Engine.SetRole(env.Ctx, "lead-1", domain.RoleRekenaar, strPtr("u-ghost"), "u-admin"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown user, got %v", err)
	}
	lead, err := env.Engine.SetRole(env.Ctx, "lead-1", domain.RoleRekenaar, strPtr("u-jan"), "u-admin")
	if err != nil || lead.AssignedRekenaar == nil || *lead.AssignedRekenaar != "u-jan" {
		t.Fatalf("assign rekenaar: %v %+v", err, lead.AssignedRekenaar)
	}
	lead, err = env.Engine.UpdateAanZet(env.Ctx, "lead-1", rolePtr(domain.RoleRekenaar), "u-eng")
	if err != nil || lead.AanZet == nil || *lead.AanZet != domain.RoleRekenaar {
		t.Fatalf("aan zet rekenaar: %v", err)
	}
	// toggling the same user clears the slot and the turn
	lead, err = env.Engine.SetRole(env.Ctx, "lead-1", domain.RoleRekenaar, strPtr("u-jan"), "u-admin")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if lead.AssignedRekenaar != nil || lead.AanZet != nil {
		t.Fatalf("expected rekenaar and aan zet cleared, got %v/%v", lead.AssignedRekenaar, lead.AanZet)
	}

	lead, err = env.Engine.UpdateTeamAssignments(env.Ctx, "lead-1", engine.TeamUpdate{
		Projectleider: strPtr("u-kees"),
		Tekenaar:      strPtr("u-piet"),
	}, "u-admin")
	if err != nil {
		t.Fatalf("update team: %v", err)
	}
	if lead.AssignedProjectleider == nil || lead.AssignedTekenaar == nil || lead.AssignedRekenaar != nil {
		t.Fatalf("unexpected team %+v", lead.Team())
	}
	if lead, err = env.Engine.UpdateAanZet(env.Ctx, "lead-1", rolePtr(domain.RoleTekenaar), "u-kees"); err != nil {
		t.Fatalf("aan zet tekenaar: %v", err)
	}
	lead, err = env.Engine.UpdateTeamAssignments(env.Ctx, "lead-1", engine.TeamUpdate{Tekenaar: strPtr("")}, "u-admin")
	if err != nil {
		t.Fatalf("clear tekenaar: %v", err)
	}
	if lead.AssignedTekenaar != nil || lead.AanZet != nil || lead.AssignedProjectleider == nil {
		t.Fatalf("expected tekenaar and aan zet cleared, projectleider kept: %+v", lead.Team())
	}
	if lead, err = env.Engine.UpdateAanZet(env.Ctx, "lead-1", nil, "u-eng"); err != nil || lead.AanZet != nil {
		t.Fatalf("clearing aan zet is always allowed: %v", err)
	}

	leads, err := env.Engine.ListLeads(env.Ctx, repo.LeadFilters{Assignee: "u-kees"}, "u-jan")
	if err != nil || len(leads) != 1 {
		t.Fatalf("expected lead for projectleider, got %d err=%v", len(leads), err)
	}
}

func TestRollbackAppendsVersion(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.RejectQuote(env.Ctx, "lead-1", "te duur", "u-admin"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 400), item("Toeslag", 50)), "u-eng"); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if _, err := env.Engine.RollbackQuote(env.Ctx, "lead-1", 1, "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state while pending, got %v", err)
	}
	if _, err := env.Engine.RejectQuote(env.Ctx, "lead-1", "toch niet", "u-admin"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	lead, err := env.Engine.RollbackQuote(env.Ctx, "lead-1", 1, "u-eng")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if lead.QuoteApproval != domain.QuotePending || lead.QuoteValue != domain.Euros(500) {
		t.Fatalf("unexpected after rollback %s/%s", lead.QuoteApproval, lead.QuoteValue)
	}
	assertSumMatches(t, lead)
	versions, _ := env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if len(versions) != 3 {
		t.Fatalf("expected 3 versions, got %d", len(versions))
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Fatalf("versions must be strictly increasing, got %d at %d", v.Version, i)
		}
	}
	diff, err := env.Engine.QuoteDiff(env.Ctx, "lead-1", 3, "u-eng")
	if err != nil || len(diff) != 2 {
		t.Fatalf("expected modified+removed, got %+v err=%v", diff, err)
	}
}

func TestQuoteDraft(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	lead, err := env.Engine.SaveQuoteDraft(env.Ctx, "lead-1", engine.QuoteDraft{LineItems: []domain.LineItem{item("Berekening", 120.5)}, Description: "concept"}, "u-eng")
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if lead.QuoteValue != domain.Money(12050) || lead.QuoteApproval != domain.QuoteNone {
		t.Fatalf("unexpected draft %s/%s", lead.QuoteValue, lead.QuoteApproval)
	}
	versions, _ := env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if len(versions) != 0 {
		t.Fatalf("drafts must not create versions")
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 120.5)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.SaveQuoteDraft(env.Ctx, "lead-1", engine.QuoteDraft{}, "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state editing a pending quote, got %v", err)
	}
}

func TestLeadDetailsAndSpecifications(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")
	lead, err := env.Engine.UpdateLeadDetails(env.Ctx, "lead-1", engine.LeadPatch{City: strPtr("Utrecht"), Value: func() *domain.Money { m := domain.Euros(2500); return &m }()}, "u-eng")
	if err != nil || lead.City != "Utrecht" || lead.Value != domain.Euros(2500) || lead.ClientName != "Fam. de Vries" {
		t.Fatalf("patch: %v %+v", err, lead)
	}
	specs := []domain.Specification{{Key: "overspanning", Value: "6.2", Unit: "m"}, {Key: "belasting", Value: "2.5", Unit: "kN/m2"}}
	lead, err = env.Engine.UpdateSpecifications(env.Ctx, "lead-1", specs, "u-eng")
	if err != nil || len(lead.Specifications) != 2 || lead.Specifications[0].Key != "overspanning" {
		t.Fatalf("specs: %v %+v", err, lead.Specifications)
	}
	lead, err = env.Engine.GetLead(env.Ctx, "lead-1", "u-piet")
	if err != nil || lead.Specifications[1].Key != "belasting" {
		t.Fatalf("specification order must survive storage: %v %+v", err, lead.Specifications)
	}
	if _, err := env.Engine.UpdateSpecifications(env.Ctx, "lead-1", []domain.Specification{{Key: ""}}, "u-eng"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for empty key, got %v", err)
	}
	lead, err = env.Engine.AssignLead(env.Ctx, "lead-1", "Eva", "u-eng")
	if err != nil || lead.Assignee == nil || *lead.Assignee != "Eva" {
		t.Fatalf("assign: %v", err)
	}
	lead, err = env.Engine.AssignLead(env.Ctx, "lead-1", "", "u-eng")
	if err != nil || lead.Assignee != nil {
		t.Fatalf("clear assignee: %v", err)
	}
	if _, err := env.Engine.GetLead(env.Ctx, "missing", "u-eng"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTimeEntriesAndAverages(t *testing.T) {
	env := newTestEnv(t)
	newCalculatieLead(t, env, "lead-1")

	if _, err := env.Engine.CreateTimeEntry(env.Ctx, engine.TimeEntryInput{Date: "2026-10-12", Duration: 0, Category: domain.CategoryCalculatie}, "u-jan"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
	if _, err := env.Engine.CreateTimeEntry(env.Ctx, engine.TimeEntryInput{Date: "12-10-2026", Duration: 30, Category: domain.CategoryCalculatie}, "u-jan"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}
	if _, err := env.Engine.CreateTimeEntry(env.Ctx, engine.TimeEntryInput{LeadID: "nope", Date: "2026-10-12", Duration: 30, Category: domain.CategoryCalculatie}, "u-jan"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown lead, got %v", err)
	}
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.CreateTimeEntry(env.Ctx, engine.TimeEntryInput{UserID: "u-piet", Date: "2026-10-12", Duration: 30, Category: domain.CategoryOverig}, "u-jan"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden logging for someone else, got %v", err)
	}

	inputs := []engine.TimeEntryInput{
		{LeadID: "lead-1", Date: "2026-10-12", Duration: 120, Category: domain.CategoryCalculatie},
		{Date: "2026-10-13", Duration: 60, Category: domain.CategoryAdministratie},
		{LeadID: "lead-1", Date: "2026-10-05", Duration: 60, Category: domain.CategoryOverleg},
		// general time is never billable, even in a billable category
		{Date: "2026-10-14", Duration: 30, Category: domain.CategoryOverleg},
	}
	var created []domain.TimeEntry
	for _, in := range inputs {
		e, err := env.Engine.CreateTimeEntry(env.Ctx, in, "u-jan")
		if err != nil {
			t.Fatalf("create entry %+v: %v", in, err)
		}
		created = append(created, e)
	}
	if _, err := env.Engine.CreateTimeEntry(env.Ctx, engine.TimeEntryInput{UserID: "u-piet", Date: "2026-10-13", Duration: 90, Category: domain.CategoryPrive}, "u-admin"); err != nil {
		t.Fatalf("admin logs for piet: %v", err)
	}

	week, err := env.Engine.WeeklySummary(env.Ctx, "", "2026-10-14", "u-jan")
	if err != nil {
		t.Fatalf("weekly summary: %v", err)
	}
	if week.WeekStart != "2026-10-12" || week.Totals.TotalMinutes != 210 || week.Totals.BillableMinutes != 120 || week.Totals.BillablePercent != 57 {
		t.Fatalf("unexpected week %+v", week)
	}

	if _, err := env.Engine.TeamTimeEntries(env.Ctx, "2026-10-01", "2026-10-31", "u-jan"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden team read, got %v", err)
	}
	team, err := env.Engine.TeamTimeEntries(env.Ctx, "2026-10-12", "2026-10-18", "u-admin")
	if err != nil || len(team) != 4 {
		t.Fatalf("expected 4 team entries this week, got %d err=%v", len(team), err)
	}

	avg, err := env.Engine.AverageBillableHoursPerEmployee(env.Ctx, 2, "u-admin")
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	if len(avg.Employees) != 2 {
		t.Fatalf("expected 2 employees, got %+v", avg.Employees)
	}
	jan, piet := avg.Employees[0], avg.Employees[1]
	if jan.UserID != "u-jan" || jan.AvgBillableHoursPerWeek != 1.5 || jan.AvgTotalHoursPerWeek != 2.3 || jan.BillablePercent != 67 {
		t.Fatalf("unexpected jan average %+v", jan)
	}
	if piet.AvgBillableHoursPerWeek != 0 || piet.BillablePercent != 0 {
		t.Fatalf("unexpected piet average %+v", piet)
	}
	if avg.TeamAverage != 0.8 {
		t.Fatalf("expected team average 0.8, got %v", avg.TeamAverage)
	}

	if err := env.Engine.DeleteTimeEntry(env.Ctx, created[0].ID, "u-piet"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden delete of another user's entry, got %v", err)
	}
	if err := env.Engine.DeleteTimeEntry(env.Ctx, created[0].ID, "u-jan"); err != nil {
		t.Fatalf("delete own entry: %v", err)
	}
	if err := env.Engine.DeleteTimeEntry(env.Ctx, created[0].ID, "u-jan"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUsersAndRoles(t *testing.T) {
	env := newTestEnv(t)
	var forbidden auth.ForbiddenError
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserInput{Name: "X"}, "u-eng"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserInput{Name: "X", Roles: []string{"koning"}}, "u-admin"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown role, got %v", err)
	}
	u, err := env.Engine.GrantRole(env.Ctx, "u-piet", "rekenaar", "u-admin")
	if err != nil || !u.HasRole("rekenaar") || !u.HasRole("tekenaar") {
		t.Fatalf("grant: %v %+v", err, u)
	}
	if _, err := env.Engine.SetRole(env.Ctx, mustLead(t, env), domain.RoleRekenaar, strPtr("u-piet"), "u-admin"); err != nil {
		t.Fatalf("piet can now be rekenaar: %v", err)
	}
	u, err = env.Engine.RevokeRole(env.Ctx, "u-piet", "tekenaar", "u-admin")
	if err != nil || u.HasRole("tekenaar") {
		t.Fatalf("revoke: %v %+v", err, u)
	}
	who, err := env.Engine.WhoAmI(env.Ctx, "u-jan")
	if err != nil || who.User.Name != "Jan" || len(who.Permissions) != 2 {
		t.Fatalf("whoami: %v %+v", err, who)
	}
	users, err := env.Engine.ListUsers(env.Ctx, "u-jan")
	if err != nil || len(users) != 5 {
		t.Fatalf("expected 5 users, got %d err=%v", len(users), err)
	}
	plain, key, err := env.Engine.CreateAPIKey(env.Ctx, "u-jan", "laptop", "u-jan")
	if err != nil || plain == "" || key.KeyHash != repo.HashAPIKey(plain) {
		t.Fatalf("api key: %v", err)
	}
}

func mustLead(t *testing.T, env testEnv) string {
	t.Helper()
	lead := newCalculatieLead(t, env, "lead-x")
	return lead.ID
}

func TestEventsAfterFollowsNewEvents(t *testing.T) {
	env := newTestEnv(t)
	_, head, err := env.Engine.EventsAfter(env.Ctx, 0, 10, true, "u-admin")
	if err != nil || head == 0 {
		t.Fatalf("head: %d %v", head, err)
	}
	newCalculatieLead(t, env, "lead-follow")
	evts, next, err := env.Engine.EventsAfter(env.Ctx, head, 10, false, "u-admin")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if len(evts) != 2 || next != evts[1].ID {
		t.Fatalf("expected create and status events, got %d next=%d", len(evts), next)
	}
	for _, ev := range evts {
		if ev.LeadID != "lead-follow" {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
	evts, _, err = env.Engine.EventsAfter(env.Ctx, next, 10, false, "u-admin")
	if err != nil || len(evts) != 0 {
		t.Fatalf("expected no new events, got %d %v", len(evts), err)
	}
	var forbidden auth.ForbiddenError
	if _, _, err := env.Engine.EventsAfter(env.Ctx, 0, 10, false, "u-jan"); !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestQuoteChangesOnlyWhileCalculating(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateLead(env.Ctx, engine.LeadInput{ID: "lead-1", ClientName: "Bakker BV"}, "u-eng"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state submitting in Nieuw, got %v", err)
	}
	if _, err := env.Engine.SaveQuoteDraft(env.Ctx, "lead-1", engine.QuoteDraft{LineItems: []domain.LineItem{item("Berekening", 500)}}, "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state drafting in Nieuw, got %v", err)
	}
	lead, err := env.Engine.GetLead(env.Ctx, "lead-1", "u-eng")
	if err != nil || lead.QuoteApproval != domain.QuoteNone || len(lead.QuoteLineItems) != 0 {
		t.Fatalf("lead must be untouched: %v %+v", err, lead)
	}

	if _, err := env.Engine.UpdateLeadStatus(env.Ctx, "lead-1", domain.StatusCalculatie, "u-eng"); err != nil {
		t.Fatalf("to calculatie: %v", err)
	}
	if _, err := env.Engine.SubmitQuote(env.Ctx, "lead-1", submission(item("Berekening", 500)), "u-eng"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.ApproveQuote(env.Ctx, "lead-1", "", "u-admin"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.Engine.SendQuote(env.Ctx, "lead-1", "u-eng"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.Engine.RollbackQuote(env.Ctx, "lead-1", 1, "u-eng"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state rolling back in Offerte Verzonden, got %v", err)
	}
	versions, _ := env.Engine.QuoteVersions(env.Ctx, "lead-1", "u-eng")
	if len(versions) != 1 {
		t.Fatalf("expected one version, got %d", len(versions))
	}
}

func TestPermissionLookupFailureIsStorageError(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.DB.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := env.Engine.ListTimeEntries(env.Ctx, repo.TimeFilters{UserID: "u-jan"}, "u-jan"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("list time entries: expected storage error, got %v", err)
	}
	if _, err := env.Engine.GetUser(env.Ctx, "u-jan", "u-admin"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("get user: expected storage error, got %v", err)
	}
	if _, _, err := env.Engine.CreateAPIKey(env.Ctx, "u-jan", "laptop", "u-admin"); !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("create api key: expected storage error, got %v", err)
	}
}
