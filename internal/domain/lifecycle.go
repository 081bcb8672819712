package domain

// LeadStatus is the top-level dossier state.
type LeadStatus string

const (
	StatusNieuw            LeadStatus = "Nieuw"
	StatusCalculatie       LeadStatus = "Calculatie"
	StatusOfferteVerzonden LeadStatus = "Offerte Verzonden"
	StatusOpdracht         LeadStatus = "Opdracht"
	StatusArchief          LeadStatus = "Archief"
)

var leadStatusOrder = []LeadStatus{StatusNieuw, StatusCalculatie, StatusOfferteVerzonden, StatusOpdracht, StatusArchief}

func (s LeadStatus) IsValid() bool {
	return s.rank() >= 0
}

func (s LeadStatus) rank() int {
	for i, st := range leadStatusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransitionTo reports whether the lifecycle graph has an edge s -> target.
// Guards that depend on other lead fields are checked by Lifecycle.Transition.
func (s LeadStatus) CanTransitionTo(target LeadStatus) bool {
	switch s {
	case StatusNieuw:
		return target == StatusCalculatie
	case StatusCalculatie:
		return target == StatusOfferteVerzonden
	case StatusOfferteVerzonden:
		// quote withdrawn or rejected by the client
		return target == StatusOpdracht || target == StatusCalculatie
	case StatusOpdracht:
		return target == StatusArchief
	case StatusArchief:
		return false
	default:
		return false
	}
}

// Phase is a sub-phase step while a lead is in Opdracht. Standard projects use the
// execution track, complex projects the design track.
type Phase string

const (
	PhaseWachtrij      Phase = "wachtrij"
	PhaseInBehandeling Phase = "in_behandeling"

	PhaseVoorlopigOntwerp        Phase = "voorlopig_ontwerp"
	PhaseDefinitiefOntwerp       Phase = "definitief_ontwerp"
	PhaseUitvoeringsgereedOntwerp Phase = "uitvoeringsgereed_ontwerp"

	PhaseTerControle Phase = "ter_controle"
	PhaseAfgerond    Phase = "afgerond"
)

var (
	executionTrack = []Phase{PhaseWachtrij, PhaseInBehandeling, PhaseTerControle, PhaseAfgerond}
	designTrack    = []Phase{PhaseVoorlopigOntwerp, PhaseDefinitiefOntwerp, PhaseUitvoeringsgereedOntwerp, PhaseTerControle, PhaseAfgerond}
)

// Track returns the ordered phases for a project kind.
func Track(complex bool) []Phase {
	if complex {
		return designTrack
	}
	return executionTrack
}

func phaseIndex(track []Phase, p Phase) int {
	for i, tp := range track {
		if tp == p {
			return i
		}
	}
	return -1
}

// Lifecycle is the tagged state of a lead: its status plus, only while in Opdracht,
// the current phase of the track selected by Complex.
type Lifecycle struct {
	Status  LeadStatus
	Phase   Phase
	Complex bool
}

// NewLifecycle returns the intake state.
func NewLifecycle(complex bool) Lifecycle {
	return Lifecycle{Status: StatusNieuw, Complex: complex}
}

// Transition moves the lifecycle to a new status. approval is the lead's current quote
// approval state, re-read by the caller at write time.
func (l Lifecycle) Transition(to LeadStatus, approval QuoteApproval) (Lifecycle, error) {
	if !to.IsValid() {
		return l, Invalid("status", "unknown status %q", to)
	}
	if l.Status == to {
		return l, invalidTransition(string(l.Status), string(to))
	}
	if !l.Status.CanTransitionTo(to) {
		return l, invalidTransition(string(l.Status), string(to))
	}
	if to == StatusOfferteVerzonden && approval != QuoteApproved {
		return l, PreconditionError{Reason: "an approved quote is required before entering " + string(StatusOfferteVerzonden)}
	}
	next := Lifecycle{Status: to, Complex: l.Complex}
	if to == StatusOpdracht {
		next.Phase = Track(l.Complex)[0]
	}
	return next, nil
}

// Advance moves the sub-phase forward. Skipping ahead is allowed, moving back is not.
func (l Lifecycle) Advance(to Phase) (Lifecycle, error) {
	if l.Status != StatusOpdracht {
		return l, InvalidState(string(l.Status), "phase change")
	}
	track := Track(l.Complex)
	target := phaseIndex(track, to)
	if target < 0 {
		return l, Invalid("phase", "%q is not a phase of the %s track", to, l.TrackName())
	}
	current := phaseIndex(track, l.Phase)
	if target <= current {
		return l, invalidTransition(string(l.Phase), string(to))
	}
	l.Phase = to
	return l, nil
}

// SetComplex switches the track. Not allowed once the track is in use.
func (l Lifecycle) SetComplex(complex bool) (Lifecycle, error) {
	if l.Complex == complex {
		return l, nil
	}
	if l.Status == StatusOpdracht {
		return l, InvalidState(string(l.Status), "changing project complexity")
	}
	l.Complex = complex
	return l, nil
}

func (l Lifecycle) TrackName() string {
	if l.Complex {
		return "design"
	}
	return "execution"
}

// ExecutionPhase returns the phase when the standard track is active.
func (l Lifecycle) ExecutionPhase() *Phase {
	if l.Status != StatusOpdracht || l.Complex || l.Phase == "" {
		return nil
	}
	p := l.Phase
	return &p
}

// DesignPhase returns the phase when the complex track is active.
func (l Lifecycle) DesignPhase() *Phase {
	if l.Status != StatusOpdracht || !l.Complex || l.Phase == "" {
		return nil
	}
	p := l.Phase
	return &p
}
