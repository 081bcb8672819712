package domain

// Lead is a dossier: a client request tracked from intake to archive.
type Lead struct {
	ID            string `json:"id"`
	ClientName    string `json:"client_name"`
	ClientEmail   string `json:"client_email,omitempty"`
	ClientPhone   string `json:"client_phone,omitempty"`
	ClientCompany string `json:"client_company,omitempty"`
	ProjectType   string `json:"project_type,omitempty"`
	Address       string `json:"address,omitempty"`
	City          string `json:"city,omitempty"`
	Value         Money  `json:"value"`
	Notes         string `json:"notes,omitempty"`

	Status           LeadStatus `json:"status" enum:"Nieuw,Calculatie,Offerte Verzonden,Opdracht,Archief"`
	ExecutionPhase   *Phase     `json:"execution_phase,omitempty"`
	DesignPhase      *Phase     `json:"design_phase,omitempty"`
	IsComplexProject bool       `json:"is_complex_project"`

	Assignee              *string `json:"assignee,omitempty"`
	AssignedProjectleider *string `json:"assigned_projectleider,omitempty"`
	AssignedRekenaar      *string `json:"assigned_rekenaar,omitempty"`
	AssignedTekenaar      *string `json:"assigned_tekenaar,omitempty"`
	AanZet                *Role   `json:"aan_zet,omitempty"`

	QuoteApproval       QuoteApproval `json:"quote_approval" enum:"none,pending,approved,rejected,sent"`
	QuoteValue          Money         `json:"quote_value"`
	QuoteDescription    string        `json:"quote_description,omitempty"`
	QuoteLineItems      []LineItem    `json:"quote_line_items"`
	QuoteEstimatedHours *float64      `json:"quote_estimated_hours,omitempty"`
	QuoteFeedback       []Feedback    `json:"quote_feedback"`

	Specifications []Specification `json:"specifications"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	UpdatedAt      string          `json:"updated_at" format:"date-time"`
}

// Lifecycle returns the tagged lifecycle state stored on the lead.
func (l Lead) Lifecycle() Lifecycle {
	lc := Lifecycle{Status: l.Status, Complex: l.IsComplexProject}
	if l.Status == StatusOpdracht {
		if l.IsComplexProject && l.DesignPhase != nil {
			lc.Phase = *l.DesignPhase
		}
		if !l.IsComplexProject && l.ExecutionPhase != nil {
			lc.Phase = *l.ExecutionPhase
		}
	}
	return lc
}

// ApplyLifecycle writes lc back onto the lead's flat fields.
func (l *Lead) ApplyLifecycle(lc Lifecycle) {
	l.Status = lc.Status
	l.IsComplexProject = lc.Complex
	l.ExecutionPhase = lc.ExecutionPhase()
	l.DesignPhase = lc.DesignPhase()
}

func (l Lead) Team() Team {
	return Team{
		Projectleider: l.AssignedProjectleider,
		Rekenaar:      l.AssignedRekenaar,
		Tekenaar:      l.AssignedTekenaar,
		AanZet:        l.AanZet,
	}
}

func (l *Lead) ApplyTeam(t Team) {
	l.AssignedProjectleider = t.Projectleider
	l.AssignedRekenaar = t.Rekenaar
	l.AssignedTekenaar = t.Tekenaar
	l.AanZet = t.AanZet
}

// QuoteTotalInclVAT is the derived display total.
func (l Lead) QuoteTotalInclVAT(rate float64) Money {
	return l.QuoteValue.WithVAT(rate)
}

type Specification struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

type TimeEntry struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	LeadID      *string  `json:"lead_id,omitempty"`
	Date        string   `json:"date" format:"date"`
	Duration    int      `json:"duration"`
	Category    Category `json:"category" enum:"calculatie,overleg,administratie,site-bezoek,overig,algemeen,prive"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

// Category classifies logged time.
type Category string

const (
	CategoryCalculatie    Category = "calculatie"
	CategoryOverleg       Category = "overleg"
	CategoryAdministratie Category = "administratie"
	CategorySiteBezoek    Category = "site-bezoek"
	CategoryOverig        Category = "overig"
	CategoryAlgemeen      Category = "algemeen"
	CategoryPrive         Category = "prive"
)

var Categories = []Category{
	CategoryCalculatie, CategoryOverleg, CategoryAdministratie, CategorySiteBezoek,
	CategoryOverig, CategoryAlgemeen, CategoryPrive,
}

func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

type User struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles"`
	CreatedAt string   `json:"created_at" format:"date-time"`
}

func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	LeadID     string `json:"lead_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
