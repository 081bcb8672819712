// Package timeledger aggregates time entries into weekly buckets, totals and billable
// averages. It does no I/O.
package timeledger

import (
	"math"
	"sort"
	"time"

	"dossierline/internal/domain"
)

const DateLayout = "2006-01-02"

// NoLead is the ByLead key used for general (non-project) time.
const NoLead = "general"

// Classifier decides which entries are billable.
type Classifier struct {
	billable map[domain.Category]bool
}

// DefaultBillable is the stock category table.
func DefaultBillable() map[domain.Category]bool {
	return map[domain.Category]bool{
		domain.CategoryCalculatie:    true,
		domain.CategoryOverleg:       true,
		domain.CategorySiteBezoek:    true,
		domain.CategoryOverig:        true,
		domain.CategoryAdministratie: false,
		domain.CategoryAlgemeen:      false,
		domain.CategoryPrive:         false,
	}
}

func NewClassifier(table map[domain.Category]bool) Classifier {
	c := Classifier{billable: map[domain.Category]bool{}}
	for k, v := range table {
		c.billable[k] = v
	}
	return c
}

// CategoryBillable reports the table value; unknown categories are not billable.
func (c Classifier) CategoryBillable(cat domain.Category) bool {
	return c.billable[cat]
}

// Billable reports whether e counts as billable. General time never does.
func (c Classifier) Billable(e domain.TimeEntry) bool {
	if e.LeadID == nil || *e.LeadID == "" {
		return false
	}
	return c.billable[e.Category]
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// WeekStart returns the Monday of the ISO week containing d, at midnight.
func WeekStart(d time.Time) time.Time {
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// Percent is round(billable/total*100) bounded to [0,100]; 0 when total is 0.
func Percent(billable, total int) int {
	if total <= 0 || billable <= 0 {
		return 0
	}
	p := int(math.Round(float64(billable) / float64(total) * 100))
	if p > 100 {
		return 100
	}
	return p
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

type Bucket struct {
	TotalMinutes    int `json:"total_minutes"`
	BillableMinutes int `json:"billable_minutes"`
	BillablePercent int `json:"billable_percent"`
}

func (b *Bucket) add(minutes int, billable bool) {
	b.TotalMinutes += minutes
	if billable {
		b.BillableMinutes += minutes
	}
	b.BillablePercent = Percent(b.BillableMinutes, b.TotalMinutes)
}

type WeekBucket struct {
	UserID    string `json:"user_id"`
	WeekStart string `json:"week_start" format:"date"`
	Bucket
}

// WeeklyTotals buckets entries per user and ISO week, ordered by user then week.
// Entries with an unparsable date are skipped.
func WeeklyTotals(entries []domain.TimeEntry, c Classifier) []WeekBucket {
	type key struct{ user, week string }
	buckets := map[key]*WeekBucket{}
	for _, e := range entries {
		d, err := ParseDate(e.Date)
		if err != nil {
			continue
		}
		k := key{e.UserID, WeekStart(d).Format(DateLayout)}
		b, ok := buckets[k]
		if !ok {
			b = &WeekBucket{UserID: k.user, WeekStart: k.week}
			buckets[k] = b
		}
		b.add(e.Duration, c.Billable(e))
	}
	out := make([]WeekBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].WeekStart < out[j].WeekStart
	})
	return out
}

type Totals struct {
	All        Bucket                     `json:"all"`
	ByUser     map[string]Bucket          `json:"by_user"`
	ByLead     map[string]Bucket          `json:"by_lead"`
	ByCategory map[domain.Category]Bucket `json:"by_category"`
}

// Summarize totals entries per user, per lead (NoLead for general time) and per category.
func Summarize(entries []domain.TimeEntry, c Classifier) Totals {
	t := Totals{
		ByUser:     map[string]Bucket{},
		ByLead:     map[string]Bucket{},
		ByCategory: map[domain.Category]Bucket{},
	}
	for _, e := range entries {
		billable := c.Billable(e)
		t.All.add(e.Duration, billable)

		u := t.ByUser[e.UserID]
		u.add(e.Duration, billable)
		t.ByUser[e.UserID] = u

		leadKey := NoLead
		if e.LeadID != nil && *e.LeadID != "" {
			leadKey = *e.LeadID
		}
		l := t.ByLead[leadKey]
		l.add(e.Duration, billable)
		t.ByLead[leadKey] = l

		cat := t.ByCategory[e.Category]
		cat.add(e.Duration, billable)
		t.ByCategory[e.Category] = cat
	}
	return t
}

type EmployeeAverage struct {
	UserID                  string  `json:"user_id"`
	AvgBillableHoursPerWeek float64 `json:"avg_billable_hours_per_week"`
	AvgTotalHoursPerWeek    float64 `json:"avg_total_hours_per_week"`
	BillablePercent         int     `json:"billable_percent"`
}

type Average struct {
	Weeks       int               `json:"weeks"`
	From        string            `json:"from" format:"date"`
	To          string            `json:"to" format:"date"`
	Employees   []EmployeeAverage `json:"employees"`
	TeamAverage float64           `json:"team_average"`
}

// Window returns the first and last day of the n ISO weeks ending with the week of now.
func Window(weeks int, now time.Time) (time.Time, time.Time) {
	end := WeekStart(now).AddDate(0, 0, 6)
	start := WeekStart(now).AddDate(0, 0, -7*(weeks-1))
	return start, end
}

// AverageBillable computes per-employee billable hours per week over a window of n weeks.
// Weeks without entries count as zero. Users without any entry in the window are left out.
func AverageBillable(entries []domain.TimeEntry, c Classifier, weeks int, now time.Time) (Average, error) {
	if weeks < 1 {
		return Average{}, domain.Invalid("weeks", "must be at least 1")
	}
	start, end := Window(weeks, now)
	type sums struct{ billable, total int }
	perUser := map[string]*sums{}
	for _, e := range entries {
		d, err := ParseDate(e.Date)
		if err != nil || d.Before(start) || d.After(end) {
			continue
		}
		s, ok := perUser[e.UserID]
		if !ok {
			s = &sums{}
			perUser[e.UserID] = s
		}
		s.total += e.Duration
		if c.Billable(e) {
			s.billable += e.Duration
		}
	}

	avg := Average{
		Weeks:     weeks,
		From:      start.Format(DateLayout),
		To:        end.Format(DateLayout),
		Employees: []EmployeeAverage{},
	}
	var teamSum float64
	for user, s := range perUser {
		billableHours := float64(s.billable) / float64(weeks) / 60
		teamSum += billableHours
		avg.Employees = append(avg.Employees, EmployeeAverage{
			UserID:                  user,
			AvgBillableHoursPerWeek: round1(billableHours),
			AvgTotalHoursPerWeek:    round1(float64(s.total) / float64(weeks) / 60),
			BillablePercent:         Percent(s.billable, s.total),
		})
	}
	sort.Slice(avg.Employees, func(i, j int) bool { return avg.Employees[i].UserID < avg.Employees[j].UserID })
	if len(avg.Employees) > 0 {
		avg.TeamAverage = round1(teamSum / float64(len(avg.Employees)))
	}
	return avg, nil
}
