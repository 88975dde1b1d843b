package incident

import (
	"sort"
	"strings"
	"time"
)

// Rank orders incidents for the responder queue without mutating the
// input: CRITICAL severity first regardless of anything else, then higher
// priority score, then more upvotes, then oldest first. The sort is
// stable, so fully tied records keep their input order and ranking an
// already ranked slice changes nothing.
func Rank(list []*Incident) []*Incident {
	ranked := append([]*Incident(nil), list...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		ac, bc := a.Severity == SeverityCritical, b.Severity == SeverityCritical
		if ac != bc {
			return ac
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Upvotes != b.Upvotes {
			return a.Upvotes > b.Upvotes
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return false
	})
	return ranked
}

// Filter selects incidents by attribute. Empty fields match everything;
// populated fields combine with logical AND. Values inside one slice are
// alternatives (OR), matching the multi-select dashboard controls.
type Filter struct {
	Statuses   []Status
	Severities []Severity
	Types      []Type
	Area       string
	Search     string
}

func (f Filter) Match(inc *Incident) bool {
	if inc == nil {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, inc.Status) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, inc.Severity) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, inc.Type) {
		return false
	}
	if f.Area != "" && !strings.EqualFold(strings.TrimSpace(f.Area), inc.Location.Area) {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(strings.TrimSpace(f.Search))
		if !strings.Contains(strings.ToLower(inc.Title), needle) &&
			!strings.Contains(strings.ToLower(inc.Description), needle) &&
			!strings.Contains(strings.ToLower(inc.RegNo), needle) {
			return false
		}
	}
	return true
}

// Apply returns the matching subset in input order, never mutating input.
func (f Filter) Apply(list []*Incident) []*Incident {
	out := make([]*Incident, 0, len(list))
	for _, inc := range list {
		if f.Match(inc) {
			out = append(out, inc)
		}
	}
	return out
}

func containsStatus(set []Status, s Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsSeverity(set []Severity, s Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsType(set []Type, t Type) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

// DashboardStats are derived counts over the live incident set. They are
// recomputed on every read and never stored, so they cannot drift from
// the records themselves.
type DashboardStats struct {
	TotalActive        int `json:"total_active"`
	Unverified         int `json:"unverified"`
	VerifiedInProgress int `json:"verified_in_progress"`
	ResolvedToday      int `json:"resolved_today"`
	Critical           int `json:"critical"`
	Total              int `json:"total"`
}

func ComputeStats(list []*Incident, now time.Time) DashboardStats {
	var stats DashboardStats
	day := now.UTC().Truncate(24 * time.Hour)
	for _, inc := range list {
		if inc == nil {
			continue
		}
		stats.Total++
		if !inc.Status.Terminal() {
			stats.TotalActive++
			if inc.Severity == SeverityCritical {
				stats.Critical++
			}
		}
		switch inc.Status {
		case StatusUnverified:
			stats.Unverified++
		case StatusVerified, StatusAssigned, StatusInProgress:
			stats.VerifiedInProgress++
		case StatusResolved:
			if inc.ResolvedAt != nil && !inc.ResolvedAt.UTC().Before(day) {
				stats.ResolvedToday++
			}
		}
	}
	return stats
}
