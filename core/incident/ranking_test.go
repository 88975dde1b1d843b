package incident

import (
	"testing"
	"time"
)

func mk(id int64, sev Severity, prio int, upvotes int64, created time.Time) *Incident {
	return &Incident{
		ID:        id,
		RegNo:     "INC-2025-000" + string(rune('0'+id)),
		Type:      TypeFire,
		Severity:  sev,
		Status:    StatusUnverified,
		Priority:  prio,
		Upvotes:   upvotes,
		CreatedAt: created,
	}
}

func ids(list []*Incident) []int64 {
	out := make([]int64, len(list))
	for i, inc := range list {
		out[i] = inc.ID
	}
	return out
}

func sameOrder(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRankCriticalFirstStable(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	high := mk(1, SeverityHigh, 50, 0, ts)
	critical := mk(2, SeverityCritical, 50, 0, ts)
	medium := mk(3, SeverityMedium, 50, 0, ts)

	ranked := Rank([]*Incident{high, critical, medium})
	if got := ids(ranked); !sameOrder(got, []int64{2, 1, 3}) {
		t.Fatalf("expected critical first then input order, got %v", got)
	}
}

func TestRankTieBreaks(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	byPriority := Rank([]*Incident{
		mk(1, SeverityHigh, 40, 0, ts),
		mk(2, SeverityHigh, 80, 0, ts),
	})
	if got := ids(byPriority); !sameOrder(got, []int64{2, 1}) {
		t.Fatalf("higher priority should win: %v", got)
	}

	byUpvotes := Rank([]*Incident{
		mk(1, SeverityHigh, 50, 3, ts),
		mk(2, SeverityHigh, 50, 9, ts),
	})
	if got := ids(byUpvotes); !sameOrder(got, []int64{2, 1}) {
		t.Fatalf("more upvotes should win: %v", got)
	}

	byAge := Rank([]*Incident{
		mk(1, SeverityHigh, 50, 3, ts.Add(time.Hour)),
		mk(2, SeverityHigh, 50, 3, ts),
	})
	if got := ids(byAge); !sameOrder(got, []int64{2, 1}) {
		t.Fatalf("older should win the final tie: %v", got)
	}
}

func TestRankIdempotentAndPure(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	input := []*Incident{
		mk(1, SeverityLow, 10, 0, ts),
		mk(2, SeverityCritical, 20, 5, ts),
		mk(3, SeverityHigh, 90, 1, ts),
		mk(4, SeverityCritical, 5, 0, ts),
	}
	inputOrder := ids(input)

	once := Rank(input)
	twice := Rank(once)
	if !sameOrder(ids(once), ids(twice)) {
		t.Fatalf("ranking must be idempotent: %v vs %v", ids(once), ids(twice))
	}
	if !sameOrder(ids(input), inputOrder) {
		t.Fatalf("ranking must not mutate its input: %v", ids(input))
	}
	// Every critical strictly precedes every non-critical.
	seenNonCritical := false
	for _, inc := range once {
		if inc.Severity != SeverityCritical {
			seenNonCritical = true
		} else if seenNonCritical {
			t.Fatalf("critical found after non-critical: %v", ids(once))
		}
	}
}

func TestFilterCombinesWithAnd(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := mk(1, SeverityHigh, 50, 0, ts)
	a.Type = TypeFire
	a.Location.Area = "Vake"
	b := mk(2, SeverityHigh, 50, 0, ts)
	b.Type = TypeCrime
	b.Status = StatusVerified
	b.Location.Area = "Vake"
	c := mk(3, SeverityLow, 50, 0, ts)
	c.Type = TypeFire
	c.Location.Area = "Gldani"
	list := []*Incident{a, b, c}

	got := Filter{Severities: []Severity{SeverityHigh}, Area: "vake"}.Apply(list)
	if len(got) != 2 {
		t.Fatalf("expected both Vake highs, got %v", ids(got))
	}
	got = Filter{Severities: []Severity{SeverityHigh}, Types: []Type{TypeFire}}.Apply(list)
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("AND across fields broken: %v", ids(got))
	}
	got = Filter{Statuses: []Status{StatusVerified, StatusUnverified}}.Apply(list)
	if len(got) != 3 {
		t.Fatalf("OR inside one field broken: %v", ids(got))
	}
	got = Filter{}.Apply(list)
	if len(got) != 3 {
		t.Fatalf("empty filter must match everything: %v", ids(got))
	}
}

func TestFilterSearch(t *testing.T) {
	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := mk(1, SeverityHigh, 50, 0, ts)
	a.Title = "Gas leak near school"
	a.Description = "strong smell reported"
	b := mk(2, SeverityHigh, 50, 0, ts)
	b.Title = "Flooded underpass"
	b.RegNo = "INC-2025-00777"

	got := Filter{Search: "GAS"}.Apply([]*Incident{a, b})
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("title search failed: %v", ids(got))
	}
	got = Filter{Search: "00777"}.Apply([]*Incident{a, b})
	if len(got) != 1 || got[0].ID != 2 {
		t.Fatalf("reg no search failed: %v", ids(got))
	}
	got = Filter{Search: "smell"}.Apply([]*Incident{a, b})
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("description search failed: %v", ids(got))
	}
}

func TestComputeStatsResolvedTodayBoundary(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	today := now.Add(-time.Hour)
	yesterday := now.Add(-30 * time.Hour)

	rToday := mk(1, SeverityLow, 50, 0, yesterday)
	rToday.Status = StatusResolved
	rToday.ResolvedAt = &today
	rYesterday := mk(2, SeverityLow, 50, 0, yesterday)
	rYesterday.Status = StatusResolved
	rYesterday.ResolvedAt = &yesterday

	stats := ComputeStats([]*Incident{rToday, rYesterday}, now)
	if stats.ResolvedToday != 1 {
		t.Fatalf("expected only today's resolution counted, got %d", stats.ResolvedToday)
	}
	if stats.TotalActive != 0 || stats.Total != 2 {
		t.Fatalf("unexpected totals %+v", stats)
	}
}
