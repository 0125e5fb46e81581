package policy

import (
	"testing"
	"time"
)

func ruleN(n uint) RateRule {
	return RateRule{Requests: n, Window: time.Minute}
}

func TestResolveExactBeatsPrefix(t *testing.T) {
	table := NewTable(ruleN(100), ruleN(1000), []RouteRule{
		{Pattern: "/api", Rule: ruleN(10)},
		{Pattern: "/api/query", Rule: ruleN(5)},
	})

	got := table.Resolve("/api/query")
	if got.Requests != 5 {
		t.Fatalf("expected exact match rule 5, got %d", got.Requests)
	}
}

func TestResolvePrefixOrder(t *testing.T) {
	table := NewTable(ruleN(100), ruleN(1000), []RouteRule{
		{Pattern: "/api", Rule: ruleN(10)},
		{Pattern: "/api/docs", Rule: ruleN(5)},
	})

	// Both patterns prefix the route; construction order wins.
	got, pattern := table.Match("/api/docs/upload")
	if got.Requests != 10 {
		t.Fatalf("expected first prefix rule 10, got %d", got.Requests)
	}
	if pattern != "/api" {
		t.Fatalf("expected pattern /api, got %q", pattern)
	}
}

func TestResolveFallsBackToDefault(t *testing.T) {
	table := NewTable(ruleN(100), ruleN(1000), []RouteRule{
		{Pattern: "/api", Rule: ruleN(10)},
	})

	got, pattern := table.Match("/static/logo.png")
	if got.Requests != 100 {
		t.Fatalf("expected default rule 100, got %d", got.Requests)
	}
	if pattern != DefaultPattern {
		t.Fatalf("expected default pattern, got %q", pattern)
	}
}

func TestRuleLimitIncludesBurst(t *testing.T) {
	r := RateRule{Requests: 10, Window: time.Minute, Burst: 3}
	if r.Limit() != 13 {
		t.Fatalf("expected limit 13, got %d", r.Limit())
	}
}

func TestWindowSecondsFloor(t *testing.T) {
	r := RateRule{Requests: 1, Window: 500 * time.Millisecond}
	if r.WindowSeconds() != 1 {
		t.Fatalf("expected minimum 1 second, got %d", r.WindowSeconds())
	}
}
