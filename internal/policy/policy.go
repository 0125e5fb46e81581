package policy

import (
	"strings"
	"time"
)

// RateRule defines a fixed-window request budget.
type RateRule struct {
	Requests uint          // Allowed requests per window.
	Window   time.Duration // Window length.
	Burst    uint          // Optional extra headroom on top of Requests.
}

// Limit returns the effective per-window request cap including burst.
func (r RateRule) Limit() uint {
	return r.Requests + r.Burst
}

// WindowSeconds returns the window length in whole seconds, minimum 1.
func (r RateRule) WindowSeconds() int {
	secs := int(r.Window / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// RouteRule binds a route pattern to a rule. Order matters: overlapping
// prefixes are resolved by table-construction order.
type RouteRule struct {
	Pattern string
	Rule    RateRule
}

// Table holds the resolved rate policy for one environment.
type Table struct {
	Default         RateRule
	GlobalPerClient RateRule
	perRoute        []RouteRule
	exact           map[string]RateRule
}

// NewTable constructs a Table. The routes slice keeps its order for
// prefix precedence.
func NewTable(def, global RateRule, routes []RouteRule) *Table {
	exact := make(map[string]RateRule, len(routes))
	for _, rr := range routes {
		if _, ok := exact[rr.Pattern]; !ok {
			exact[rr.Pattern] = rr.Rule
		}
	}
	return &Table{
		Default:         def,
		GlobalPerClient: global,
		perRoute:        routes,
		exact:           exact,
	}
}

// DefaultPattern is the pattern reported when no per-route rule matches.
const DefaultPattern = "*"

// Resolve returns the rule for a route: exact pattern match first, then the
// first pattern that prefixes the route, then the default rule.
func (t *Table) Resolve(route string) RateRule {
	rule, _ := t.Match(route)
	return rule
}

// Match resolves like Resolve and also reports the matched pattern, which
// keys the per-route counter.
func (t *Table) Match(route string) (RateRule, string) {
	if rule, ok := t.exact[route]; ok {
		return rule, route
	}
	for _, rr := range t.perRoute {
		if strings.HasPrefix(route, rr.Pattern) {
			return rr.Rule, rr.Pattern
		}
	}
	return t.Default, DefaultPattern
}

// Routes returns the ordered per-route rules.
func (t *Table) Routes() []RouteRule {
	out := make([]RouteRule, len(t.perRoute))
	copy(out, t.perRoute)
	return out
}
