package monitor

import (
	"sort"
	"time"
)

// ClientStats is the per-client drill-down over a trailing window.
type ClientStats struct {
	ClientID      string   `json:"client_id"`
	Requests      int      `json:"requests"`
	Rejected      int      `json:"rejected"`
	RejectedRatio float64  `json:"rejected_ratio"`
	RatePerMinute float64  `json:"rate_per_minute"`
	UserAgents    []string `json:"user_agents"`
	Routes        []string `json:"routes"`
	Score         int      `json:"score"`
}

// ClientStats aggregates one client over the trailing window and attaches
// its suspicion score.
func (c *Collector) ClientStats(clientID string, windowMinutes int) ClientStats {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	window := time.Duration(windowMinutes) * time.Minute
	cutoff := c.nowFn().Add(-window)

	stats := ClientStats{ClientID: clientID, UserAgents: []string{}, Routes: []string{}}
	agents := make(map[string]struct{})
	routes := make(map[string]struct{})

	c.mu.Lock()
	c.scan(cutoff, func(ev *Event) {
		if ev.ClientID != clientID {
			return
		}
		stats.Requests++
		if ev.State == StateRejected {
			stats.Rejected++
		}
		if ev.UserAgent != "" {
			agents[ev.UserAgent] = struct{}{}
		}
		routes[ev.Route] = struct{}{}
	})
	c.mu.Unlock()

	for ua := range agents {
		stats.UserAgents = append(stats.UserAgents, ua)
	}
	for r := range routes {
		stats.Routes = append(stats.Routes, r)
	}
	sort.Strings(stats.UserAgents)
	sort.Strings(stats.Routes)

	if stats.Requests > 0 {
		stats.RejectedRatio = float64(stats.Rejected) / float64(stats.Requests)
	}
	stats.RatePerMinute = float64(stats.Requests) / window.Minutes()
	stats.Score = scoreClient(stats, len(agents), len(routes))
	return stats
}

// scoreClient applies the abuse rubric: heavy rejection, high rate, a
// single user agent, and broad route spread each add to the score.
func scoreClient(stats ClientStats, agentCount, routeCount int) int {
	score := 0
	if stats.RejectedRatio > suspicionRejectRatio {
		score += suspicionScoreRatio
	}
	if stats.RatePerMinute > suspicionRatePerMin {
		score += suspicionScoreRate
	}
	if agentCount == 1 {
		score += suspicionScoreOneUA
	}
	if routeCount > suspicionRouteSpread {
		score += suspicionScoreRoutes
	}
	return score
}

// SuspicionScore returns the score for one client, or 0 when the client
// has fewer than minRequests events in the window.
func (c *Collector) SuspicionScore(clientID string, windowMinutes, minRequests int) int {
	stats := c.ClientStats(clientID, windowMinutes)
	if stats.Requests < minRequests {
		return 0
	}
	return stats.Score
}

// Suspicious lists clients with at least minRequests events in the window
// whose score meets the reporting threshold, sorted by score descending.
func (c *Collector) Suspicious(windowMinutes, minRequests int) []ClientStats {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	if minRequests <= 0 {
		minRequests = 20
	}
	cutoff := c.nowFn().Add(-time.Duration(windowMinutes) * time.Minute)

	seen := make(map[string]struct{})
	c.mu.Lock()
	c.scan(cutoff, func(ev *Event) {
		seen[ev.ClientID] = struct{}{}
	})
	c.mu.Unlock()

	out := []ClientStats{}
	for clientID := range seen {
		stats := c.ClientStats(clientID, windowMinutes)
		if stats.Requests < minRequests || stats.Score < suspicionMinScore {
			continue
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out
}

// RouteStats is the per-route drill-down over a trailing window.
type RouteStats struct {
	Route    string `json:"route"`
	Requests int    `json:"requests"`
	Rejected int    `json:"rejected"`
}

// RouteBreakdown aggregates events per route over the trailing window,
// busiest first.
func (c *Collector) RouteBreakdown(windowMinutes int) []RouteStats {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	cutoff := c.nowFn().Add(-time.Duration(windowMinutes) * time.Minute)

	byRoute := make(map[string]*RouteStats)
	c.mu.Lock()
	c.scan(cutoff, func(ev *Event) {
		rs := byRoute[ev.Route]
		if rs == nil {
			rs = &RouteStats{Route: ev.Route}
			byRoute[ev.Route] = rs
		}
		rs.Requests++
		if ev.State == StateRejected {
			rs.Rejected++
		}
	})
	c.mu.Unlock()

	out := make([]RouteStats, 0, len(byRoute))
	for _, rs := range byRoute {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Route < out[j].Route
	})
	return out
}

// Health summarizes limiter health from recent error and reject ratios.
type Health struct {
	Status      string  `json:"status"` // "ok" or "degraded".
	Total       int     `json:"total"`
	ErrorRatio  float64 `json:"error_ratio"`
	RejectRatio float64 `json:"reject_ratio"`
	StoreErrors int64   `json:"store_errors"`
}

// Health derives the subsystem health from the trailing health window.
func (c *Collector) Health() Health {
	cutoff := c.nowFn().Add(-healthWindow)

	h := Health{Status: "ok"}
	errored, rejected := 0, 0
	c.mu.Lock()
	c.scan(cutoff, func(ev *Event) {
		h.Total++
		switch ev.State {
		case StateErrorPassed:
			errored++
		case StateRejected:
			rejected++
		}
	})
	h.StoreErrors = c.storeErrors
	c.mu.Unlock()

	if h.Total > 0 {
		h.ErrorRatio = float64(errored) / float64(h.Total)
		h.RejectRatio = float64(rejected) / float64(h.Total)
	}
	if h.ErrorRatio > healthErrorDegradeAt || h.RejectRatio > healthRejectDegradeAt {
		h.Status = "degraded"
	}
	return h
}
