package monitor

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Tunables for alerting and aggregation. Config may override the alert
// knobs; the rest are fixed heuristics.
const (
	defaultCapacity = 10000

	alertWindow    = 5 * time.Minute
	alertMinEvents = 10

	topN = 10

	suspicionRejectRatio  = 0.5
	suspicionRatePerMin   = 100.0
	suspicionRouteSpread  = 10
	suspicionMinScore     = 3
	suspicionScoreRatio   = 3
	suspicionScoreRate    = 2
	suspicionScoreOneUA   = 1
	suspicionScoreRoutes  = 2
	maxRetainedAlerts     = 100
	healthWindow          = 5 * time.Minute
	healthErrorDegradeAt  = 0.05
	healthRejectDegradeAt = 0.5
)

// Collector ingests request outcomes into a bounded ring buffer and keeps
// O(1) running totals. A single mutex guards all state; writers are the
// request path (RecordEvent) and the retention sweep.
type Collector struct {
	mu       sync.Mutex
	ring     []Event
	head     int // Index of the oldest entry.
	size     int
	capacity int

	accepted int64
	rejected int64
	errored  int64
	bypassed int64

	storeErrors int64 // Counter-store degradations observed via fail-open.

	alertThreshold float64
	alertCooldown  time.Duration
	lastAlert      map[string]time.Time
	alerts         []Alert

	baselineRPS float64

	prom  *Prom
	nowFn func() time.Time
}

// Options tune a Collector. Zero values select defaults.
type Options struct {
	Capacity       int
	AlertThreshold float64       // Rejection ratio that raises an alert.
	AlertCooldown  time.Duration // Minimum spacing between alerts per key.
	BaselineRPS    float64       // Assumed legitimate request rate, see Metrics.
	Prom           *Prom
	NowFn          func() time.Time
}

// NewCollector constructs a Collector.
func NewCollector(opts Options) *Collector {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.AlertThreshold <= 0 || opts.AlertThreshold > 1 {
		opts.AlertThreshold = 0.8
	}
	if opts.AlertCooldown <= 0 {
		opts.AlertCooldown = 10 * time.Minute
	}
	if opts.BaselineRPS <= 0 {
		opts.BaselineRPS = 1
	}
	if opts.NowFn == nil {
		opts.NowFn = time.Now
	}
	return &Collector{
		ring:           make([]Event, opts.Capacity),
		capacity:       opts.Capacity,
		alertThreshold: opts.AlertThreshold,
		alertCooldown:  opts.AlertCooldown,
		baselineRPS:    opts.BaselineRPS,
		lastAlert:      make(map[string]time.Time),
		prom:           opts.Prom,
		nowFn:          opts.NowFn,
	}
}

// RecordEvent appends one outcome, updates totals, and runs the alert
// check for the client and the route independently when rejected.
// It never returns an error: monitoring failures must not affect admission.
func (c *Collector) RecordEvent(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.nowFn()
	}
	ev.StateName = ev.State.String()

	c.mu.Lock()
	c.append(ev)
	switch ev.State {
	case StateRejected:
		c.rejected++
	case StateErrorPassed:
		c.errored++
	default:
		c.accepted++
		if ev.LimitType == TierBypass {
			c.bypassed++
		}
	}

	var raised []Alert
	if ev.State == StateRejected {
		if a, ok := c.checkAlert("client", ev.ClientID, ev.Timestamp); ok {
			raised = append(raised, a)
		}
		if a, ok := c.checkAlert("route", ev.Route, ev.Timestamp); ok {
			raised = append(raised, a)
		}
	}
	c.mu.Unlock()

	if c.prom != nil {
		c.prom.Observe(ev, raised)
	}
	for _, a := range raised {
		log.WithFields(log.Fields{
			"kind":     a.Kind,
			"key":      a.Key,
			"ratio":    a.Ratio,
			"rejected": a.Rejected,
			"total":    a.Total,
		}).Warn("monitor: rejection ratio alert")
	}
}

// RecordStoreError counts one counter-store degradation for the health view.
func (c *Collector) RecordStoreError() {
	c.mu.Lock()
	c.storeErrors++
	c.mu.Unlock()
	if c.prom != nil {
		c.prom.StoreErrors.Inc()
	}
}

// append adds ev, evicting the oldest entry when full.
func (c *Collector) append(ev Event) {
	if c.size < c.capacity {
		c.ring[(c.head+c.size)%c.capacity] = ev
		c.size++
		return
	}
	c.ring[c.head] = ev
	c.head = (c.head + 1) % c.capacity
}

// checkAlert evaluates the trailing alert window for one key. Caller holds
// the lock.
func (c *Collector) checkAlert(kind, key string, now time.Time) (Alert, bool) {
	if key == "" {
		return Alert{}, false
	}
	mapKey := kind + ":" + key
	if last, ok := c.lastAlert[mapKey]; ok && now.Sub(last) < c.alertCooldown {
		return Alert{}, false
	}

	cutoff := now.Add(-alertWindow)
	total, rejectedN := 0, 0
	c.scan(cutoff, func(ev *Event) {
		if (kind == "client" && ev.ClientID == key) || (kind == "route" && ev.Route == key) {
			total++
			if ev.State == StateRejected {
				rejectedN++
			}
		}
	})
	if total < alertMinEvents {
		return Alert{}, false
	}
	ratio := float64(rejectedN) / float64(total)
	if ratio <= c.alertThreshold {
		return Alert{}, false
	}

	c.lastAlert[mapKey] = now
	a := Alert{Kind: kind, Key: key, Ratio: ratio, Rejected: rejectedN, Total: total, At: now}
	c.alerts = append(c.alerts, a)
	if len(c.alerts) > maxRetainedAlerts {
		c.alerts = c.alerts[len(c.alerts)-maxRetainedAlerts:]
	}
	return a, true
}

// scan visits every retained event with timestamp >= cutoff, oldest first.
// Caller holds the lock.
func (c *Collector) scan(cutoff time.Time, fn func(*Event)) {
	for i := 0; i < c.size; i++ {
		ev := &c.ring[(c.head+i)%c.capacity]
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		fn(ev)
	}
}

// Totals returns the lifetime running totals.
func (c *Collector) Totals() (accepted, rejected, errored, bypassed int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.rejected, c.errored, c.bypassed
}

// Alerts returns the retained alerts, newest last.
func (c *Collector) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Events returns up to limit most recent events, newest first.
func (c *Collector) Events(limit int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > c.size {
		limit = c.size
	}
	out := make([]Event, 0, limit)
	for i := c.size - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, c.ring[(c.head+i)%c.capacity])
	}
	return out
}

// EvictOlderThan drops retained events older than horizon and reports how
// many were removed. Runs on the retention sweep, independent of the
// overflow eviction.
func (c *Collector) EvictOlderThan(horizon time.Duration) int {
	cutoff := c.nowFn().Add(-horizon)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for c.size > 0 {
		oldest := &c.ring[c.head]
		if !oldest.Timestamp.Before(cutoff) {
			break
		}
		c.ring[c.head] = Event{}
		c.head = (c.head + 1) % c.capacity
		c.size--
		removed++
	}
	return removed
}

// KeyCount pairs an aggregation key with its request count.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Metrics is the aggregate view over a trailing window.
type Metrics struct {
	WindowMinutes int        `json:"window_minutes"`
	Total         int        `json:"total"`
	Accepted      int        `json:"accepted"`
	Rejected      int        `json:"rejected"`
	Errored       int        `json:"errored"`
	Bypassed      int        `json:"bypassed"`
	UniqueClients int        `json:"unique_clients"`
	TopClients    []KeyCount `json:"top_clients"`
	TopRoutes     []KeyCount `json:"top_routes"`
	// Effectiveness estimates how much of the above-baseline excess was
	// rejected: rejected / max(0, total - baselineRPS*window), clamped to
	// [0,1]. The baseline is a rough heuristic, not a calibrated model.
	Effectiveness float64 `json:"effectiveness"`
}

// ComputeMetrics aggregates events over the trailing window. An empty
// window yields zero-valued metrics.
func (c *Collector) ComputeMetrics(windowMinutes int) Metrics {
	if windowMinutes <= 0 {
		windowMinutes = 15
	}
	window := time.Duration(windowMinutes) * time.Minute
	now := c.nowFn()

	m := Metrics{WindowMinutes: windowMinutes, TopClients: []KeyCount{}, TopRoutes: []KeyCount{}}
	clients := make(map[string]int)
	routes := make(map[string]int)

	c.mu.Lock()
	c.scan(now.Add(-window), func(ev *Event) {
		m.Total++
		switch ev.State {
		case StateRejected:
			m.Rejected++
		case StateErrorPassed:
			m.Errored++
		default:
			m.Accepted++
			if ev.LimitType == TierBypass {
				m.Bypassed++
			}
		}
		clients[ev.ClientID]++
		routes[ev.Route]++
	})
	baseline := c.baselineRPS
	c.mu.Unlock()

	m.UniqueClients = len(clients)
	m.TopClients = topCounts(clients, topN)
	m.TopRoutes = topCounts(routes, topN)

	excess := float64(m.Total) - baseline*window.Seconds()
	if excess > 0 {
		eff := float64(m.Rejected) / excess
		if eff > 1 {
			eff = 1
		}
		m.Effectiveness = eff
	}
	return m
}

func topCounts(counts map[string]int, n int) []KeyCount {
	out := make([]KeyCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, KeyCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
