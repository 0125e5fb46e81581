// Package monitor keeps rolling admission statistics: a bounded ring of
// request outcomes, running totals, throttled abuse alerts, and derived
// suspicion scores. It feeds the operator surface, never admission
// decisions.
package monitor

import "time"

// State is the terminal admission state of one request.
type State int

const (
	StateAccepted State = iota
	StateRejected
	StateErrorPassed
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateRejected:
		return "rejected"
	case StateErrorPassed:
		return "error_passed"
	default:
		return "accepted"
	}
}

// Limit tier names recorded on events.
const (
	TierGlobal = "global"
	TierRoute  = "route"
	TierBypass = "bypass"
)

// Event is one immutable request outcome.
type Event struct {
	Timestamp  time.Time     `json:"timestamp"`
	ClientID   string        `json:"client_id"`
	Route      string        `json:"route"`
	UserAgent  string        `json:"user_agent,omitempty"`
	StatusCode int           `json:"status_code"`
	Latency    time.Duration `json:"latency"`
	State      State         `json:"-"`
	StateName  string        `json:"state"`
	LimitType  string        `json:"limit_type,omitempty"` // Tier that decided the request, if any.
	LimitValue uint          `json:"limit_value,omitempty"`
	Remaining  int64         `json:"remaining"`
}

// Alert reports a client or route whose rejection ratio crossed the
// threshold inside the trailing alert window.
type Alert struct {
	Kind     string    `json:"kind"` // "client" or "route".
	Key      string    `json:"key"`
	Ratio    float64   `json:"ratio"`
	Rejected int       `json:"rejected"`
	Total    int       `json:"total"`
	At       time.Time `json:"at"`
}
