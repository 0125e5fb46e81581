package policy

import (
	"strings"
	"sync"
	"sync/atomic"
)

// memoCap bounds the lookup cache. Both memo inputs arrive from the
// request, so an attacker rotating User-Agent strings must not grow the
// map without bound; past the cap lookups fall back to the linear scan.
const memoCap = 4096

// Bypass decides whether a request is exempt from admission control.
// Allowlists are fixed after construction; Exempt is safe for concurrent use.
type Bypass struct {
	clients  map[string]struct{}
	agents   []string
	allowAll bool

	memo     sync.Map
	memoSize atomic.Int64
}

// NewBypass constructs a Bypass from trusted client IDs and user-agent
// substrings. Agent tokens are matched case-insensitively.
func NewBypass(clients []string, agents []string) *Bypass {
	b := &Bypass{clients: make(map[string]struct{}, len(clients))}
	for _, c := range clients {
		c = strings.TrimSpace(c)
		if c != "" {
			b.clients[c] = struct{}{}
		}
	}
	for _, a := range agents {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			b.agents = append(b.agents, a)
		}
	}
	return b
}

// NewAllowAllBypass constructs a Bypass that exempts every request. Used by
// the full-disable override.
func NewAllowAllBypass() *Bypass {
	return &Bypass{allowAll: true}
}

// Exempt reports whether the client or agent is allowlisted.
func (b *Bypass) Exempt(clientID, userAgent string) bool {
	if b == nil {
		return false
	}
	if b.allowAll {
		return true
	}
	if len(b.clients) == 0 && len(b.agents) == 0 {
		return false
	}

	memoKey := clientID + "\x00" + userAgent
	if v, ok := b.memo.Load(memoKey); ok {
		return v.(bool)
	}

	exempt := false
	if _, ok := b.clients[clientID]; ok {
		exempt = true
	} else if userAgent != "" {
		ua := strings.ToLower(userAgent)
		for _, token := range b.agents {
			if strings.Contains(ua, token) {
				exempt = true
				break
			}
		}
	}
	if b.memoSize.Load() < memoCap {
		if _, loaded := b.memo.LoadOrStore(memoKey, exempt); !loaded {
			b.memoSize.Add(1)
		}
	}
	return exempt
}

// AllowAll reports whether every request is exempt.
func (b *Bypass) AllowAll() bool { return b != nil && b.allowAll }

// ClientAllowlist returns the trusted client IDs.
func (b *Bypass) ClientAllowlist() []string {
	out := make([]string, 0, len(b.clients))
	for c := range b.clients {
		out = append(out, c)
	}
	return out
}

// AgentAllowlist returns the trusted agent substrings.
func (b *Bypass) AgentAllowlist() []string {
	out := make([]string, len(b.agents))
	copy(out, b.agents)
	return out
}
