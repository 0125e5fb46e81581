// Package counter implements fixed-window request counters keyed by
// scope and client, with an in-process store and a Redis-backed store
// that degrades to the in-process one per call.
package counter

import (
	"context"
	"time"
)

// Result describes one counter increment.
type Result struct {
	Count int64         // Requests observed in the current window, this call included.
	TTL   time.Duration // Time remaining until the window resets.
}

// Store increments fixed-window counters. Increment is atomic per key:
// the first call in a window returns Count=1 and TTL=window; later calls
// in the same window increment and return the remaining TTL.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Result, error)
	Close() error
}

// Scope prefixes distinguish the global tier from per-route tiers in the
// shared key space.
const (
	ScopeGlobal = "global"
	ScopeRoute  = "route"
)

// GlobalKey builds the counter key for the global per-client tier.
func GlobalKey(clientID string) string {
	return ScopeGlobal + ":" + clientID
}

// RouteKey builds the counter key for a per-route tier.
func RouteKey(clientID, routePattern string) string {
	return ScopeRoute + ":" + clientID + ":" + routePattern
}
