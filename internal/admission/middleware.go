// Package admission is the request-boundary rate limiter: it derives the
// client identity, applies the global and per-route tiers against the
// counter store, and short-circuits over-limit requests with 429.
package admission

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/docquery/gatekeeper/internal/counter"
	"github.com/docquery/gatekeeper/internal/monitor"
	"github.com/docquery/gatekeeper/internal/policy"
)

// Options wires a Middleware.
type Options struct {
	Store             counter.Store
	Table             *policy.Table
	Bypass            *policy.Bypass
	Collector         *monitor.Collector
	TrustForwardedFor bool // Take the first X-Forwarded-For hop as the client.
	EmitHeaders       bool // Attach X-RateLimit-* headers to responses.
	NowFn             func() time.Time
}

// Middleware enforces the admission policy on each request.
type Middleware struct {
	opts  Options
	nowFn func() time.Time
}

// New constructs a Middleware.
func New(opts Options) *Middleware {
	nowFn := opts.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Middleware{opts: opts, nowFn: nowFn}
}

// rejectionBody is the 429 response payload.
type rejectionBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
	Limit      uint   `json:"limit"`
	Remaining  int64  `json:"remaining"`
	Reset      int64  `json:"reset"`
}

// Handler returns the gin handler enforcing admission control.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := m.nowFn()
		clientID := m.clientIdentity(c.Request)
		route := c.Request.URL.Path
		userAgent := c.Request.UserAgent()

		if m.opts.Bypass.Exempt(clientID, userAgent) {
			c.Next()
			m.record(monitor.Event{
				Timestamp:  start,
				ClientID:   clientID,
				Route:      route,
				UserAgent:  userAgent,
				StatusCode: c.Writer.Status(),
				Latency:    m.nowFn().Sub(start),
				State:      monitor.StateAccepted,
				LimitType:  monitor.TierBypass,
			})
			return
		}

		errored := false

		global := m.opts.Table.GlobalPerClient
		if global.Requests > 0 {
			res, errIncr := m.opts.Store.Increment(c.Request.Context(), counter.GlobalKey(clientID), global.Window)
			switch {
			case errIncr != nil:
				// Fail open: a storage fault must not become an outage.
				errored = true
				log.WithError(errIncr).WithField("client", clientID).
					Warn("admission: global tier unavailable, passing request")
				if m.opts.Collector != nil {
					m.opts.Collector.RecordStoreError()
				}
			case res.Count > int64(global.Limit()):
				m.reject(c, start, clientID, route, userAgent, monitor.TierGlobal, global, res)
				return
			}
		}

		rule, pattern := m.opts.Table.Match(route)
		var routeRes counter.Result
		haveRouteRes := false
		if rule.Requests > 0 {
			res, errIncr := m.opts.Store.Increment(c.Request.Context(), counter.RouteKey(clientID, pattern), rule.Window)
			switch {
			case errIncr != nil:
				errored = true
				log.WithError(errIncr).WithFields(log.Fields{"client": clientID, "route": pattern}).
					Warn("admission: route tier unavailable, passing request")
				if m.opts.Collector != nil {
					m.opts.Collector.RecordStoreError()
				}
			case res.Count > int64(rule.Limit()):
				m.reject(c, start, clientID, route, userAgent, monitor.TierRoute, rule, res)
				return
			default:
				routeRes = res
				haveRouteRes = true
			}
		}

		if m.opts.EmitHeaders && haveRouteRes {
			m.setQuotaHeaders(c, rule, routeRes)
		}

		c.Next()

		state := monitor.StateAccepted
		if errored {
			state = monitor.StateErrorPassed
		}
		remaining := int64(0)
		if haveRouteRes {
			remaining = remainingOf(rule, routeRes)
		}
		m.record(monitor.Event{
			Timestamp:  start,
			ClientID:   clientID,
			Route:      route,
			UserAgent:  userAgent,
			StatusCode: c.Writer.Status(),
			Latency:    m.nowFn().Sub(start),
			State:      state,
			Remaining:  remaining,
		})
	}
}

// reject short-circuits the request with 429, quota headers, and the
// structured retry body.
func (m *Middleware) reject(c *gin.Context, start time.Time, clientID, route, userAgent, tier string, rule policy.RateRule, res counter.Result) {
	retryAfter := int64(res.TTL / time.Second)
	if retryAfter < 1 {
		retryAfter = 1
	}
	reset := m.nowFn().Add(res.TTL).Unix()

	if m.opts.EmitHeaders {
		m.setQuotaHeaders(c, rule, res)
	}
	c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, rejectionBody{
		Error:      "rate_limited",
		Message:    "too many requests, retry later",
		RetryAfter: retryAfter,
		Limit:      rule.Limit(),
		Remaining:  0,
		Reset:      reset,
	})

	m.record(monitor.Event{
		Timestamp:  start,
		ClientID:   clientID,
		Route:      route,
		UserAgent:  userAgent,
		StatusCode: http.StatusTooManyRequests,
		Latency:    m.nowFn().Sub(start),
		State:      monitor.StateRejected,
		LimitType:  tier,
		LimitValue: rule.Limit(),
	})
}

func (m *Middleware) setQuotaHeaders(c *gin.Context, rule policy.RateRule, res counter.Result) {
	c.Header("X-RateLimit-Limit", strconv.FormatUint(uint64(rule.Limit()), 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(remainingOf(rule, res), 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(m.nowFn().Add(res.TTL).Unix(), 10))
}

// record emits exactly one monitoring event for the request. Recording
// failures never propagate to the request path.
func (m *Middleware) record(ev monitor.Event) {
	if m.opts.Collector == nil {
		return
	}
	m.opts.Collector.RecordEvent(ev)
}

// clientIdentity derives the client key: the first hop of a trusted
// X-Forwarded-For header, else the direct peer address.
func (m *Middleware) clientIdentity(r *http.Request) string {
	if m.opts.TrustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, errSplit := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if errSplit == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func remainingOf(rule policy.RateRule, res counter.Result) int64 {
	remaining := int64(rule.Limit()) - res.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}
