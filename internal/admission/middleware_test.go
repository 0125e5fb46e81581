package admission

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/counter"
	"github.com/docquery/gatekeeper/internal/monitor"
	"github.com/docquery/gatekeeper/internal/policy"
)

func newTestRouter(t *testing.T, opts Options) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.Store == nil {
		opts.Store = counter.NewMemoryStore(nil)
	}
	if opts.Bypass == nil {
		opts.Bypass = policy.NewBypass(nil, nil)
	}
	r := gin.New()
	r.Use(New(opts).Handler())
	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	return r
}

func doRequest(r *gin.Engine, path, remoteAddr, userAgent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = remoteAddr
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tableWith(def, global policy.RateRule, routes ...policy.RouteRule) *policy.Table {
	return policy.NewTable(def, global, routes)
}

func TestSingleRequestRuleThenRejection(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
	)
	r := newTestRouter(t, Options{Table: table, EmitHeaders: true})

	first := doRequest(r, "/api/query", "10.1.1.1:1000", "")
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", first.Code)
	}
	if got := first.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}
	if first.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1, got %q", first.Header().Get("X-RateLimit-Limit"))
	}

	second := doRequest(r, "/api/query", "10.1.1.1:1000", "")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request 429, got %d", second.Code)
	}
	retryAfter, errParse := strconv.Atoi(second.Header().Get("Retry-After"))
	if errParse != nil || retryAfter <= 0 {
		t.Fatalf("expected positive Retry-After, got %q", second.Header().Get("Retry-After"))
	}

	var body struct {
		Error      string `json:"error"`
		RetryAfter int64  `json:"retry_after"`
		Limit      uint   `json:"limit"`
		Remaining  int64  `json:"remaining"`
		Reset      int64  `json:"reset"`
	}
	if errDecode := json.Unmarshal(second.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("expected JSON rejection body, got %v", errDecode)
	}
	if body.Error != "rate_limited" || body.RetryAfter <= 0 || body.Limit != 1 || body.Remaining != 0 || body.Reset == 0 {
		t.Fatalf("unexpected rejection body: %+v", body)
	}
}

func TestClientsDoNotInterfere(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
	)
	r := newTestRouter(t, Options{Table: table})

	if w := doRequest(r, "/doc", "10.0.0.1:1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected client A accepted, got %d", w.Code)
	}
	if w := doRequest(r, "/doc", "10.0.0.2:1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected client B accepted, got %d", w.Code)
	}
	if w := doRequest(r, "/doc", "10.0.0.1:1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected client A second request rejected, got %d", w.Code)
	}
}

func TestRouteRuleBeatsDefault(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
		policy.RouteRule{Pattern: "/api/query", Rule: policy.RateRule{Requests: 3, Window: time.Minute}},
	)
	r := newTestRouter(t, Options{Table: table})

	for i := 0; i < 3; i++ {
		if w := doRequest(r, "/api/query", "10.2.0.1:1", ""); w.Code != http.StatusOK {
			t.Fatalf("expected matched-route request %d accepted, got %d", i+1, w.Code)
		}
	}
	if w := doRequest(r, "/api/query", "10.2.0.1:1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 4th matched-route request rejected, got %d", w.Code)
	}

	// Unmatched routes fall back to the stricter default.
	if w := doRequest(r, "/other", "10.2.0.2:1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected default-rule request accepted, got %d", w.Code)
	}
	if w := doRequest(r, "/other", "10.2.0.2:1", ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected default-rule second request rejected, got %d", w.Code)
	}
}

func TestGlobalTierEvaluatedIndependently(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 100, Window: time.Minute},
		policy.RateRule{Requests: 2, Window: time.Minute},
	)
	collector := monitor.NewCollector(monitor.Options{})
	r := newTestRouter(t, Options{Table: table, Collector: collector})

	// Distinct routes keep each per-route counter at 1; the global tier
	// still rejects the third request.
	doRequest(r, "/a", "10.3.0.1:1", "")
	doRequest(r, "/b", "10.3.0.1:1", "")
	third := doRequest(r, "/c", "10.3.0.1:1", "")
	if third.Code != http.StatusTooManyRequests {
		t.Fatalf("expected global tier rejection, got %d", third.Code)
	}

	var body struct {
		Limit uint `json:"limit"`
	}
	if errDecode := json.Unmarshal(third.Body.Bytes(), &body); errDecode != nil {
		t.Fatalf("decode body: %v", errDecode)
	}
	if body.Limit != 2 {
		t.Fatalf("expected global limit 2 in body, got %d", body.Limit)
	}
}

func TestBypassNeverRejected(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 1, Window: time.Minute},
	)
	collector := monitor.NewCollector(monitor.Options{})
	r := newTestRouter(t, Options{
		Table:     table,
		Bypass:    policy.NewBypass([]string{"10.4.0.1"}, []string{"trusted-bot"}),
		Collector: collector,
	})

	for i := 0; i < 20; i++ {
		if w := doRequest(r, "/doc", "10.4.0.1:1", ""); w.Code != http.StatusOK {
			t.Fatalf("expected bypassed client accepted on request %d, got %d", i+1, w.Code)
		}
	}
	for i := 0; i < 20; i++ {
		if w := doRequest(r, "/doc", "10.4.0.9:1", "my-Trusted-Bot/1.0"); w.Code != http.StatusOK {
			t.Fatalf("expected bypassed agent accepted on request %d, got %d", i+1, w.Code)
		}
	}

	accepted, rejected, _, bypassed := collector.Totals()
	if rejected != 0 {
		t.Fatalf("expected no rejections, got %d", rejected)
	}
	if accepted != 40 || bypassed != 40 {
		t.Fatalf("expected 40 accepted bypass events, got accepted=%d bypassed=%d", accepted, bypassed)
	}
}

// brokenStore fails every increment.
type brokenStore struct{}

func (brokenStore) Increment(context.Context, string, time.Duration) (counter.Result, error) {
	return counter.Result{}, errors.New("store down")
}

func (brokenStore) Close() error { return nil }

func TestStoreErrorFailsOpen(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 1, Window: time.Minute},
	)
	collector := monitor.NewCollector(monitor.Options{})
	r := newTestRouter(t, Options{Table: table, Store: brokenStore{}, Collector: collector})

	for i := 0; i < 5; i++ {
		if w := doRequest(r, "/doc", "10.5.0.1:1", ""); w.Code != http.StatusOK {
			t.Fatalf("expected fail-open 200 on request %d, got %d", i+1, w.Code)
		}
	}

	_, _, errored, _ := collector.Totals()
	if errored != 5 {
		t.Fatalf("expected 5 error-passed events, got %d", errored)
	}
}

func TestOneEventPerRequest(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 2, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
	)
	collector := monitor.NewCollector(monitor.Options{})
	r := newTestRouter(t, Options{Table: table, Collector: collector})

	for i := 0; i < 6; i++ {
		doRequest(r, "/doc", "10.6.0.1:1", "")
	}

	accepted, rejected, errored, _ := collector.Totals()
	if accepted+rejected+errored != 6 {
		t.Fatalf("expected 6 events total, got accepted=%d rejected=%d errored=%d", accepted, rejected, errored)
	}
	if rejected != 4 {
		t.Fatalf("expected 4 rejected, got %d", rejected)
	}
}

func TestForwardedForIdentity(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 1, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
	)
	r := newTestRouter(t, Options{Table: table, TrustForwardedFor: true})

	req := httptest.NewRequest(http.MethodGet, "/doc", nil)
	req.RemoteAddr = "192.168.0.1:1000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 192.168.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected first forwarded request accepted, got %d", w.Code)
	}

	// Same first hop through a different proxy counts as the same client.
	req2 := httptest.NewRequest(http.MethodGet, "/doc", nil)
	req2.RemoteAddr = "192.168.0.2:1000"
	req2.Header.Set("X-Forwarded-For", "203.0.113.7")
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected same forwarded client rejected, got %d", w2.Code)
	}
}

func TestHeadersSuppressedWhenDisabled(t *testing.T) {
	table := tableWith(
		policy.RateRule{Requests: 5, Window: time.Minute},
		policy.RateRule{Requests: 100, Window: time.Minute},
	)
	r := newTestRouter(t, Options{Table: table, EmitHeaders: false})

	w := doRequest(r, "/doc", "10.7.0.1:1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("expected no quota headers, got %q", w.Header().Get("X-RateLimit-Limit"))
	}
}
