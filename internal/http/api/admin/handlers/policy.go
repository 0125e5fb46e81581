package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/config"
	"github.com/docquery/gatekeeper/internal/export"
	"github.com/docquery/gatekeeper/internal/policy"
)

// PolicyHandler exposes the active policy table.
type PolicyHandler struct {
	rt       *config.Runtime
	archiver *export.Archiver
}

// NewPolicyHandler constructs a PolicyHandler. archiver may be nil when no
// archive DSN is configured.
func NewPolicyHandler(rt *config.Runtime, archiver *export.Archiver) *PolicyHandler {
	return &PolicyHandler{rt: rt, archiver: archiver}
}

// ruleView is the JSON shape of one rate rule.
type ruleView struct {
	Requests      uint `json:"requests"`
	WindowSeconds int  `json:"window_seconds"`
	Burst         uint `json:"burst,omitempty"`
}

// routeRuleView binds a pattern to its rule in table order.
type routeRuleView struct {
	Pattern string   `json:"pattern"`
	Rule    ruleView `json:"rule"`
}

func toRuleView(r policy.RateRule) ruleView {
	return ruleView{Requests: r.Requests, WindowSeconds: r.WindowSeconds(), Burst: r.Burst}
}

// Get returns the resolved policy table, bypass sets, and store selection.
func (h *PolicyHandler) Get(c *gin.Context) {
	routes := []routeRuleView{}
	for _, rr := range h.rt.Table.Routes() {
		routes = append(routes, routeRuleView{Pattern: rr.Pattern, Rule: toRuleView(rr.Rule)})
	}

	storeMode := "memory"
	if h.rt.Redis.Enabled {
		storeMode = "redis+memory-fallback"
	}
	archive := "disabled"
	if h.archiver != nil {
		archive = h.archiver.Dialect()
	}

	c.JSON(http.StatusOK, gin.H{
		"environment":       h.rt.Environment,
		"disabled":          h.rt.Disabled,
		"default_rule":      toRuleView(h.rt.Table.Default),
		"global_per_client": toRuleView(h.rt.Table.GlobalPerClient),
		"per_route":         routes,
		"bypass": gin.H{
			"allow_all": h.rt.Bypass.AllowAll(),
			"clients":   h.rt.Bypass.ClientAllowlist(),
			"agents":    h.rt.Bypass.AgentAllowlist(),
		},
		"store":   storeMode,
		"archive": archive,
	})
}
