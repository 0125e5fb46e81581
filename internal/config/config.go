// Package config loads the gatekeeper YAML configuration, applies
// environment tiers and operator overrides, and fails fast on anything
// invalid. Components receive typed values from here, never raw maps or
// ambient environment lookups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docquery/gatekeeper/internal/policy"
)

// Environment variable names honored at load time.
const (
	EnvConfigPath  = "CONFIG_PATH"
	EnvEnvironment = "GATEKEEPER_ENV"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvArchiveDSN  = "ARCHIVE_DSN"
	EnvJWTSecret   = "JWT_SECRET"
)

// Environment tiers.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// devMultiplier relaxes every built-in limit in development.
const devMultiplier = 10

// ValidationError reports invalid or missing configuration. It is fatal at
// startup; nothing degrades silently.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// RuleConfig is one rate rule as written in YAML.
type RuleConfig struct {
	Requests      uint `yaml:"requests"`
	WindowSeconds uint `yaml:"window_seconds"`
	Burst         uint `yaml:"burst"`
}

// RouteRuleConfig binds a route pattern to a rule. YAML order decides
// prefix precedence.
type RouteRuleConfig struct {
	Pattern string     `yaml:"pattern"`
	Rule    RuleConfig `yaml:",inline"`
}

// RedisConfig selects the distributed counter store.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AdminConfig protects the operator surface.
type AdminConfig struct {
	PasswordHash string        `yaml:"password_hash"` // bcrypt hash of the operator password.
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTExpiry    time.Duration `yaml:"jwt_expiry"`
}

// MonitorConfig tunes the collector and the sweep tasks.
type MonitorConfig struct {
	Capacity        int           `yaml:"capacity"`
	AlertThreshold  float64       `yaml:"alert_threshold"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown"`
	BaselineRPS     float64       `yaml:"baseline_rps"`
	RetentionHours  int           `yaml:"retention_hours"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	CounterSweepMax int           `yaml:"counter_sweep_max"`
}

// Overrides are operator knobs applied after the environment base.
type Overrides struct {
	Disabled        bool            `yaml:"disabled"` // Full disable: maximal limits, allow-all bypass.
	DefaultRequests uint            `yaml:"default_requests"`
	GlobalRequests  uint            `yaml:"global_requests"`
	RouteRequests   map[string]uint `yaml:"route_requests"`
}

// FileConfig mirrors the YAML layout.
type FileConfig struct {
	Environment       string            `yaml:"environment"`
	Listen            string            `yaml:"listen"`
	TrustForwardedFor bool              `yaml:"trust_forwarded_for"`
	EmitHeaders       *bool             `yaml:"emit_headers"`
	Redis             RedisConfig       `yaml:"redis"`
	ArchiveDSN        string            `yaml:"archive_dsn"`
	Admin             AdminConfig       `yaml:"admin"`
	Monitor           MonitorConfig     `yaml:"monitor"`
	DefaultRule       *RuleConfig       `yaml:"default_rule"`
	GlobalRule        *RuleConfig       `yaml:"global_rule"`
	PerRoute          []RouteRuleConfig `yaml:"per_route"`
	BypassClients     []string          `yaml:"bypass_clients"`
	BypassAgents      []string          `yaml:"bypass_agents"`
	Overrides         Overrides         `yaml:"overrides"`
}

// Runtime is the fully resolved configuration handed to the composition
// root.
type Runtime struct {
	Environment       string
	Listen            string
	TrustForwardedFor bool
	EmitHeaders       bool
	Table             *policy.Table
	Bypass            *policy.Bypass
	Redis             RedisConfig
	ArchiveDSN        string
	Admin             AdminConfig
	Monitor           MonitorConfig
	Disabled          bool
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, errAbs := filepath.Abs(trimmed); errAbs == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML file, applies environment variable overrides, and
// builds the Runtime. Any validation failure is fatal.
func Load(configPath string) (*Runtime, error) {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	var fc FileConfig
	if errUnmarshal := yaml.Unmarshal(data, &fc); errUnmarshal != nil {
		return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
	}
	applyEnv(&fc)
	return Build(fc)
}

// applyEnv lets environment variables override file values.
func applyEnv(fc *FileConfig) {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		fc.Environment = env
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		fc.Redis.Addr = addr
		fc.Redis.Enabled = true
	}
	if dsn := strings.TrimSpace(os.Getenv(EnvArchiveDSN)); dsn != "" {
		fc.ArchiveDSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		fc.Admin.JWTSecret = secret
	}
}

// Build resolves the environment base, applies overrides, validates, and
// returns the Runtime.
func Build(fc FileConfig) (*Runtime, error) {
	env := strings.ToLower(strings.TrimSpace(fc.Environment))
	if env == "" {
		env = EnvDevelopment
	}
	if env != EnvDevelopment && env != EnvProduction {
		return nil, &ValidationError{Field: "environment", Reason: fmt.Sprintf("unknown environment %q", fc.Environment)}
	}

	defRule, globalRule, routes, errBase := baseRules(env, fc)
	if errBase != nil {
		return nil, errBase
	}

	bypassClients, bypassAgents := baseBypass(env, fc)

	// Discrete overrides replace individual counts after the base.
	if fc.Overrides.DefaultRequests > 0 {
		defRule.Requests = fc.Overrides.DefaultRequests
	}
	if fc.Overrides.GlobalRequests > 0 {
		globalRule.Requests = fc.Overrides.GlobalRequests
	}
	for pattern, requests := range fc.Overrides.RouteRequests {
		if requests == 0 {
			return nil, &ValidationError{Field: "overrides.route_requests." + pattern, Reason: "requests must be positive"}
		}
		found := false
		for i := range routes {
			if routes[i].Pattern == pattern {
				routes[i].Rule.Requests = requests
				found = true
			}
		}
		if !found {
			return nil, &ValidationError{Field: "overrides.route_requests." + pattern, Reason: "no per-route rule with this pattern"}
		}
	}

	disabled := fc.Overrides.Disabled
	if disabled {
		// Full disable installs maximal limits and an allow-all bypass so
		// the pipeline stays wired but never rejects.
		maximal := policy.RateRule{Requests: 1 << 30, Window: time.Hour}
		defRule, globalRule = maximal, maximal
		for i := range routes {
			routes[i].Rule = maximal
		}
	}

	if errRules := validateRules(defRule, globalRule, routes); errRules != nil {
		return nil, errRules
	}
	if fc.Redis.Enabled && strings.TrimSpace(fc.Redis.Addr) == "" {
		return nil, &ValidationError{Field: "redis.addr", Reason: "required when redis is enabled"}
	}
	if env == EnvProduction {
		if strings.TrimSpace(fc.Admin.JWTSecret) == "" {
			return nil, &ValidationError{Field: "admin.jwt_secret", Reason: "required in production"}
		}
		if strings.TrimSpace(fc.Admin.PasswordHash) == "" {
			return nil, &ValidationError{Field: "admin.password_hash", Reason: "required in production"}
		}
	}

	admin := fc.Admin
	if admin.JWTExpiry <= 0 {
		admin.JWTExpiry = 12 * time.Hour
	}

	var bypass *policy.Bypass
	if disabled {
		bypass = policy.NewAllowAllBypass()
	} else {
		bypass = policy.NewBypass(bypassClients, bypassAgents)
	}

	listen := strings.TrimSpace(fc.Listen)
	if listen == "" {
		listen = ":8318"
	}
	emitHeaders := true
	if fc.EmitHeaders != nil {
		emitHeaders = *fc.EmitHeaders
	}

	return &Runtime{
		Environment:       env,
		Listen:            listen,
		TrustForwardedFor: fc.TrustForwardedFor,
		EmitHeaders:       emitHeaders,
		Table:             policy.NewTable(defRule, globalRule, routes),
		Bypass:            bypass,
		Redis:             fc.Redis,
		ArchiveDSN:        strings.TrimSpace(fc.ArchiveDSN),
		Admin:             admin,
		Monitor:           fc.Monitor,
		Disabled:          disabled,
	}, nil
}

// baseRules builds the environment-tier policy before overrides.
// Development falls back to permissive built-ins scaled by devMultiplier;
// production mandates explicit rules.
func baseRules(env string, fc FileConfig) (policy.RateRule, policy.RateRule, []policy.RouteRule, error) {
	var def, global policy.RateRule

	switch {
	case fc.DefaultRule != nil:
		def = toRule(*fc.DefaultRule)
	case env == EnvDevelopment:
		def = policy.RateRule{Requests: 100 * devMultiplier, Window: time.Minute}
	default:
		return def, global, nil, &ValidationError{Field: "default_rule", Reason: "required in production"}
	}

	switch {
	case fc.GlobalRule != nil:
		global = toRule(*fc.GlobalRule)
	case env == EnvDevelopment:
		global = policy.RateRule{Requests: 1000 * devMultiplier, Window: time.Minute}
	default:
		return def, global, nil, &ValidationError{Field: "global_rule", Reason: "required in production"}
	}

	routes := make([]policy.RouteRule, 0, len(fc.PerRoute))
	for _, rr := range fc.PerRoute {
		pattern := strings.TrimSpace(rr.Pattern)
		if pattern == "" {
			return def, global, nil, &ValidationError{Field: "per_route.pattern", Reason: "must not be empty"}
		}
		routes = append(routes, policy.RouteRule{Pattern: pattern, Rule: toRule(rr.Rule)})
	}
	return def, global, routes, nil
}

// baseBypass builds the environment-tier bypass lists. Development ships a
// broad local allowlist; production starts empty and takes only explicit
// entries.
func baseBypass(env string, fc FileConfig) ([]string, []string) {
	clients := append([]string{}, fc.BypassClients...)
	agents := append([]string{}, fc.BypassAgents...)
	if env == EnvDevelopment {
		clients = append(clients, "127.0.0.1", "::1")
		agents = append(agents, "healthcheck", "kube-probe")
	}
	return clients, agents
}

func toRule(rc RuleConfig) policy.RateRule {
	return policy.RateRule{
		Requests: rc.Requests,
		Window:   time.Duration(rc.WindowSeconds) * time.Second,
		Burst:    rc.Burst,
	}
}

// validateRules checks every rule is positive.
func validateRules(def, global policy.RateRule, routes []policy.RouteRule) error {
	check := func(field string, r policy.RateRule) error {
		if r.Requests == 0 {
			return &ValidationError{Field: field, Reason: "requests must be positive"}
		}
		if r.Window <= 0 {
			return &ValidationError{Field: field, Reason: "window_seconds must be positive"}
		}
		return nil
	}
	if errDef := check("default_rule", def); errDef != nil {
		return errDef
	}
	if errGlobal := check("global_rule", global); errGlobal != nil {
		return errGlobal
	}
	for _, rr := range routes {
		if errRoute := check("per_route."+rr.Pattern, rr.Rule); errRoute != nil {
			return errRoute
		}
	}
	return nil
}
