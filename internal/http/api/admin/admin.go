// Package admin registers the operator-facing read surface. None of these
// routes sit on the admission path.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docquery/gatekeeper/internal/config"
	"github.com/docquery/gatekeeper/internal/export"
	handlers "github.com/docquery/gatekeeper/internal/http/api/admin/handlers"
	"github.com/docquery/gatekeeper/internal/monitor"
	"github.com/docquery/gatekeeper/internal/security"
)

// RegisterAdminRoutes wires the admin endpoints onto r. archiver may be nil
// when no archive DSN is configured; export endpoints then answer 503.
func RegisterAdminRoutes(r *gin.Engine, rt *config.Runtime, collector *monitor.Collector, archiver *export.Archiver, retention time.Duration) {
	if r == nil || rt == nil || collector == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(collector)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(rt.Admin)
	adminGroup.POST("/login", authHandler.Login)

	authed := adminGroup.Group("")
	authed.Use(operatorAuthMiddleware(rt.Admin))

	policyHandler := handlers.NewPolicyHandler(rt, archiver)
	authed.GET("/policy", policyHandler.Get)

	metricsHandler := handlers.NewMetricsHandler(collector)
	authed.GET("/metrics", metricsHandler.Aggregate)
	authed.GET("/clients/:id", metricsHandler.Client)
	authed.GET("/routes", metricsHandler.Routes)
	authed.GET("/suspicious", metricsHandler.Suspicious)
	authed.GET("/events", metricsHandler.Events)
	authed.GET("/alerts", metricsHandler.Alerts)

	exportHandler := handlers.NewExportHandler(collector, archiver, retention)
	authed.POST("/export", exportHandler.Export)
	authed.POST("/cleanup", exportHandler.Cleanup)
}

// operatorAuthMiddleware validates operator JWTs.
func operatorAuthMiddleware(admin config.AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}
		if _, errJWT := security.ParseOperatorToken(admin.JWTSecret, token); errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
