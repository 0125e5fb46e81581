// Package app is the composition root: it owns the counter store, the
// collector, the sweep tasks, and the HTTP server, and wires them from the
// resolved configuration. No component reaches for ambient globals.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/docquery/gatekeeper/internal/admission"
	"github.com/docquery/gatekeeper/internal/config"
	"github.com/docquery/gatekeeper/internal/counter"
	"github.com/docquery/gatekeeper/internal/db"
	"github.com/docquery/gatekeeper/internal/export"
	adminapi "github.com/docquery/gatekeeper/internal/http/api/admin"
	"github.com/docquery/gatekeeper/internal/monitor"
)

// Defaults for the background sweep tasks.
const (
	defaultSweepInterval   = 30 * time.Second
	defaultCounterSweepMax = 512
	defaultRetentionHours  = 24
	shutdownGrace          = 10 * time.Second
)

// App holds the assembled server and its background tasks.
type App struct {
	rt        *config.Runtime
	store     counter.Store
	memory    *counter.MemoryStore
	collector *monitor.Collector
	archiver  *export.Archiver
	engine    *gin.Engine
	retention time.Duration
	sweepEach time.Duration
	sweepMax  int
}

// New assembles the application around the downstream handler. downstream
// receives every request the admission layer accepts.
func New(rt *config.Runtime, downstream http.Handler) (*App, error) {
	reg := prometheus.NewRegistry()
	prom := monitor.NewProm(reg)

	collector := monitor.NewCollector(monitor.Options{
		Capacity:       rt.Monitor.Capacity,
		AlertThreshold: rt.Monitor.AlertThreshold,
		AlertCooldown:  rt.Monitor.AlertCooldown,
		BaselineRPS:    rt.Monitor.BaselineRPS,
		Prom:           prom,
	})

	memory := counter.NewMemoryStore(nil)
	var store counter.Store = memory
	if rt.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     rt.Redis.Addr,
			Password: rt.Redis.Password,
			DB:       rt.Redis.DB,
		})
		store = counter.NewFallbackStore(
			counter.NewRedisStore(client, rt.Redis.Prefix),
			memory,
			0,
			func(error) { collector.RecordStoreError() },
		)
	}

	var archiver *export.Archiver
	if rt.ArchiveDSN != "" {
		conn, errOpen := db.Open(rt.ArchiveDSN)
		if errOpen != nil {
			return nil, errOpen
		}
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return nil, errMigrate
		}
		archiver = export.NewArchiver(conn)
	}

	retention := time.Duration(rt.Monitor.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = defaultRetentionHours * time.Hour
	}
	sweepEach := rt.Monitor.SweepInterval
	if sweepEach <= 0 {
		sweepEach = defaultSweepInterval
	}
	sweepMax := rt.Monitor.CounterSweepMax
	if sweepMax <= 0 {
		sweepMax = defaultCounterSweepMax
	}

	mw := admission.New(admission.Options{
		Store:             store,
		Table:             rt.Table,
		Bypass:            rt.Bypass,
		Collector:         collector,
		TrustForwardedFor: rt.TrustForwardedFor,
		EmitHeaders:       rt.EmitHeaders,
	})

	if rt.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	// Ops endpoints stay outside admission control.
	skip := map[string]struct{}{"/healthz": {}, "/metrics": {}}
	admit := mw.Handler()
	engine.Use(func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}
		if strings.HasPrefix(path, "/v0/admin/") {
			c.Next()
			return
		}
		admit(c)
	})

	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	adminapi.RegisterAdminRoutes(engine, rt, collector, archiver, retention)
	engine.NoRoute(gin.WrapH(downstream))

	return &App{
		rt:        rt,
		store:     store,
		memory:    memory,
		collector: collector,
		archiver:  archiver,
		engine:    engine,
		retention: retention,
		sweepEach: sweepEach,
		sweepMax:  sweepMax,
	}, nil
}

// Engine exposes the assembled router, mainly for tests.
func (a *App) Engine() *gin.Engine { return a.engine }

// Run serves until ctx is cancelled, then drains connections and stops the
// sweep tasks.
func (a *App) Run(ctx context.Context) error {
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go a.counterSweepLoop(sweepCtx)
	go a.retentionLoop(sweepCtx)

	srv := &http.Server{Addr: a.rt.Listen, Handler: a.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.WithFields(log.Fields{
		"listen":      a.rt.Listen,
		"environment": a.rt.Environment,
	}).Info("gatekeeper listening")

	select {
	case errServe := <-errCh:
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return errServe
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("server shutdown incomplete")
	}
	if errClose := a.store.Close(); errClose != nil {
		log.WithError(errClose).Warn("counter store close failed")
	}
	return nil
}

// counterSweepLoop evicts expired in-process counters on a timer. Bounded
// batches keep each pass cheap regardless of key-space size.
func (a *App) counterSweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.sweepEach)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memory.Sweep(a.sweepMax); n > 0 {
				log.WithField("evicted", n).Debug("counter sweep")
			}
		}
	}
}

// retentionLoop drops monitor events past the retention horizon,
// independent of the ring's overflow eviction.
func (a *App) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(a.sweepEach * 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.collector.EvictOlderThan(a.retention); n > 0 {
				log.WithField("evicted", n).Debug("retention sweep")
			}
		}
	}
}
