package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/healthcore/healthcore/internal/config"
	"github.com/healthcore/healthcore/internal/domain/admissions"
	"github.com/healthcore/healthcore/internal/domain/allocation"
	"github.com/healthcore/healthcore/internal/domain/equipment"
	"github.com/healthcore/healthcore/internal/domain/identity"
	"github.com/healthcore/healthcore/internal/domain/scheduling"
	"github.com/healthcore/healthcore/internal/platform/auth"
	"github.com/healthcore/healthcore/internal/platform/breaker"
	"github.com/healthcore/healthcore/internal/platform/db"
	"github.com/healthcore/healthcore/internal/platform/events"
	"github.com/healthcore/healthcore/internal/platform/idempotency"
	"github.com/healthcore/healthcore/internal/platform/middleware"
	"github.com/healthcore/healthcore/internal/platform/notification"
	"github.com/healthcore/healthcore/internal/platform/telemetry"
)

// app holds every long-lived component. It is built once per process and
// shared by the serve, sweep and seed commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	directory identity.Directory
	ledger    idempotency.Ledger
	metrics   *telemetry.Provider
	wards     *admissions.WardService
	inventory *equipment.InventoryService

	slots   *allocation.Engine
	beds    *allocation.Engine
	windows *allocation.Engine
	sweeper *allocation.Sweeper

	closers []func() error
}

// stores are the per-kind allocation stores plus the owner repositories
// that sit next to them.
type stores struct {
	slots, beds, windows allocation.Store
	wards                admissions.WardRepository
	equipment            equipment.Repository
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.NewProvider(reg)

	var st stores
	switch cfg.Store {
	case "memory":
		dir := identity.NewMemoryDirectory()
		wards := admissions.NewMemoryWards()
		items := equipment.NewMemoryRepository()
		a.directory = dir
		a.ledger = idempotency.NewMemoryLedger(cfg.IdempotencyTTL)
		st = stores{
			slots:     allocation.NewMemoryStore(scheduling.NewDirectoryOwners(dir)),
			beds:      allocation.NewMemoryStore(wards),
			windows:   allocation.NewMemoryStore(items),
			wards:     wards,
			equipment: items,
		}
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.directory = identity.NewDirectoryPG(pool)
		a.ledger = idempotency.NewLedgerPG(pool)
		st = stores{
			slots:     scheduling.NewStorePG(pool),
			beds:      admissions.NewStorePG(pool),
			windows:   equipment.NewStorePG(pool),
			wards:     admissions.NewWardRepoPG(pool),
			equipment: equipment.NewRepoPG(pool),
		}
		logger.Info().Msg("connected to database")
	}

	if cfg.BreakerEnabled {
		policy := breakerPolicy(cfg)
		st.slots = a.guard("slot-store", st.slots, policy)
		st.beds = a.guard("bed-store", st.beds, policy)
		st.windows = a.guard("window-store", st.windows, policy)
	}

	var publisher events.Publisher = events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix, logger)
		a.closers = append(a.closers, kp.Close)
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Msg("publishing events to kafka")
	}

	resolver := identity.NewCachedResolver(a.directory, cfg.RequesterCacheTTL)
	opts := []allocation.EngineOption{
		allocation.WithPublisher(publisher),
		allocation.WithMetrics(a.metrics),
		allocation.WithLogger(logger),
	}
	a.slots = scheduling.NewEngine(st.slots, resolver, a.ledger, opts...)
	a.beds = admissions.NewEngine(st.beds, resolver, a.ledger, opts...)
	a.windows = equipment.NewEngine(st.windows, resolver, a.ledger, opts...)
	a.wards = admissions.NewWardService(st.wards)
	a.inventory = equipment.NewInventoryService(st.equipment)

	sweepCfg, err := sweeperConfig(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier := notification.NewManager(notification.NewLogSender(logger), notification.NewTemplateEngine(), logger)
	a.sweeper = allocation.NewSweeper(sweepCfg, []*allocation.Engine{a.slots, a.beds, a.windows}, notifier, a.metrics, logger)

	return a, nil
}

func (a *app) guard(name string, s allocation.Store, p breaker.Policy) allocation.Store {
	b := breaker.New(name, p, allocation.StoreHealthy, a.logger, a.metrics.SetBreakerState)
	return allocation.Guard(s, b)
}

// Close releases external resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func breakerPolicy(cfg *config.Config) breaker.Policy {
	p := breaker.DefaultPolicy()
	if cfg.BreakerMaxFailures > 0 {
		p.MaxFailures = cfg.BreakerMaxFailures
	}
	if cfg.BreakerResetTimeout > 0 {
		p.ResetTimeout = cfg.BreakerResetTimeout
	}
	if cfg.BreakerHalfOpenProbe > 0 {
		p.HalfOpenProbes = cfg.BreakerHalfOpenProbe
	}
	return p
}

func horizonPlan(cfg *config.Config) (allocation.HorizonPlan, error) {
	loc, err := cfg.Location()
	if err != nil {
		return allocation.HorizonPlan{}, err
	}
	return allocation.HorizonPlan{
		Days:        cfg.HorizonDays,
		OpenHour:    cfg.HorizonOpenHour,
		CloseHour:   cfg.HorizonCloseHour,
		SlotMinutes: cfg.HorizonSlotMinutes,
		Location:    loc,
	}, nil
}

func sweeperConfig(cfg *config.Config) (allocation.SweeperConfig, error) {
	plan, err := horizonPlan(cfg)
	if err != nil {
		return allocation.SweeperConfig{}, err
	}
	return allocation.SweeperConfig{
		AutoCompleteInterval: cfg.SweepAutoCompleteInterval,
		HorizonInterval:      cfg.SweepHorizonInterval,
		ReminderInterval:     cfg.SweepReminderInterval,
		ReminderWindow:       cfg.ReminderWindow,
		Horizon:              plan,
	}, nil
}

// routes builds the HTTP server.
func (a *app) routes() *echo.Echo {
	cfg := a.cfg
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", idempotency.HeaderKey, idempotency.HeaderKeyAlt, auth.DevUserHeader},
		ExposeHeaders: []string{idempotency.HeaderReplayed, "Link"},
	}))

	e.GET("/health", db.HealthHandler(a.pool))
	e.GET("/metrics", a.metrics.PrometheusHandler())

	apiV1 := e.Group("/api/v1")
	if cfg.ResolvedAuthMode() == "development" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{Issuer: cfg.JWTIssuer, SigningKey: []byte(cfg.JWTSecret)}))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	scheduling.NewHandler(a.slots).RegisterRoutes(apiV1)
	admissions.NewHandler(a.beds, a.wards).RegisterRoutes(apiV1)
	equipment.NewHandler(a.windows, a.inventory).RegisterRoutes(apiV1)

	admin := apiV1.Group("/admin", auth.RequireRole("admin"))
	admin.POST("/sweeps/:job", a.runSweep)

	return e
}

func (a *app) runSweep(c echo.Context) error {
	job := c.Param("job")
	n, err := a.sweeper.RunJob(c.Request().Context(), job)
	if errors.Is(err, allocation.ErrUnknownJob) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("unknown sweep job %q", job))
	}
	if err != nil {
		return allocation.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"job": job, "count": n})
}

// pruneLedger drops idempotency entries older than the retention window.
// Only ledgers without their own expiry need this.
func (a *app) pruneLedger(ctx context.Context) {
	p, ok := a.ledger.(idempotency.Pruner)
	if !ok || a.cfg.IdempotencyTTL <= 0 {
		return
	}
	n, err := p.Prune(ctx, time.Now().Add(-a.cfg.IdempotencyTTL))
	if err != nil {
		a.logger.Error().Err(err).Msg("idempotency prune failed")
		return
	}
	if n > 0 {
		a.logger.Info().Int64("removed", n).Msg("pruned idempotency entries")
	}
}

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger, seed bool) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if seed {
		res, err := a.seed(ctx)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info().Interface("seeded", res).Msg("demo data inserted")
	}

	e := a.routes()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.Store).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sweeper.Run(gctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.pruneLedger(gctx)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
