package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache/memory"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/cache/redis"
	httpapi "github.com/aussiebroadwan/timekeep/internal/timekeep/http"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/metrics"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/realtime"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/service"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/drivers/postgres"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/timekeep/internal/timekeep/tenancy"
	"github.com/aussiebroadwan/timekeep/pkg/cryptox"
	"github.com/aussiebroadwan/timekeep/pkg/jwtx"
	"github.com/aussiebroadwan/timekeep/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application owns every long-lived dependency and their lifecycle.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockwork.Clock

	// Core dependencies
	db         store.Store
	cache      cache.Cache
	keyManager *jwtx.KeyManager
	hasher     *cryptox.PasswordHasher
	metrics    *metrics.Metrics

	// Services
	tokenService        *service.TokenService
	authService         *service.AuthService
	mfaService          *service.MFAService
	sessionService      *service.SessionService
	principalService    *service.PrincipalService
	tenantService       *service.TenantService
	bootstrapService    *service.BootstrapService
	housekeepingService *service.HousekeepingService
	notifier            *realtime.Notifier

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		logger: slogx.New(slogx.Config{
			Service: "timekeep",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
		metrics: metrics.New(),
	}

	pepper, err := cryptox.LoadOrCreatePepper(cfg.PepperFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}
	app.hasher = cryptox.NewPasswordHasher(pepper)

	ctx := context.Background()
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initCache(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.keyManager, err = InitAuthKeys(cfg, app.logger)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeepingService.Start()
	app.notifier.Init()

	app.logger.Info("timekeep starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application. Realtime connections are
// closed first so the HTTP server is not left waiting on hijacked sockets.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down timekeep...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.notifier.Shutdown(ctx); err != nil {
		app.logger.Error("realtime shutdown incomplete", "error", err)
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("timekeep stopped")
	return nil
}

func (app *Application) closeStores() error {
	var errs []error
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("error closing cache", "error", err)
			errs = append(errs, err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// initDatabase opens the configured store and applies migrations
func (app *Application) initDatabase(ctx context.Context) error {
	var (
		db  store.Store
		err error
	)
	switch app.cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.NewStore(ctx, app.cfg.DatabaseURL, postgres.Options{})
	default:
		db, err = sqlite.NewStore(app.cfg.DatabaseFile)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully", "driver", app.cfg.DatabaseDriver)
	return nil
}

// initCache connects to Redis when configured. The in-process fallback is
// only correct for a single replica.
func (app *Application) initCache(ctx context.Context) error {
	if app.cfg.RedisAddr == "" {
		app.cache = memory.New(app.clock)
		app.logger.Warn("REDIS_ADDR not set; using in-process cache, rotation and rate limits are per instance")
		return nil
	}

	c, err := redis.New(ctx, redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
		DB:       app.cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.cache = c
	app.logger.Info("redis cache connected", "addr", app.cfg.RedisAddr)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	app.tokenService = &service.TokenService{
		Keys:       app.keyManager,
		Store:      app.db,
		Cache:      app.cache,
		Clock:      app.clock,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		Metrics:    app.metrics,
		Logger:     app.logger,
	}

	authService, err := service.NewAuthService(app.db, app.tokenService, app.hasher)
	if err != nil {
		return err
	}
	app.authService = authService

	guard := tenancy.NewGuard(app.tokenService, httpapi.WriteError)
	app.notifier = realtime.New(guard, httpapi.WriteError, app.logger, app.metrics, app.clock, realtime.Options{
		AllowedOrigins: app.cfg.AllowedOrigins,
	})

	app.mfaService = &service.MFAService{
		Store:  app.db,
		Cache:  app.cache,
		Issuer: app.cfg.Issuer,
	}
	app.sessionService = &service.SessionService{
		Store:    app.db,
		Notifier: app.notifier,
		Clock:    app.clock,
		Metrics:  app.metrics,
	}
	app.principalService = &service.PrincipalService{
		Store:    app.db,
		Tokens:   app.tokenService,
		Hasher:   app.hasher,
		Notifier: app.notifier,
		Clock:    app.clock,
	}
	app.tenantService = &service.TenantService{Store: app.db}
	app.bootstrapService = &service.BootstrapService{
		Store:  app.db,
		Hasher: app.hasher,
		Clock:  app.clock,
		Token:  app.cfg.BootstrapToken,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.clock,
		app.cfg.HousekeepingInterval,
	)
	if sw, ok := app.cache.(service.Sweeper); ok {
		app.housekeepingService.Sweeper = sw
	}
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keyManager,
		BuildVersion,
		app.db,
		app.cache,
		app.clock,
		app.logger,
	)

	router.AuthLimit = app.cfg.AuthLimit
	router.APILimit = app.cfg.APILimit
	router.Metrics = app.metrics

	router.TokenService = app.tokenService
	router.AuthService = app.authService
	router.MFAService = app.mfaService
	router.SessionService = app.sessionService
	router.PrincipalService = app.principalService
	router.TenantService = app.tenantService
	router.BootstrapService = app.bootstrapService
	router.Realtime = app.notifier
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
