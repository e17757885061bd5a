// Package hakari is the public API for embedding the Hakari credit-risk
// model registry and experimentation server.
//
//	app, err := hakari.New(
//	    hakari.WithVersion(version),
//	    hakari.WithLogger(logger),
//	    hakari.WithAlgorithm(hakari.Algorithm{...}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*; internal/* never imports it. Public
// types are standalone and adapted at this boundary.
package hakari

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joho/godotenv"

	"github.com/ashita-ai/hakari/api"
	"github.com/ashita-ai/hakari/internal/auth"
	"github.com/ashita-ai/hakari/internal/config"
	"github.com/ashita-ai/hakari/internal/mcp"
	"github.com/ashita-ai/hakari/internal/model"
	"github.com/ashita-ai/hakari/internal/ratelimit"
	"github.com/ashita-ai/hakari/internal/scoring"
	"github.com/ashita-ai/hakari/internal/server"
	"github.com/ashita-ai/hakari/internal/service/experiments"
	"github.com/ashita-ai/hakari/internal/service/ledger"
	"github.com/ashita-ai/hakari/internal/service/registry"
	"github.com/ashita-ai/hakari/internal/service/router"
	"github.com/ashita-ai/hakari/internal/storage"
	"github.com/ashita-ai/hakari/internal/storage/postgres"
	"github.com/ashita-ai/hakari/internal/storage/sqlite"
	"github.com/ashita-ai/hakari/internal/telemetry"
	"github.com/ashita-ai/hakari/migrations"
)

// App is the Hakari server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server: it opens storage, replays the manifest,
// seals the registry and wires every subsystem. It does not accept
// connections until Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("hakari starting", "version", version, "port", cfg.Port, "storage", cfg.StorageDriver)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	// fail releases what has been opened so far.
	fail := func(err error) (*App, error) {
		store.Close(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}

	reg := registry.New(store, logger)
	for _, alg := range o.algorithms {
		if alg.Predictor == nil {
			return fail(fmt.Errorf("algorithm %s/%s: predictor is required", alg.Endpoint, alg.Classifier))
		}
		if _, err := reg.Register(ctx, registry.Descriptor{
			Classifier:  alg.Classifier,
			Endpoint:    alg.Endpoint,
			Description: alg.Description,
			Version:     alg.Version,
			CreatedBy:   "hakari",
			Dataset:     alg.Dataset,
			Region:      alg.Region,
			Status:      model.Status(alg.Status),
			Predictor:   predictorAdapter{p: alg.Predictor},
		}); err != nil {
			return fail(fmt.Errorf("register %s/%s: %w", alg.Endpoint, alg.Classifier, err))
		}
	}
	if cfg.ManifestPath != "" {
		manifest, err := registry.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return fail(err)
		}
		if err := reg.Bootstrap(ctx, manifest); err != nil {
			return fail(fmt.Errorf("bootstrap registry: %w", err))
		}
	} else {
		reg.Seal()
		logger.Warn("no manifest configured (HAKARI_MANIFEST)", "algorithms", reg.Len())
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	rt := router.New(store, reg, logger)
	exp := experiments.New(store, logger)
	mcpSrv := mcp.New(store, rt, exp, logger, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		Registry:            reg,
		Router:              rt,
		Ledger:              ledger.New(store),
		Experiments:         exp,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		Middlewares:         middlewares,
	})

	if err := srv.Handlers().SeedAdmin(ctx, cfg.AdminAPIKey); err != nil {
		_ = limiter.Close()
		return fail(fmt.Errorf("admin seed: %w", err))
	}

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// apply copies option overrides onto the loaded configuration.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.storage != "" {
		cfg.StorageDriver = o.storage
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.manifestPath != "" {
		cfg.ManifestPath = o.manifestPath
	}
}

// openStore connects the configured backend and, for Postgres, applies the
// embedded migrations.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.StorageDriver == config.DriverSQLite {
		db, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		return db, nil
	}

	db, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	db.RegisterPoolMetrics()
	if !cfg.AutoMigrate {
		logger.Info("embedded migrations skipped by config")
		return db, nil
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return db, nil
}

// Handler returns the root HTTP handler, for tests and for embedding the
// API in another server.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. On return, Shutdown has already been called.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}
	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then closes storage and
// telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("hakari shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownTimeout)
	err := a.srv.Shutdown(httpCtx)
	cancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	a.store.Close(ctx)
	_ = a.otelShutdown(ctx)

	a.logger.Info("hakari stopped")
	return err
}

// predictorAdapter exposes a public Predictor as a scoring.Predictor.
type predictorAdapter struct {
	p Predictor
}

func (a predictorAdapter) Predict(ctx context.Context, features map[string]any) (scoring.Prediction, error) {
	pred, err := a.p.Predict(ctx, features)
	if err != nil {
		return scoring.Prediction{}, err
	}
	label := pred.Label
	if label == "" {
		label = scoring.LabelFor(pred.Probability)
	}
	return scoring.Prediction{
		Probability: pred.Probability,
		Label:       label,
		Method:      pred.Method,
		Details:     pred.Details,
	}, nil
}
