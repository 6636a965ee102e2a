package main

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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/greengate-br/greengate/internal/audit"
	"github.com/greengate-br/greengate/internal/auth"
	"github.com/greengate-br/greengate/internal/config"
	"github.com/greengate-br/greengate/internal/engine"
	"github.com/greengate-br/greengate/internal/metrics"
	"github.com/greengate-br/greengate/internal/ratelimit"
	"github.com/greengate-br/greengate/internal/registry"
	"github.com/greengate-br/greengate/internal/report"
	"github.com/greengate-br/greengate/internal/server"
	"github.com/greengate-br/greengate/internal/storage"
	"github.com/greengate-br/greengate/internal/telemetry"
	"github.com/greengate-br/greengate/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("GREENGATE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("greengate starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to PostGIS.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.StatementTimeout, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// The overlap queries are useless without PostGIS; fail fast rather
	// than serving all-skip verdicts.
	pgisVersion, err := db.PostGISVersion(ctx)
	if err != nil {
		return fmt.Errorf("postgis missing: %w", err)
	}
	slog.Info("database ready", "postgis_version", pgisVersion)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Rate limit store: Redis when configured, in-process otherwise.
	var store ratelimit.Store
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: parse url: %w", err)
		}
		client := redis.NewClient(opt)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping: %w", err)
		}
		store = ratelimit.NewRedisStore(client)
		logger.Info("rate limiting: redis", "addr", opt.Addr)
	} else {
		store = ratelimit.NewMemoryStore()
		logger.Info("rate limiting: memory (single-instance sliding window)")
	}
	limiter := ratelimit.New(store, logger)
	defer func() { _ = limiter.Close() }()

	reg := registry.New(db, cfg.RegistryCacheTTL)
	eng := engine.New(db, reg, logger)
	generator := report.NewGenerator(cfg.BaseURL)
	recorder := audit.New(db, generator, logger)
	m := metrics.New()

	srv := server.New(server.ServerConfig{
		DB:                     db,
		Engine:                 eng,
		Recorder:               recorder,
		Renderer:               generator,
		Versions:               reg,
		JWTMgr:                 jwtMgr,
		Logger:                 logger,
		Limiter:                limiter,
		Metrics:                m,
		Port:                   cfg.Port,
		ReadTimeout:            cfg.ReadTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		Version:                version,
		MaxRequestBodyBytes:    cfg.MaxRequestBodyBytes,
		AllowedOrigins:         cfg.AllowedOrigins,
		AdminUsername:          cfg.AdminUsername,
		AdminPasswordHash:      cfg.AdminPasswordHash,
		AuthenticatedPerMinute: cfg.AuthenticatedPerMinute,
		AnonymousPerMinute:     cfg.AnonymousPerMinute,
		ValidationExpiry:       cfg.ValidationExpiry,
	})

	// Nightly retention sweep. Reports stay verifiable for a year past
	// their 90-day expiry before the rows are dropped.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-365 * 24 * time.Hour)
				res, err := db.PurgeExpired(ctx, cutoff)
				if err != nil {
					logger.Error("retention sweep failed", "error", err)
					continue
				}
				if res.Reports > 0 || res.Validations > 0 {
					logger.Info("retention sweep",
						"reports", res.Reports, "validations", res.Validations)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting requests and drain in-flight
	// screenings before the pool and limiter close underneath them.
	slog.Info("greengate shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	slog.Info("greengate stopped")
	return nil
}
