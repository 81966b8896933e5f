package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	gormlogger "gorm.io/gorm/logger"

	"sidechat/internal/config"
	"sidechat/internal/infrastructure/database"
	_ "sidechat/internal/infrastructure/database/dbschema"
	"sidechat/internal/infrastructure/database/repository/sessionrepo"
	"sidechat/internal/infrastructure/logger"
	"sidechat/internal/infrastructure/observability"
	"sidechat/internal/infrastructure/store"
	"sidechat/internal/interfaces/httpserver"
	"sidechat/internal/provider"
)

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("failed to configure logger: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup observability
	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	catalog, err := cfg.LoadCatalog()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model catalog")
	}

	// Session store: postgres when configured, in-memory otherwise.
	var sessions store.SessionStore
	if cfg.DBEnabled {
		db, err := database.Connect(database.Config{
			DatabaseURL: cfg.DatabaseURL,
			MaxIdle:     cfg.DBMaxIdle,
			MaxOpen:     cfg.DBMaxOpen,
			MaxLifetime: cfg.DBConnMaxLife,
			LogLevel:    gormlogger.Silent,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := database.Migration(db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		sessions = sessionrepo.New(db)
	} else {
		sessions = store.NewMemoryStore(log)
	}

	runner := provider.NewRunner(cfg, catalog, log)
	httpServer := httpserver.New(cfg, log, runner, sessions)

	log.Info().
		Str("service", cfg.ServiceName).
		Int("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("transport_mode", cfg.TransportMode).
		Msg("starting application")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env", "../../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
