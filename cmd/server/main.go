package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	reconcileapp "github.com/esports/backend/internal/application/reconcile"
	replayapp "github.com/esports/backend/internal/application/replay"
	syncapp "github.com/esports/backend/internal/application/sync"
	"github.com/esports/backend/internal/domain/stats"
	"github.com/esports/backend/internal/infrastructure/config"
	"github.com/esports/backend/internal/infrastructure/decoder"
	"github.com/esports/backend/internal/infrastructure/logger"
	"github.com/esports/backend/internal/infrastructure/persistence"
	"github.com/esports/backend/internal/infrastructure/source"
	"github.com/esports/backend/internal/infrastructure/storage"
	"github.com/esports/backend/internal/interfaces/http/handler"
	"github.com/esports/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting esports sync backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	entityStore := persistence.NewGormEntityStore(db.DB)

	// Source adapters, honoring the per-source enable flags. A disabled
	// source is simply absent from the fan-out.
	var adapters []stats.SourceAdapter
	var restAdapter *source.RestAdapter
	if cfg.Rest.Enabled {
		restAdapter = source.NewRestAdapter(cfg.Rest, log)
		adapters = append(adapters, restAdapter)
	}
	if cfg.Graph.Enabled {
		adapters = append(adapters, source.NewGraphAdapter(cfg.Graph, log))
	}
	if cfg.Scrape.Enabled {
		scrapeAdapter := source.NewScrapeAdapter(cfg.Scrape, log)
		defer scrapeAdapter.Close()
		adapters = append(adapters, scrapeAdapter)
	}
	if len(adapters) == 0 {
		log.Fatal("No source adapters enabled")
	}

	reconciler := reconcileapp.New(adapters,
		reconcileapp.WithLogger(log),
		reconcileapp.WithAdapterTimeout(cfg.Sync.AdapterTimeout),
	)

	// Replay pipeline needs the REST adapter for locators; without it the
	// orchestrator skips the replay sweep.
	var pipeline *replayapp.Pipeline
	if restAdapter != nil {
		artifactStore, err := storage.NewS3ArtifactStore(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create artifact store", zap.Error(err))
		}
		ensureCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := artifactStore.EnsureBucket(ensureCtx); err != nil {
			cancel()
			log.Fatal("Failed to ensure artifact bucket", zap.Error(err))
		}
		cancel()

		runner, err := decoder.NewRunner(cfg.Replay, log)
		if err != nil {
			log.Fatal("Failed to initialize replay decoder", zap.Error(err))
		}
		log.Info("Replay decoder ready", zap.String("version", runner.Version()))

		pipeline = replayapp.NewPipeline(restAdapter, artifactStore, runner, entityStore, cfg.Replay, log)
	} else {
		log.Warn("REST source disabled; replay pipeline unavailable")
	}

	var (
		sweeper syncapp.ReplaySweeper
		lister  syncapp.MatchLister
	)
	if pipeline != nil {
		sweeper = pipeline
	}
	if restAdapter != nil {
		lister = restAdapter
	}

	orchestrator := syncapp.NewOrchestrator(reconciler, sweeper, lister, entityStore, adapters, cfg.Sync, log)

	// HTTP surface
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := router.NewRouter(engine)
	r.Register(handler.NewSyncHandler(orchestrator))
	r.Setup()

	engine.GET("/api/v1/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: engine,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Cancel any background sync pass so in-flight adapter calls and
	// decoder subprocesses unwind.
	orchestrator.Close()

	log.Info("Server exited gracefully")
}
