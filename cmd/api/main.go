package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/repo-harvester/internal/aggregator"
	"github.com/kurihiro0119/repo-harvester/internal/api"
	"github.com/kurihiro0119/repo-harvester/internal/collector"
	"github.com/kurihiro0119/repo-harvester/internal/config"
	"github.com/kurihiro0119/repo-harvester/internal/jobs"
	"github.com/kurihiro0119/repo-harvester/internal/logger"
	"github.com/kurihiro0119/repo-harvester/internal/storage"
	"github.com/kurihiro0119/repo-harvester/internal/storage/jsonfile"
	"github.com/kurihiro0119/repo-harvester/internal/storage/postgres"
	"github.com/kurihiro0119/repo-harvester/internal/storage/sqlite"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.StorageType {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			log.Fatalf("Failed to initialize PostgreSQL storage: %v", err)
		}
	case "json":
		store, err = jsonfile.NewJSONStorage(cfg.JSONOutputDir)
		if err != nil {
			log.Fatalf("Failed to initialize JSON storage: %v", err)
		}
	default:
		store, err = sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("Failed to initialize SQLite storage: %v", err)
		}
	}
	defer store.Close()

	// Initialize collector and job manager
	factory, err := collector.NewClientFactory(cfg.GitHubAPIURL)
	if err != nil {
		log.Fatalf("Invalid GitHub API URL: %v", err)
	}
	coll := collector.NewGitHubCollector(collector.Options{
		PerPage:           cfg.PerPage,
		Workers:           cfg.PageWorkers,
		LowLimitThreshold: cfg.LowLimitThreshold,
		Logger:            log,
	})
	runner := jobs.NewRunner(coll, store, cfg.GitHubTokens, factory,
		jobs.WithRequestsPerSecond(cfg.RequestsPerSecond),
		jobs.WithLogger(log),
	)
	manager := jobs.NewManager(runner, log)

	// Initialize handler
	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(manager, aggregator.NewAggregator(store))

	// Setup routes
	router := api.SetupRoutes(handler, log)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "storage": cfg.StorageType}).Info("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown")
	}
	// running jobs store what they collected before the process exits
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Jobs did not finish in time")
	}
}
