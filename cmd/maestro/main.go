// Maestro orchestrator server — provides the HTTP API, runs the code-unit
// swarm over the message bus, and executes testbench pipelines.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ensemble/maestro/pkg/api"
	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/config"
	"github.com/ensemble/maestro/pkg/crossref"
	"github.com/ensemble/maestro/pkg/database"
	"github.com/ensemble/maestro/pkg/designer"
	"github.com/ensemble/maestro/pkg/graphstore"
	"github.com/ensemble/maestro/pkg/llm"
	_ "github.com/ensemble/maestro/pkg/llm/providers"
	"github.com/ensemble/maestro/pkg/models"
	"github.com/ensemble/maestro/pkg/pipeline"
	"github.com/ensemble/maestro/pkg/searchindex"
	"github.com/ensemble/maestro/pkg/services"
	"github.com/ensemble/maestro/pkg/swarm"
	"github.com/ensemble/maestro/pkg/version"
)

// Exit codes: 1 generic startup failure, 2 invalid configuration, 3 fatal
// store (database/redis) failure.
const (
	exitFailure       = 1
	exitInvalidConfig = 2
	exitStoreFailure  = 3
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "."),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		if errors.Is(err, config.ErrValidationFailed) {
			os.Exit(exitInvalidConfig)
		}
		os.Exit(exitFailure)
	}

	slog.Info("Starting maestro",
		"version", version.Full(),
		"http_port", cfg.HTTP.Port,
		"llm_provider", cfg.LLM.Provider,
		"config_dir", *configDir)

	// 2. Initialize database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(exitInvalidConfig)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(exitStoreFailure)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Initialize the message bus
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing redis client", "error", err)
		}
	}()

	coordinator := bus.NewCoordinator(rdb)
	if err := coordinator.Initialize(ctx); err != nil {
		slog.Error("Failed to initialize message bus", "error", err)
		os.Exit(exitStoreFailure)
	}
	for queue, queueCfg := range cfg.Queues {
		if err := coordinator.CreateQueue(ctx, queue, queueCfg); err != nil {
			slog.Error("Failed to apply queue override", "queue", queue, "error", err)
			os.Exit(exitStoreFailure)
		}
	}

	// 4. Domain services and the cross-reference registry
	projectService := services.NewProjectService(dbClient.DB)
	pipelineService := services.NewPipelineService(dbClient.DB)
	specService := services.NewSpecService(dbClient.DB)
	documentService := services.NewDocumentService(dbClient.DB)

	registry := crossref.NewRegistry(dbClient.DB, graphstore.NewMemoryStore(), searchindex.NewMemoryIndex())
	slog.Info("Services initialized")

	// 5. LLM provider and gateway
	provider, err := llm.NewProvider(cfg.LLM.Provider, llm.ProviderConfig{
		APIKey:  os.Getenv(cfg.LLM.APIKeyEnv),
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	if err != nil {
		slog.Error("Failed to build LLM provider", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(exitFailure)
	}
	gateway := llm.NewGateway(provider, cfg.LLM.Model, cfg.Artifacts.Dir)
	slog.Info("LLM gateway initialized", "provider", provider.Name(), "model", cfg.LLM.Model)

	// 6. Designer ingestion and the code-unit swarm
	ingestor := designer.NewIngestor(gateway, registry, specService, pipelineService, coordinator)

	policy := swarm.NewPolicy(cfg.Swarm)
	worker := swarm.NewLLMMethodWorker(gateway)
	controller := swarm.NewController(cfg.Swarm, policy, worker, documentService, pipelineService, specService, coordinator)
	supervisor := swarm.NewSupervisor(coordinator, controller)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		supervisor.Run(runCtx)
	}()
	slog.Info("Swarm supervisor started")

	// 7. Pipeline executor and the testbench starter
	agentRegistry := pipeline.NewRegistry(gateway)
	builder := pipeline.NewBuilder(documentService, coordinator, cfg.Artifacts.StagingDir)
	executor := pipeline.NewExecutor(pipelineService, specService, agentRegistry, ingestor, builder, coordinator)

	starter := &pipelineStarter{ctx: runCtx, executor: executor, wg: &background}

	// 8. Background janitor: orphaned cross-references and expired messages
	background.Add(1)
	go func() {
		defer background.Done()
		runJanitor(runCtx, registry, coordinator, cfg.Janitor.Interval)
	}()

	// 9. HTTP server
	server := api.NewServer(dbClient, projectService, pipelineService, starter)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Maestro started successfully")

	// 10. Wait for shutdown signal or server error
	select {
	case <-runCtx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
		stop()
	}

	// 11. Graceful shutdown: stop accepting HTTP first, then drain background
	// work with a bounded wait.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		background.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Background workers stopped gracefully")
	case <-time.After(30 * time.Second):
		slog.Warn("Shutdown timeout exceeded — in-flight assignments will be redelivered")
	}

	slog.Info("Shutdown complete")
}

// pipelineStarter launches pipeline executions on their own goroutines. The
// executor persists terminal state itself, so the starter only logs failures.
type pipelineStarter struct {
	ctx      context.Context
	executor *pipeline.Executor
	wg       *sync.WaitGroup
}

func (s *pipelineStarter) Start(project *models.Project, pipe *models.PipelineExecution) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.executor.Run(s.ctx, project, pipe); err != nil {
			slog.Error("Pipeline execution failed",
				"pipeline_id", pipe.ID, "project_id", project.ID, "error", err)
		}
	}()
}

// runJanitor periodically removes orphaned cross-reference projections and
// requeues messages whose visibility timeout lapsed without an acknowledge.
func runJanitor(ctx context.Context, registry *crossref.Registry, coordinator *bus.Coordinator, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	log := slog.With("component", "janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		orphans, err := registry.FindOrphans(ctx)
		if err != nil {
			log.Warn("Orphan scan failed", "error", err)
		} else if len(orphans) > 0 {
			cleaned, err := registry.CleanupOrphans(ctx, orphans)
			if err != nil {
				log.Warn("Orphan cleanup failed", "error", err)
			} else {
				log.Info("Cleaned orphaned cross-references", "count", cleaned)
			}
		}

		for _, queue := range bus.ReservedQueues {
			requeued, err := coordinator.RequeueExpired(ctx, queue)
			if err != nil {
				log.Warn("Expired-message sweep failed", "queue", queue, "error", err)
				continue
			}
			if requeued > 0 {
				log.Info("Requeued expired messages", "queue", queue, "count", requeued)
			}
		}
	}
}
