package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/finsight-ai/finsight/internal/agent"
	"github.com/finsight-ai/finsight/internal/api"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/database"
	"github.com/finsight-ai/finsight/internal/llm"
	"github.com/finsight-ai/finsight/internal/observability"
	"github.com/finsight-ai/finsight/internal/orchestrator"
	"github.com/finsight-ai/finsight/internal/query"
	"github.com/finsight-ai/finsight/internal/schema"
	"github.com/finsight-ai/finsight/internal/sqlguard"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// CLI flags
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("Finsight %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Finsight")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Initialize database connection
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations (schema + demo seed)
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize LLM provider
	provider, err := llm.NewProvider(llm.ProviderConfig{
		Type:    llm.ProviderType(cfg.LLM.Provider),
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize LLM provider")
	}
	defer func() { _ = provider.Close() }()

	// Wire the pipeline
	catalog := schema.NewCatalog()
	metrics := observability.NewMetrics()
	validator := sqlguard.NewValidator(catalog, sqlguard.Config{
		MaxQueryLength: cfg.Query.MaxQueryLength,
		DefaultLimit:   cfg.Query.DefaultLimit,
		MaxLimit:       cfg.Query.MaxLimit,
	})
	executor := query.NewExecutor(db, metrics, cfg.Query.MaxResultRows, cfg.Query.QueryTimeout())
	prompts := agent.NewPromptStore(cfg.LLM.PromptsDir)
	pipeline := orchestrator.New(
		catalog,
		validator,
		executor,
		agent.NewIntentAgent(provider, prompts, metrics),
		agent.NewSQLAgent(provider, prompts, metrics),
		agent.NewInsightAgent(provider, prompts, metrics),
		metrics,
		cfg.Pipeline.MaxRetries,
	)

	// Initialize API server
	server := api.NewServer(cfg, db, catalog, pipeline, metrics, provider.ValidateConfig() == nil)

	// Start server in a goroutine
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting Finsight server")
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
