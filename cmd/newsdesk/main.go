package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"newsdesk/internal/auth"
	"newsdesk/internal/config"
	"newsdesk/internal/database"
	"newsdesk/internal/enrich"
	"newsdesk/internal/fetch"
	"newsdesk/internal/ingest"
	"newsdesk/internal/llm"
	"newsdesk/internal/metrics"
	"newsdesk/internal/scheduler"
	"newsdesk/internal/server"
	"newsdesk/internal/summary"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Version will be set during build
	Version = "dev"

	port         = flag.Int("port", 0, "Port to run the server on (default: 8080 or NEWSDESK_PORT)")
	dbPath       = flag.String("db", "", "Path to database file (default: data/newsdesk.db or NEWSDESK_DB_PATH)")
	settingsPath = flag.String("settings", "", "Path to seed settings file (default: settings.yaml or NEWSDESK_SETTINGS)")
	version      = flag.Bool("version", false, "Print version information")
	prodMode     = flag.Bool("prod", false, "Enable production mode (HTTPS-only session cookies)")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("Newsdesk version %s\n", Version)
		return
	}

	logger := log.New(os.Stdout, "newsdesk: ", log.LstdFlags|log.Lshortfile)

	// .env is optional; missing file is not an error
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Printf("Warning: could not load .env: %v", err)
	}

	cfg := config.GetConfig()
	if *port > 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *settingsPath != "" {
		cfg.SettingsPath = *settingsPath
	}

	logger.Printf("Starting Newsdesk v%s", Version)
	logger.Printf("Port: %d", cfg.Port)
	logger.Printf("Database: %s", cfg.DBPath)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		logger.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := database.NewDB(cfg.DBPath, database.DefaultConfig())
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed settings from the optional YAML file, then hand control of
	// runtime configuration to the database.
	provider := config.NewProvider(db, logger)
	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		logger.Fatalf("Failed to load settings file %s: %v", cfg.SettingsPath, err)
	}
	if err := provider.Seed(ctx, settings); err != nil {
		logger.Fatalf("Failed to seed settings: %v", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	llmClient := llm.NewClient(logger)
	fetcher := fetch.NewFetcher(logger)
	ingester := ingest.NewService(db, fetcher, logger, m)
	enricher := enrich.NewService(db, llmClient, fetcher, logger, m)
	summarizer := summary.NewService(db, llmClient, logger, m)

	sched := scheduler.NewScheduler(provider, ingester, enricher, summarizer, llmClient, logger, nil)

	srv := server.NewServer(db, logger, auth.NewService(db.DB), sched, registry, server.Config{
		UseHTTPS: *prodMode,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- sched.Run(ctx)
	}()
	go func() {
		errCh <- srv.Start(ctx, cfg.GetAddress())
	}()

	select {
	case <-ctx.Done():
		logger.Println("Shutting down")
		// Let both loops finish their graceful shutdown.
		<-errCh
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("Fatal: %v", err)
		}
	}
}
