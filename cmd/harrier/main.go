// Harrier - Streaming transaction risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/logging"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/service"
	"github.com/opensource-finance/harrier/internal/traces"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	importPath := flag.String("import", "", "CSV file of id,amount,type,fraudProbability[,location] records to load at start-up")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("harrier %s (%s, %s)\n", Version, Commit, BuildDate)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(logging.New(cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"scoring_mode", cfg.Scoring.Mode,
		"threshold", cfg.Scoring.Threshold,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize tracing
	shutdownTracing, err := traces.Init(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the pipeline
	svc, err := service.New(*cfg, service.Deps{
		Repository: repo,
		Cache:      cacheImpl,
		EventBus:   busImpl,
	})
	if err != nil {
		slog.Error("failed to initialize service", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		slog.Error("failed to start service", "error", err)
		os.Exit(1)
	}

	if *importPath != "" {
		report, err := svc.ImportFile(ctx, *importPath)
		if err != nil {
			slog.Error("failed to import transactions", "path", *importPath, "error", err)
			os.Exit(1)
		}
		slog.Info("transactions imported",
			"path", *importPath,
			"accepted", report.Accepted,
			"rejected", len(report.Rejected),
		)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop generator and worker before the infrastructure closes
	if err := svc.Close(); err != nil {
		slog.Error("failed to stop pipeline", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               HARRIER                     ║")
	fmt.Println("  ║     Streaming Transaction Risk Scoring    ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Scoring:  %s (threshold %.2f)\n", cfg.Scoring.Mode, cfg.Scoring.Threshold)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET    /transactions                 - Query the catalog")
	fmt.Println("    GET    /transactions/summary         - Fraud/legitimate counts")
	fmt.Println("    GET    /transactions/{id}            - Get transaction by ID")
	fmt.Println("    GET    /transactions/{id}/assessment - Get the decision")
	fmt.Println("    POST   /transactions/{id}/label      - Label and retrain")
	fmt.Println("    POST   /transactions/generate        - Generate one transaction")
	fmt.Println("    POST   /transactions/import          - Import CSV records")
	fmt.Println("    DELETE /transactions                 - Clear the catalog")
	fmt.Println("    POST   /score                        - Score an ad-hoc transaction")
	fmt.Println("    GET    /alerts                       - Recent alerts from the bus")
	fmt.Println("    GET    /simulation                   - Simulation status")
	fmt.Println("    POST   /simulation/start|stop        - Toggle the simulation")
	fmt.Println("    PUT    /simulation/bias|max-amount   - Adjust the simulation")
	fmt.Println("    GET    /health, /ready, /metrics     - Operations")
	fmt.Println()
}
