package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"eventclub/internal/config"
	"eventclub/internal/gateway"
	"eventclub/pkg/logger"

	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	probe := flag.Bool("probe", false, "Probe the API health endpoint once and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("EventClub Gateway v%s\n", version)
		os.Exit(0)
	}

	if *configPath != "" {
		if _, err := os.Stat(*configPath); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", *configPath)
			os.Exit(1)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *probe {
		os.Exit(runProbe(ctx, cfg, log))
	}

	log.Info("Starting EventClub Gateway",
		zap.String("version", version),
		zap.String("config", *configPath))

	server, err := gateway.NewServer(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		os.Exit(2)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()))
		cancel()

		if err := server.Shutdown(); err != nil {
			log.Error("Shutdown error", zap.Error(err))
			os.Exit(2)
		}

		log.Info("Gateway stopped gracefully")
		os.Exit(0)

	case err := <-errCh:
		if err != nil {
			log.Error("Server error", zap.Error(err))
			os.Exit(2)
		}
	}
}

func runProbe(ctx context.Context, cfg *config.Config, log *logger.Logger) int {
	result, err := gateway.Probe(ctx, cfg, log)
	if err != nil {
		log.Error("Probe setup failed", zap.Error(err))
		return 2
	}

	if !result.Healthy {
		log.Error("API is unhealthy",
			zap.Int("status", result.Status),
			zap.Duration("response_time", result.ResponseTime),
			zap.Error(result.Err))
		return 1
	}

	log.Info("API is healthy",
		zap.Int("status", result.Status),
		zap.Duration("response_time", result.ResponseTime))
	return 0
}
