package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/docugenius/internal/config"
	"github.com/loqalabs/docugenius/internal/runtime"
	flag "github.com/spf13/pflag"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		envFile     string
		uploads     []string
		console     bool
		showVersion bool
	)

	flag.StringVarP(&configPath, "config", "c", "docugenius.yaml", "Path to configuration file")
	flag.StringVarP(&envFile, "env", "e", ".env", "Env file loaded before DOCUGENIUS_* overrides")
	flag.StringSliceVarP(&uploads, "upload", "u", nil, "Documents to upload on startup")
	flag.BoolVar(&console, "console", false, "Read questions and commands from stdin")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Telemetry, os.Stderr)
	logger.Info("starting docugenius", slog.String("version", version), slog.String("backends", runtime.Describe(cfg)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger)
	if err := rt.Open(ctx); err != nil {
		logger.Error("runtime failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if len(uploads) > 0 {
		if err := uploadFiles(ctx, rt.Chat(), uploads, os.Stdout); err != nil {
			logger.Error("startup upload failed", slog.String("error", err.Error()))
		}
	}

	if console {
		go func() {
			runConsole(ctx, rt, os.Stdin, os.Stdout)
			stop()
		}()
	}

	if err := rt.Run(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// loadConfig reads path when it exists and falls back to defaults plus
// environment overrides when the default path is absent.
func loadConfig(path string) (config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !flag.CommandLine.Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
