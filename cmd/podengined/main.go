package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/podenginelabs/podengine/internal/config"
	"github.com/podenginelabs/podengine/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

// run carries the real main body so deferred cleanup fires before the
// process exits.
func run() int {
	var (
		configPath  string
		topic       string
		resumeID    string
		serve       bool
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&topic, "topic", "", "Produce one podcast for this topic and exit")
	flag.StringVar(&resumeID, "resume", "", "Resume a persisted run by ID and exit")
	flag.BoolVar(&serve, "serve", false, "Run the HTTP API daemon")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return 0
	}

	// .env is optional; real deployments configure through the environment
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Telemetry.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger)
	if err := rt.Init(ctx); err != nil {
		logger.Error("runtime init failed", slog.String("error", err.Error()))
		rt.Close(context.Background())
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rt.Close(shutdownCtx)
	}()

	switch {
	case topic != "":
		run, err := rt.RunOnce(ctx, topic)
		if err != nil {
			logger.Error("run failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("run finished", slog.String("run_id", run.ID), slog.String("stage", string(run.Stage)))
	case resumeID != "":
		run, err := rt.ResumeOnce(ctx, resumeID)
		if err != nil {
			logger.Error("resume failed", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("run finished", slog.String("run_id", run.ID), slog.String("stage", string(run.Stage)))
	case serve:
		if err := rt.Serve(ctx); err != nil {
			logger.Error("runtime exited with error", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("shutdown complete")
	default:
		fmt.Fprintln(os.Stderr, "nothing to do: pass -topic, -resume or -serve")
		return 2
	}
	return 0
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
