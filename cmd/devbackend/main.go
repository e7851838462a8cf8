// Command devbackend serves an in-memory stand-in for the attendance REST
// API so the kiosk can run without the real backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	web "frontdesk/internal/adapters/http"
	"frontdesk/internal/adapters/http/perf"
	"frontdesk/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.LoadBackend()
	if err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	slog.SetDefault(config.NewLogger(os.Stderr, cfg.LogLevel))

	dir := web.NewDirectory(nil)
	if err := web.Seed(dir, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	slog.Info("config_event", "event", "admin_seeded", "email", cfg.AdminEmail)

	started := time.Now()
	collector := perf.NewCollector(perf.DefaultRingSize)
	srv, err := web.NewServer(dir, web.Options{
		JWTSecret:  cfg.JWTSecret,
		CSRFKey:    cfg.CSRFKey,
		Production: cfg.Env == config.EnvProduction,
		Collector:  collector,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = srv.Run(ctx, cfg.Addr)
	collector.LogSummary(started)
	return err
}
