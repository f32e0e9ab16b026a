package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/database"
	"github.com/bulkwave/bulkwave/internal/scheduler"
	"github.com/zerodha/logf"
)

var configPath = flag.String("config", "config.toml", "Path to config file")

func main() {
	flag.Parse()

	lo := logf.New(logf.Opts{
		EnableColor:     true,
		Level:           logf.InfoLevel,
		TimestampFormat: "2006-01-02 15:04:05",
		DefaultFields:   []any{"app", "bulkwave-scheduler"},
	})

	lo.Info("Starting Bulkwave scheduler...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		lo.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	db, err := database.NewPostgres(&cfg.Database, cfg.App.Debug)
	if err != nil {
		lo.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	lo.Info("Connected to PostgreSQL")

	campaignSvc := campaigns.NewService(cfg, db, lo)
	sched := scheduler.New(cfg, db, lo, campaignSvc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lo.Info("Shutting down scheduler...")
	cancel()
	<-done
	lo.Info("Scheduler stopped")
}
