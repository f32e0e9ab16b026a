package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/database"
	"github.com/bulkwave/bulkwave/internal/events"
	"github.com/bulkwave/bulkwave/internal/handlers"
	"github.com/bulkwave/bulkwave/internal/middleware"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/internal/processor"
	"github.com/bulkwave/bulkwave/internal/ratelimit"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

var (
	configPath = flag.String("config", "config.toml", "Path to config file")
	migrate    = flag.Bool("migrate", false, "Run database migrations")
)

func main() {
	flag.Parse()

	// Initialize logger
	lo := logf.New(logf.Opts{
		EnableColor:     true,
		Level:           logf.DebugLevel,
		EnableCaller:    true,
		TimestampFormat: "2006-01-02 15:04:05",
		DefaultFields:   []any{"app", "bulkwave"},
	})

	lo.Info("Starting Bulkwave server...")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		lo.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Set log level based on environment
	if cfg.App.Environment == "production" {
		lo = logf.New(logf.Opts{
			Level:           logf.InfoLevel,
			TimestampFormat: "2006-01-02 15:04:05",
			DefaultFields:   []any{"app", "bulkwave"},
		})
	}

	// Connect to PostgreSQL
	db, err := database.NewPostgres(&cfg.Database, cfg.App.Debug)
	if err != nil {
		lo.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	lo.Info("Connected to PostgreSQL")

	// Run migrations if requested
	if *migrate {
		lo.Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			lo.Error("Failed to run migrations", "error", err)
			os.Exit(1)
		}
		if err := database.CreateIndexes(db); err != nil {
			lo.Error("Failed to create indexes", "error", err)
			os.Exit(1)
		}
		lo.Info("Migrations completed successfully")
	}

	// Connect to Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		lo.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	lo.Info("Connected to Redis")

	// Shared dependencies
	waClient := whatsapp.NewWithTimeout(lo, time.Duration(cfg.Engine.SendTimeoutSeconds)*time.Second)
	waClient.BaseURL = cfg.WhatsApp.BaseURL

	publisher := events.NewPublisher(rdb, lo)
	notifier := events.NewNotifier(db, publisher, lo)
	campaignSvc := campaigns.NewService(cfg, db, lo)

	rate := ratelimit.New(lo, persistStableRate(db, lo))
	proc := processor.New(cfg, db, lo, waClient, rate, notifier)

	// Queue processor
	ctx, cancel := context.WithCancel(context.Background())
	procDone := make(chan error, 1)
	go func() {
		procDone <- proc.Run(ctx)
	}()

	// Initialize app with dependencies
	app := &handlers.App{
		Config:    cfg,
		DB:        db,
		Redis:     rdb,
		Log:       lo,
		WhatsApp:  waClient,
		Campaigns: campaignSvc,
		Notifier:  notifier,
	}

	// Initialize Fastglue
	g := fastglue.NewGlue()
	g.Before(middleware.RequestLogger(lo))
	g.Before(middleware.CORS())
	g.Before(middleware.Recovery(lo))

	setupRoutes(g, app)

	// Create server
	server := &fasthttp.Server{
		Handler:      g.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		Name:         "Bulkwave",
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		lo.Info("Server listening", "address", addr)
		if err := server.ListenAndServe(addr); err != nil {
			lo.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lo.Info("Shutting down server...")
	cancel()
	if err := server.Shutdown(); err != nil {
		lo.Error("Server shutdown error", "error", err)
	}
	app.WaitForBackgroundTasks()
	<-procDone
	lo.Info("Server stopped")
}

// persistStableRate records a sender's last stable rate when the adaptive
// controller backs off
func persistStableRate(db *gorm.DB, lo logf.Logger) ratelimit.StableRateFunc {
	return func(senderID uuid.UUID, stable float64) {
		if err := db.Model(&models.Sender{}).
			Where("id = ?", senderID).
			Update("last_stable_rate_per_sec", stable).Error; err != nil {
			lo.Error("Failed to persist stable rate", "error", err, "sender_id", senderID)
		}
	}
}

func setupRoutes(g *fastglue.Fastglue, app *handlers.App) {
	// Health check
	g.GET("/health", app.HealthCheck)
	g.GET("/ready", app.ReadyCheck)

	// Webhook routes (public - for Meta)
	g.GET("/api/webhook", app.WebhookVerify)
	g.POST("/api/webhook", app.WebhookHandler)

	// Campaigns (authentication is handled by the fronting API gateway)
	g.GET("/api/campaigns", app.ListCampaigns)
	g.POST("/api/campaigns", app.CreateCampaign)
	g.GET("/api/campaigns/{id}", app.GetCampaign)
	g.DELETE("/api/campaigns/{id}", app.DeleteCampaign)
	g.POST("/api/campaigns/{id}/stop", app.StopCampaign)
	g.POST("/api/campaigns/{id}/resume", app.ResumeCampaign)
	g.POST("/api/campaigns/{id}/retry-failed", app.RetryFailedCampaign)
	g.GET("/api/campaigns/{id}/stats", app.GetCampaignStats)
	g.GET("/api/campaigns/{id}/contacts", app.GetCampaignContacts)

	// Notifications
	g.GET("/api/notifications", app.ListNotifications)
	g.PUT("/api/notifications/{id}/read", app.MarkNotificationRead)
}
