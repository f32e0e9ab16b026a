package handlers

import (
	"sync"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/events"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"github.com/redis/go-redis/v9"
	"github.com/zerodha/fastglue"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

// App holds all dependencies for handlers
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Log       logf.Logger
	WhatsApp  *whatsapp.Client
	Campaigns *campaigns.Service
	Notifier  *events.Notifier

	// wg tracks background goroutines for graceful shutdown
	wg sync.WaitGroup
}

// WaitForBackgroundTasks blocks until all background goroutines complete.
// Call this during graceful shutdown so in-flight webhook processing finishes.
func (a *App) WaitForBackgroundTasks() {
	a.wg.Wait()
}

// HealthCheck returns server health status
func (a *App) HealthCheck(r *fastglue.Request) error {
	return r.SendEnvelope(map[string]string{
		"status":  "ok",
		"service": "bulkwave",
	})
}

// ReadyCheck returns server readiness status
func (a *App) ReadyCheck(r *fastglue.Request) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return r.SendErrorEnvelope(500, "Database connection error", nil, "")
	}
	if err := sqlDB.Ping(); err != nil {
		return r.SendErrorEnvelope(500, "Database ping failed", nil, "")
	}

	if a.Redis != nil {
		if err := a.Redis.Ping(r.RequestCtx).Err(); err != nil {
			return r.SendErrorEnvelope(500, "Redis connection error", nil, "")
		}
	}

	return r.SendEnvelope(map[string]string{
		"status": "ready",
	})
}
