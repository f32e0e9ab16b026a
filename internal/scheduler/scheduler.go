package scheduler

import (
	"context"
	"time"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

// Scheduler is the periodic sweep that starts due scheduled campaigns and
// expires first-offense spam pauses. It can run alongside the processor or
// as its own process.
type Scheduler struct {
	Config    *config.Config
	DB        *gorm.DB
	Log       logf.Logger
	Campaigns *campaigns.Service
}

// New creates a Scheduler
func New(cfg *config.Config, db *gorm.DB, log logf.Logger, svc *campaigns.Service) *Scheduler {
	return &Scheduler{Config: cfg, DB: db, Log: log, Campaigns: svc}
}

// Run ticks until the context is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.Config.Engine.SchedulerIntervalSeconds) * time.Second
	s.Log.Info("Scheduler starting", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one sweep
func (s *Scheduler) Tick(ctx context.Context) {
	s.startDueCampaigns(ctx)
	s.resumeSpamPaused(ctx)
}

// startDueCampaigns materializes and starts scheduled campaigns whose start
// time has arrived
func (s *Scheduler) startDueCampaigns(ctx context.Context) {
	now := time.Now().UTC()

	var due []models.Campaign
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND scheduled_start_time <= ?", models.CampaignStatusScheduled, now).
		Find(&due).Error; err != nil {
		s.Log.Error("Failed to list due campaigns", "error", err)
		return
	}

	for i := range due {
		if err := s.Campaigns.StartScheduled(ctx, &due[i]); err != nil {
			s.Log.Error("Failed to start scheduled campaign", "error", err, "campaign_id", due[i].ID)
			continue
		}
		s.Log.Info("Scheduled campaign started", "campaign_id", due[i].ID, "name", due[i].Name)
	}
}

// resumeSpamPaused auto-resumes first-offense spam pauses whose window has
// passed. The spam flags on the campaign's rows are cleared so the spam
// window counter restarts from zero.
func (s *Scheduler) resumeSpamPaused(ctx context.Context) {
	now := time.Now().UTC()

	var paused []models.Campaign
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND spam_pause_count = ? AND spam_paused_until IS NOT NULL AND spam_paused_until <= ?",
			models.CampaignStatusPaused, 1, now).
		Find(&paused).Error; err != nil {
		s.Log.Error("Failed to list spam-paused campaigns", "error", err)
		return
	}

	for i := range paused {
		campaign := &paused[i]

		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Campaign{}).
				Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusPaused).
				Updates(map[string]interface{}{
					"status":            models.CampaignStatusRunning,
					"spam_paused_until": nil,
					"pause_reason":      "",
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			return tx.Model(&models.SendQueueEntry{}).
				Where("campaign_id = ? AND spam_error_detected = ?", campaign.ID, true).
				Update("spam_error_detected", false).Error
		})
		if err != nil {
			s.Log.Error("Failed to resume spam-paused campaign", "error", err, "campaign_id", campaign.ID)
			continue
		}
		s.Log.Info("Campaign auto-resumed after spam pause", "campaign_id", campaign.ID, "name", campaign.Name)
	}
}
