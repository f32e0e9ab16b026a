package processor

import (
	"context"
	"sync"
	"time"

	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/events"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/internal/ratelimit"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

// Processor drives send queue entries to terminal state under the
// sequential-template and rate-control invariants. One worker goroutine runs
// per active campaign; the shared database queue is the only mutable state
// between workers, claimed with conditional updates.
type Processor struct {
	Config   *config.Config
	DB       *gorm.DB
	Log      logf.Logger
	WhatsApp *whatsapp.Client
	Rate     *ratelimit.Controller
	Notifier *events.Notifier

	mu      sync.Mutex
	active  map[uuid.UUID]bool
	wg      sync.WaitGroup
	workers chan struct{}
}

// New creates a Processor
func New(cfg *config.Config, db *gorm.DB, log logf.Logger, wa *whatsapp.Client, rate *ratelimit.Controller, notifier *events.Notifier) *Processor {
	return &Processor{
		Config:   cfg,
		DB:       db,
		Log:      log,
		WhatsApp: wa,
		Rate:     rate,
		Notifier: notifier,
		active:   make(map[uuid.UUID]bool),
		workers:  make(chan struct{}, cfg.Engine.MaxWorkers),
	}
}

// Run supervises campaign workers until the context is cancelled. Each
// running campaign gets its own polling worker; finished workers free their
// slot for other campaigns.
func (p *Processor) Run(ctx context.Context) error {
	p.Log.Info("Queue processor starting", "max_workers", p.Config.Engine.MaxWorkers)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	reaper := time.NewTicker(time.Minute)
	defer reaper.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.Log.Info("Queue processor stopped")
			return nil
		case <-reaper.C:
			p.reapStuckEntries(ctx)
		case <-ticker.C:
			p.spawnWorkers(ctx)
		}
	}
}

// spawnWorkers starts a worker for every running, unpaused campaign that
// doesn't already have one.
func (p *Processor) spawnWorkers(ctx context.Context) {
	now := time.Now().UTC()

	var campaigns []models.Campaign
	if err := p.DB.WithContext(ctx).
		Where("status = ?", models.CampaignStatusRunning).
		Where("spam_paused_until IS NULL OR spam_paused_until <= ?", now).
		Find(&campaigns).Error; err != nil {
		p.Log.Error("Failed to list running campaigns", "error", err)
		return
	}

	for _, campaign := range campaigns {
		id := campaign.ID

		p.mu.Lock()
		if p.active[id] {
			p.mu.Unlock()
			continue
		}

		select {
		case p.workers <- struct{}{}:
		default:
			p.mu.Unlock()
			return // pool exhausted, try next tick
		}
		p.active[id] = true
		p.mu.Unlock()

		p.wg.Add(1)
		go func() {
			defer func() {
				p.mu.Lock()
				delete(p.active, id)
				p.mu.Unlock()
				<-p.workers
				p.wg.Done()
			}()
			p.runCampaign(ctx, id)
		}()
	}
}

// runCampaign is the polling loop for one campaign. It exits when the
// campaign leaves the running state; the supervisor restarts it if the
// campaign comes back.
func (p *Processor) runCampaign(ctx context.Context, campaignID uuid.UUID) {
	p.Log.Info("Campaign worker started", "campaign_id", campaignID)

	ticker := time.NewTicker(time.Duration(p.Config.Engine.TickMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var campaign models.Campaign
		if err := p.DB.WithContext(ctx).Preload("Sender").First(&campaign, "id = ?", campaignID).Error; err != nil {
			p.Log.Error("Failed to load campaign", "error", err, "campaign_id", campaignID)
			return
		}

		if campaign.Status != models.CampaignStatusRunning {
			p.Log.Info("Campaign no longer running, worker exiting", "campaign_id", campaignID, "status", campaign.Status)
			return
		}
		if campaign.SpamPausedUntil != nil && campaign.SpamPausedUntil.After(time.Now().UTC()) {
			return
		}
		if campaign.Sender == nil {
			p.Log.Error("Campaign has no sender, marking failed", "campaign_id", campaignID)
			p.failCampaign(ctx, &campaign, "sender configuration missing")
			return
		}

		p.Rate.Configure(campaign.SenderID, campaign.Sender.MaxSendRatePerSec)

		entries, err := p.claimBatch(ctx, &campaign)
		if err != nil {
			p.Log.Error("Failed to claim batch", "error", err, "campaign_id", campaignID)
			continue // database hiccup, back off to next tick
		}

		if len(entries) == 0 {
			p.advanceTemplateIndex(ctx, &campaign)
			if done := p.checkCompletion(ctx, campaignID); done {
				return
			}
			continue
		}

		templates, err := p.loadTemplates(ctx, &campaign)
		if err != nil {
			p.Log.Error("Failed to load templates", "error", err, "campaign_id", campaignID)
			p.releaseEntries(ctx, entries)
			continue
		}

		for i := range entries {
			if ctx.Err() != nil {
				return
			}
			outcome := p.processEntry(ctx, &campaign, templates, &entries[i])
			if outcome == whatsapp.OutcomeAuthFatal {
				p.failCampaign(ctx, &campaign, "provider rejected credentials")
				return
			}
		}

		p.checkSpamPause(ctx, &campaign)
		if done := p.checkCompletion(ctx, campaignID); done {
			return
		}
	}
}

// loadTemplates fetches the campaign's templates keyed by name
func (p *Processor) loadTemplates(ctx context.Context, campaign *models.Campaign) (map[string]*models.Template, error) {
	var rows []models.Template
	if err := p.DB.WithContext(ctx).
		Where("sender_id = ? AND name IN ?", campaign.SenderID, []string(campaign.TemplateNames)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	templates := make(map[string]*models.Template, len(rows))
	for i := range rows {
		templates[rows[i].Name] = &rows[i]
	}
	return templates, nil
}

// releaseEntries puts claimed entries back to ready after an internal error,
// without consuming a retry.
func (p *Processor) releaseEntries(ctx context.Context, entries []models.SendQueueEntry) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if err := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("id IN ? AND status = ?", ids, models.QueueStatusProcessing).
		Update("status", models.QueueStatusReady).Error; err != nil {
		p.Log.Error("Failed to release claimed entries", "error", err)
	}
}

// failCampaign transitions a campaign to failed on an unrecoverable error
func (p *Processor) failCampaign(ctx context.Context, campaign *models.Campaign, reason string) {
	now := time.Now().UTC()
	res := p.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusFailed,
			"end_time":     now,
			"pause_reason": reason,
		})
	if res.Error != nil {
		p.Log.Error("Failed to mark campaign failed", "error", res.Error, "campaign_id", campaign.ID)
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	campaign.Status = models.CampaignStatusFailed
	p.Log.Error("Campaign failed", "campaign_id", campaign.ID, "reason", reason)
	p.Notifier.CampaignFailed(ctx, campaign, reason)
}

// checkCompletion marks a campaign completed once no queue rows remain open
// and every contact is accounted for. The conditional status update
// guarantees the completion notification fires exactly once.
func (p *Processor) checkCompletion(ctx context.Context, campaignID uuid.UUID) bool {
	var open int64
	if err := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("campaign_id = ? AND status IN ?", campaignID,
			[]models.QueueStatus{models.QueueStatusReady, models.QueueStatusProcessing}).
		Count(&open).Error; err != nil {
		p.Log.Error("Failed to count open entries", "error", err, "campaign_id", campaignID)
		return false
	}
	if open > 0 {
		return false
	}

	var campaign models.Campaign
	if err := p.DB.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return false
	}
	if campaign.TotalSent+campaign.TotalFailed < campaign.TotalContacts {
		return false
	}

	now := time.Now().UTC()
	res := p.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusRunning).
		Updates(map[string]interface{}{
			"status":   models.CampaignStatusCompleted,
			"end_time": now,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return res.Error == nil && campaign.Status.IsTerminal()
	}

	campaign.Status = models.CampaignStatusCompleted
	campaign.EndTime = &now
	p.Log.Info("Campaign completed", "campaign_id", campaignID, "sent", campaign.TotalSent, "failed", campaign.TotalFailed)
	p.Notifier.CampaignCompleted(ctx, &campaign)
	return true
}

// reapStuckEntries reclaims processing rows older than the grace period.
// Rows get stuck when a worker dies between claim and persist.
func (p *Processor) reapStuckEntries(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-time.Duration(p.Config.Engine.ProcessingGraceMinutes) * time.Minute)

	res := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("status = ? AND updated_at < ?", models.QueueStatusProcessing, cutoff).
		Update("status", models.QueueStatusReady)
	if res.Error != nil {
		p.Log.Error("Reaper failed", "error", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		p.Log.Warn("Reclaimed stuck queue entries", "count", res.RowsAffected)
	}
}
