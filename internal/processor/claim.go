package processor

import (
	"context"
	"time"

	"github.com/bulkwave/bulkwave/internal/models"
)

// claimBatch atomically flips eligible ready rows to processing and returns
// them. Eligibility enforces the sequential-template invariant: first
// attempts (retry_count = 0) only at the campaign's current template index,
// retries at the current or any earlier index. FOR UPDATE SKIP LOCKED keeps
// concurrent claimers from fighting over the same rows.
func (p *Processor) claimBatch(ctx context.Context, campaign *models.Campaign) ([]models.SendQueueEntry, error) {
	now := time.Now().UTC()

	var entries []models.SendQueueEntry
	err := p.DB.WithContext(ctx).Raw(`
		UPDATE send_queue_entries
		SET status = 'processing', updated_at = ?
		WHERE id IN (
			SELECT id FROM send_queue_entries
			WHERE campaign_id = ?
			  AND status = 'ready'
			  AND (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (
			        (retry_count = 0 AND template_order = ?)
			     OR (retry_count > 0 AND template_order <= ?)
			  )
			ORDER BY template_order ASC, created_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		now,
		campaign.ID,
		now,
		campaign.CurrentTemplateIndex,
		campaign.CurrentTemplateIndex,
		p.Config.Engine.BatchSize,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// advanceTemplateIndex moves the campaign to the next template once no
// first-attempt rows at the current index remain ready or in flight
// (processing). Retries of the
// current template do not block advancement. The update is conditional on
// the observed index so concurrent advances cannot skip a template.
func (p *Processor) advanceTemplateIndex(ctx context.Context, campaign *models.Campaign) {
	idx := campaign.CurrentTemplateIndex
	if idx >= len(campaign.TemplateNames)-1 {
		return
	}

	var pending int64
	if err := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("campaign_id = ? AND template_order = ? AND retry_count = 0 AND status IN ?",
			campaign.ID, idx,
			[]models.QueueStatus{models.QueueStatusReady, models.QueueStatusProcessing}).
		Count(&pending).Error; err != nil {
		p.Log.Error("Failed to count pending first attempts", "error", err, "campaign_id", campaign.ID)
		return
	}
	if pending > 0 {
		return
	}

	res := p.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND current_template_index = ?", campaign.ID, idx).
		Update("current_template_index", idx+1)
	if res.Error != nil {
		p.Log.Error("Failed to advance template index", "error", res.Error, "campaign_id", campaign.ID)
		return
	}
	if res.RowsAffected > 0 {
		campaign.CurrentTemplateIndex = idx + 1
		p.Log.Info("Advanced campaign template",
			"campaign_id", campaign.ID,
			"template_index", idx+1,
			"template", campaign.TemplateNames[idx+1],
		)
	}
}
