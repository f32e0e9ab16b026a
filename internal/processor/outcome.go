package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/internal/ratelimit"
	"github.com/bulkwave/bulkwave/internal/templateutil"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"gorm.io/gorm"
)

// processEntry dispatches one claimed entry through the rate controller and
// persists the outcome. Returns the classified outcome so the worker can
// react to campaign-fatal errors.
func (p *Processor) processEntry(ctx context.Context, campaign *models.Campaign, templates map[string]*models.Template, entry *models.SendQueueEntry) whatsapp.SendOutcome {
	template, ok := templates[entry.TemplateName]
	if !ok {
		p.persistPermanentFail(ctx, campaign, entry, fmt.Sprintf("template %q not found on sender", entry.TemplateName))
		return whatsapp.OutcomePermanentFail
	}

	if err := p.Rate.Acquire(ctx, campaign.SenderID); err != nil {
		// Shutdown while waiting for a token: leave the row claimed, the
		// reaper will return it to ready.
		return whatsapp.OutcomeTransientFail
	}

	account := &whatsapp.Account{
		PhoneID:     campaign.Sender.PhoneNumberID,
		BusinessID:  campaign.Sender.BusinessAccountID,
		APIVersion:  campaign.Sender.APIVersion,
		AccessToken: campaign.Sender.AccessToken,
	}

	bodyParams := templateutil.ResolveParams(template.BodyContent, entry.Payload)

	sendCtx, cancel := context.WithTimeout(ctx, time.Duration(p.Config.Engine.SendTimeoutSeconds)*time.Second)
	wamid, err := p.WhatsApp.SendTemplateMessage(sendCtx, account, entry.Phone, template.Name, template.Language, bodyParams)
	cancel()

	if err == nil {
		p.Rate.Observe(campaign.SenderID, ratelimit.OutcomeOK)
		p.persistSent(ctx, campaign, template, entry, wamid)
		return whatsapp.OutcomeOK
	}

	outcome := whatsapp.ClassifySendError(err)
	p.Rate.Observe(campaign.SenderID, rateOutcome(outcome))

	switch outcome {
	case whatsapp.OutcomeAuthFatal:
		p.persistPermanentFail(ctx, campaign, entry, err.Error())
	case whatsapp.OutcomePermanentFail:
		p.persistPermanentFail(ctx, campaign, entry, err.Error())
	case whatsapp.OutcomeSpamRateLimited:
		p.persistRetry(ctx, campaign, entry, err.Error(), true)
	default: // transient_fail, rate_limited
		p.persistRetry(ctx, campaign, entry, err.Error(), false)
	}

	return outcome
}

// rateOutcome maps a client outcome to the rate controller's observation
func rateOutcome(o whatsapp.SendOutcome) ratelimit.Outcome {
	switch o {
	case whatsapp.OutcomeOK:
		return ratelimit.OutcomeOK
	case whatsapp.OutcomeSpamRateLimited:
		return ratelimit.OutcomeSpamRateLimited
	case whatsapp.OutcomeRateLimited:
		return ratelimit.OutcomeRateLimited
	default:
		return ratelimit.OutcomeTransientFail
	}
}

// persistSent records a successful dispatch: the entry goes terminal sent,
// an outgoing message row is created with the WAMID, and the campaign's sent
// counter is incremented. A duplicate-WAMID violation means a previous
// attempt already landed this send; the entry is marked sent without
// counting it twice.
func (p *Processor) persistSent(ctx context.Context, campaign *models.Campaign, template *models.Template, entry *models.SendQueueEntry, wamid string) {
	now := time.Now().UTC()
	campaignID := campaign.ID

	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SendQueueEntry{}).
			Where("id = ? AND status = ?", entry.ID, models.QueueStatusProcessing).
			Updates(map[string]interface{}{
				"status":               models.QueueStatusSent,
				"whats_app_message_id": wamid,
				"actual_sent_at":       now,
				"sent_at":              now,
				"error_message":        "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // already resolved elsewhere, nothing to count
		}

		message := models.Message{
			SenderID:          campaign.SenderID,
			CampaignID:        &campaignID,
			UserPhone:         entry.Phone,
			Direction:         models.DirectionOutgoing,
			MessageType:       "template",
			TemplateName:      template.Name,
			MessageBody:       templateutil.Render(template.BodyContent, entry.Payload),
			WhatsAppMessageID: wamid,
			Status:            models.DeliverySent,
		}
		if err := tx.Create(&message).Error; err != nil {
			return err
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", campaign.ID).
			Update("total_sent", gorm.Expr("total_sent + 1")).Error
	})

	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The WAMID already exists: a crashed attempt persisted it
			// first. Mark the row sent without a second count.
			p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
				Where("id = ? AND status = ?", entry.ID, models.QueueStatusProcessing).
				Updates(map[string]interface{}{
					"status":  models.QueueStatusSent,
					"sent_at": now,
				})
			return
		}
		p.Log.Error("Failed to persist sent outcome", "error", err, "entry_id", entry.ID, "wamid", wamid)
		return
	}

	p.Log.Debug("Message sent", "campaign_id", campaign.ID, "phone", entry.Phone, "wamid", wamid)
}

// persistRetry schedules a failed attempt for retry with exponential backoff,
// or promotes it to a permanent failure once retries are exhausted. Spam
// failures additionally flag the row for the campaign-level pause check.
func (p *Processor) persistRetry(ctx context.Context, campaign *models.Campaign, entry *models.SendQueueEntry, errMsg string, spam bool) {
	retryCount := entry.RetryCount + 1

	// The attempt that exhausts the retry budget goes terminal immediately.
	if retryCount >= p.Config.Engine.MaxRetries {
		err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			updates := map[string]interface{}{
				"status":        models.QueueStatusFailed,
				"retry_count":   retryCount,
				"error_message": errMsg,
			}
			if spam {
				updates["spam_error_detected"] = true
			}
			res := tx.Model(&models.SendQueueEntry{}).
				Where("id = ? AND status = ?", entry.ID, models.QueueStatusProcessing).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}
			return tx.Model(&models.Campaign{}).
				Where("id = ?", campaign.ID).
				Update("total_failed", gorm.Expr("total_failed + 1")).Error
		})
		if err != nil {
			p.Log.Error("Failed to persist exhausted retry", "error", err, "entry_id", entry.ID)
			return
		}
		p.Log.Debug("Retries exhausted, message failed", "campaign_id", campaign.ID, "phone", entry.Phone, "retry_count", retryCount)
		return
	}
	delay := Backoff(retryCount,
		time.Duration(p.Config.Engine.BackoffBaseSeconds)*time.Second,
		time.Duration(p.Config.Engine.BackoffMaxSeconds)*time.Second,
	)
	nextRetry := time.Now().UTC().Add(delay)

	updates := map[string]interface{}{
		"status":        models.QueueStatusReady,
		"retry_count":   retryCount,
		"next_retry_at": nextRetry,
		"error_message": errMsg,
	}
	if spam {
		updates["spam_error_detected"] = true
	}

	if err := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.QueueStatusProcessing).
		Updates(updates).Error; err != nil {
		p.Log.Error("Failed to persist retry", "error", err, "entry_id", entry.ID)
		return
	}

	p.Log.Debug("Send attempt failed, scheduled retry",
		"campaign_id", campaign.ID,
		"phone", entry.Phone,
		"retry_count", retryCount,
		"next_retry_at", nextRetry,
		"spam", spam,
	)
}

// persistPermanentFail records a terminal failure and counts it
func (p *Processor) persistPermanentFail(ctx context.Context, campaign *models.Campaign, entry *models.SendQueueEntry, errMsg string) {
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SendQueueEntry{}).
			Where("id = ? AND status = ?", entry.ID, models.QueueStatusProcessing).
			Updates(map[string]interface{}{
				"status":        models.QueueStatusFailed,
				"error_message": errMsg,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Model(&models.Campaign{}).
			Where("id = ?", campaign.ID).
			Update("total_failed", gorm.Expr("total_failed + 1")).Error
	})
	if err != nil {
		p.Log.Error("Failed to persist failure", "error", err, "entry_id", entry.ID)
		return
	}

	p.Log.Debug("Message failed permanently", "campaign_id", campaign.ID, "phone", entry.Phone, "error", errMsg)
}

// checkSpamPause pauses the campaign when spam-rate errors accumulate past
// the threshold inside the window. First offense pauses with an automatic
// resume; a repeat offense pauses until an operator steps in.
func (p *Processor) checkSpamPause(ctx context.Context, campaign *models.Campaign) {
	windowStart := time.Now().UTC().Add(-time.Duration(p.Config.Engine.SpamWindowMinutes) * time.Minute)

	var spamCount int64
	if err := p.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("campaign_id = ? AND spam_error_detected = ? AND updated_at >= ?", campaign.ID, true, windowStart).
		Count(&spamCount).Error; err != nil {
		p.Log.Error("Failed to count spam errors", "error", err, "campaign_id", campaign.ID)
		return
	}
	if spamCount < int64(p.Config.Engine.SpamThreshold) {
		return
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status": models.CampaignStatusPaused,
	}

	var reason string
	if campaign.SpamPauseCount == 0 {
		resumeAt := now.Add(time.Duration(p.Config.Engine.SpamFirstPauseMinutes) * time.Minute)
		reason = fmt.Sprintf("Spam rate limit; auto-resume at %s", resumeAt.Format(time.RFC3339))
		updates["spam_pause_count"] = 1
		updates["spam_paused_until"] = resumeAt
	} else {
		reason = "Spam rate limit repeated; manual resume required"
		updates["spam_pause_count"] = campaign.SpamPauseCount + 1
		updates["spam_paused_until"] = nil
	}
	updates["pause_reason"] = reason

	res := p.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusRunning).
		Updates(updates)
	if res.Error != nil {
		p.Log.Error("Failed to pause campaign", "error", res.Error, "campaign_id", campaign.ID)
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	campaign.Status = models.CampaignStatusPaused
	campaign.PauseReason = reason
	p.Log.Warn("Campaign paused for spam rate errors",
		"campaign_id", campaign.ID,
		"spam_count", spamCount,
		"offense", campaign.SpamPauseCount+1,
	)
	p.Notifier.SpamPaused(ctx, campaign, reason)
}
