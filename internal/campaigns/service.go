package campaigns

import (
	"context"
	"fmt"
	"time"

	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/google/uuid"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

// Service implements campaign orchestration: create, stop, resume, delete
// and retry-failed. All mutations of the queue beyond these operations
// belong to the processor.
type Service struct {
	Config *config.Config
	DB     *gorm.DB
	Log    logf.Logger
}

// NewService creates a Service
func NewService(cfg *config.Config, db *gorm.DB, log logf.Logger) *Service {
	return &Service{Config: cfg, DB: db, Log: log}
}

// CreateParams are the inputs for creating a campaign
type CreateParams struct {
	Name               string
	SenderID           uuid.UUID
	TemplateNames      []string
	CSV                []byte
	ScheduledStartTime *time.Time
}

// ValidationError is a synchronous create-time rejection
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Create validates the template list and contact CSV, distributes valid
// contacts round-robin across the templates, and persists the campaign with
// its contacts and queue entries in one transaction. Scheduled campaigns
// defer queue materialization to the scheduler tick.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Campaign, error) {
	if params.Name == "" {
		return nil, &ValidationError{Reason: "campaign name is required"}
	}
	if len(params.TemplateNames) == 0 {
		return nil, &ValidationError{Reason: "at least one template is required"}
	}

	var sender models.Sender
	if err := s.DB.WithContext(ctx).First(&sender, "id = ?", params.SenderID).Error; err != nil {
		return nil, &ValidationError{Reason: "sender not found"}
	}
	if !sender.IsActive {
		return nil, &ValidationError{Reason: "sender is not active"}
	}

	// Every listed template must be eligible for bulk sends.
	for _, name := range params.TemplateNames {
		var template models.Template
		if err := s.DB.WithContext(ctx).
			Where("sender_id = ? AND name = ?", params.SenderID, name).
			First(&template).Error; err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("template %q not found on sender", name)}
		}
		if !template.EligibleForCampaign() {
			return nil, &ValidationError{Reason: fmt.Sprintf("template %q is not eligible for campaigns", name)}
		}
	}

	rows, err := ParseContactsCSV(params.CSV)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if len(rows) == 0 {
		return nil, &ValidationError{Reason: "csv contains no contacts"}
	}

	// Split into valid and invalid, assigning templates round-robin over the
	// valid contacts only: valid contact i goes to template i mod k.
	contacts := make([]models.CampaignContact, 0, len(rows))
	validCount := 0
	for _, row := range rows {
		phone, reason := ValidatePhone(row.Phone, &s.Config.Phone)
		contact := models.CampaignContact{
			Phone:     row.Phone,
			Variables: row.Variables,
		}
		if reason != "" {
			contact.IsValid = false
			contact.InvalidReason = reason
		} else {
			contact.IsValid = true
			contact.Phone = phone
			contact.TemplateName = params.TemplateNames[validCount%len(params.TemplateNames)]
			validCount++
		}
		contacts = append(contacts, contact)
	}
	if validCount == 0 {
		return nil, &ValidationError{Reason: "csv contains no valid contacts"}
	}

	templateOrder := make(map[string]int, len(params.TemplateNames))
	for i, name := range params.TemplateNames {
		templateOrder[name] = i
	}

	status := models.CampaignStatusRunning
	var startTime *time.Time
	if params.ScheduledStartTime != nil {
		status = models.CampaignStatusScheduled
	} else {
		now := time.Now().UTC()
		startTime = &now
	}

	campaign := models.Campaign{
		SenderID:             params.SenderID,
		Name:                 params.Name,
		TemplateNames:        params.TemplateNames,
		Status:               status,
		TotalContacts:        validCount,
		InvalidContactsCount: len(contacts) - validCount,
		ScheduledStartTime:   params.ScheduledStartTime,
		StartTime:            startTime,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}

		for i := range contacts {
			contacts[i].CampaignID = campaign.ID
		}
		if err := tx.CreateInBatches(contacts, 500).Error; err != nil {
			return fmt.Errorf("failed to create contacts: %w", err)
		}

		// Scheduled campaigns materialize their queue at start time.
		if status == models.CampaignStatusScheduled {
			return nil
		}

		entries := buildQueueEntries(&campaign, contacts, templateOrder)
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("failed to create queue entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("Campaign created",
		"campaign_id", campaign.ID,
		"name", campaign.Name,
		"contacts", validCount,
		"invalid", campaign.InvalidContactsCount,
		"templates", len(params.TemplateNames),
		"scheduled", status == models.CampaignStatusScheduled,
	)
	return &campaign, nil
}

// buildQueueEntries materializes send queue rows from valid contacts
func buildQueueEntries(campaign *models.Campaign, contacts []models.CampaignContact, templateOrder map[string]int) []models.SendQueueEntry {
	entries := make([]models.SendQueueEntry, 0, len(contacts))
	for _, contact := range contacts {
		if !contact.IsValid {
			continue
		}
		entries = append(entries, models.SendQueueEntry{
			CampaignID:    campaign.ID,
			SenderID:      campaign.SenderID,
			TemplateName:  contact.TemplateName,
			TemplateOrder: templateOrder[contact.TemplateName],
			Phone:         contact.Phone,
			Payload:       contact.Variables,
			Status:        models.QueueStatusReady,
		})
	}
	return entries
}

// StartScheduled transitions a due scheduled campaign to running and
// materializes its queue entries from the stored contacts. The conditional
// status flip keeps two scheduler processes from materializing twice.
func (s *Service) StartScheduled(ctx context.Context, campaign *models.Campaign) error {
	templateOrder := make(map[string]int, len(campaign.TemplateNames))
	for i, name := range campaign.TemplateNames {
		templateOrder[name] = i
	}

	now := time.Now().UTC()
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Campaign{}).
			Where("id = ? AND status = ?", campaign.ID, models.CampaignStatusScheduled).
			Updates(map[string]interface{}{
				"status":     models.CampaignStatusRunning,
				"start_time": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // another scheduler got here first
		}

		var contacts []models.CampaignContact
		if err := tx.
			Where("campaign_id = ? AND is_valid = ?", campaign.ID, true).
			Order("created_at ASC").
			Find(&contacts).Error; err != nil {
			return fmt.Errorf("failed to load contacts: %w", err)
		}

		entries := buildQueueEntries(campaign, contacts, templateOrder)
		if len(entries) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return fmt.Errorf("failed to create queue entries: %w", err)
		}
		return nil
	})
}

// Stop pauses a running campaign. In-flight sends finish; no new rows are
// claimed once the status change lands.
func (s *Service) Stop(ctx context.Context, campaignID uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusPaused,
			"pause_reason": "stopped by operator",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ValidationError{Reason: "campaign is not running"}
	}

	s.Log.Info("Campaign stopped", "campaign_id", campaignID)
	return nil
}

// Resume restores a paused campaign to running and clears any spam pause
func (s *Service) Resume(ctx context.Context, campaignID uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", campaignID, models.CampaignStatusPaused).
		Updates(map[string]interface{}{
			"status":            models.CampaignStatusRunning,
			"spam_paused_until": nil,
			"pause_reason":      "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &ValidationError{Reason: "campaign is not paused"}
	}

	s.Log.Info("Campaign resumed", "campaign_id", campaignID)
	return nil
}

// Delete removes a non-running campaign and cascades to its contacts and
// queue entries
func (s *Service) Delete(ctx context.Context, campaignID uuid.UUID) error {
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return &ValidationError{Reason: "campaign not found"}
	}
	if campaign.Status == models.CampaignStatusRunning {
		return &ValidationError{Reason: "cannot delete a running campaign"}
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&models.SendQueueEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("campaign_id = ?", campaignID).Delete(&models.CampaignContact{}).Error; err != nil {
			return err
		}
		return tx.Delete(&campaign).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	s.Log.Info("Campaign deleted", "campaign_id", campaignID)
	return nil
}

// RetryFailed re-queues terminally failed rows for a fresh attempt cycle
func (s *Service) RetryFailed(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return 0, &ValidationError{Reason: "campaign not found"}
	}

	res := s.DB.WithContext(ctx).Model(&models.SendQueueEntry{}).
		Where("campaign_id = ? AND status = ?", campaignID, models.QueueStatusFailed).
		Updates(map[string]interface{}{
			"status":              models.QueueStatusReady,
			"retry_count":         0,
			"next_retry_at":       nil,
			"spam_error_detected": false,
			"error_message":       "",
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		// Re-queued rows are no longer failed; keep the counter consistent
		// so it matches the failed row count when the campaign finishes again.
		if err := s.DB.WithContext(ctx).Model(&models.Campaign{}).
			Where("id = ?", campaignID).
			Update("total_failed", gorm.Expr("GREATEST(total_failed - ?, 0)", res.RowsAffected)).Error; err != nil {
			return res.RowsAffected, err
		}

		// A finished campaign picks the re-queued rows back up.
		if campaign.Status.IsTerminal() {
			if err := s.DB.WithContext(ctx).Model(&models.Campaign{}).
				Where("id = ?", campaignID).
				Updates(map[string]interface{}{
					"status":   models.CampaignStatusRunning,
					"end_time": nil,
				}).Error; err != nil {
				return res.RowsAffected, err
			}
		}
	}

	s.Log.Info("Re-queued failed entries", "campaign_id", campaignID, "count", res.RowsAffected)
	return res.RowsAffected, nil
}
