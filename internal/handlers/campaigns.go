package handlers

import (
	"errors"
	"time"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
)

// CampaignRequest represents a campaign create request. The CSV is passed
// inline: first column phone, remaining named columns template variables.
type CampaignRequest struct {
	Name               string     `json:"name"`
	SenderID           string     `json:"sender_id"`
	TemplateNames      []string   `json:"template_names"`
	CSVData            string     `json:"csv_data"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
}

// CampaignResponse represents a campaign in API responses
type CampaignResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 string     `json:"name"`
	SenderID             uuid.UUID  `json:"sender_id"`
	TemplateNames        []string   `json:"template_names"`
	Status               string     `json:"status"`
	TotalContacts        int        `json:"total_contacts"`
	InvalidContactsCount int        `json:"invalid_contacts_count"`
	TotalSent            int        `json:"total_sent"`
	TotalFailed          int        `json:"total_failed"`
	TotalDelivered       int        `json:"total_delivered"`
	TotalRead            int        `json:"total_read"`
	TotalReplied         int        `json:"total_replied"`
	CurrentTemplateIndex int        `json:"current_template_index"`
	SpamPauseCount       int        `json:"spam_pause_count"`
	SpamPausedUntil      *time.Time `json:"spam_paused_until,omitempty"`
	PauseReason          string     `json:"pause_reason,omitempty"`
	ScheduledStartTime   *time.Time `json:"scheduled_start_time,omitempty"`
	StartTime            *time.Time `json:"start_time,omitempty"`
	EndTime              *time.Time `json:"end_time,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func campaignResponse(c *models.Campaign) CampaignResponse {
	return CampaignResponse{
		ID:                   c.ID,
		Name:                 c.Name,
		SenderID:             c.SenderID,
		TemplateNames:        c.TemplateNames,
		Status:               string(c.Status),
		TotalContacts:        c.TotalContacts,
		InvalidContactsCount: c.InvalidContactsCount,
		TotalSent:            c.TotalSent,
		TotalFailed:          c.TotalFailed,
		TotalDelivered:       c.TotalDelivered,
		TotalRead:            c.TotalRead,
		TotalReplied:         c.TotalReplied,
		CurrentTemplateIndex: c.CurrentTemplateIndex,
		SpamPauseCount:       c.SpamPauseCount,
		SpamPausedUntil:      c.SpamPausedUntil,
		PauseReason:          c.PauseReason,
		ScheduledStartTime:   c.ScheduledStartTime,
		StartTime:            c.StartTime,
		EndTime:              c.EndTime,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// campaignIDParam parses the campaign id path parameter
func campaignIDParam(r *fastglue.Request) (uuid.UUID, bool) {
	raw, _ := r.RequestCtx.UserValue("id").(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// sendServiceError maps service errors onto API responses
func sendServiceError(r *fastglue.Request, err error) error {
	var vErr *campaigns.ValidationError
	if errors.As(err, &vErr) {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, vErr.Reason, nil, "")
	}
	return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Internal error", nil, "")
}

// ListCampaigns implements campaign listing
func (a *App) ListCampaigns(r *fastglue.Request) error {
	status := string(r.RequestCtx.QueryArgs().Peek("status"))
	senderID := string(r.RequestCtx.QueryArgs().Peek("sender_id"))

	query := a.DB.Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if senderID != "" {
		query = query.Where("sender_id = ?", senderID)
	}

	var rows []models.Campaign
	if err := query.Find(&rows).Error; err != nil {
		a.Log.Error("Failed to list campaigns", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to list campaigns", nil, "")
	}

	response := make([]CampaignResponse, len(rows))
	for i := range rows {
		response[i] = campaignResponse(&rows[i])
	}

	return r.SendEnvelope(map[string]interface{}{
		"campaigns": response,
		"total":     len(response),
	})
}

// CreateCampaign implements campaign creation from CSV input
func (a *App) CreateCampaign(r *fastglue.Request) error {
	var req CampaignRequest
	if err := r.Decode(&req, "json"); err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid request body", nil, "")
	}

	senderID, err := uuid.Parse(req.SenderID)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid sender ID", nil, "")
	}

	campaign, err := a.Campaigns.Create(r.RequestCtx, campaigns.CreateParams{
		Name:               req.Name,
		SenderID:           senderID,
		TemplateNames:      req.TemplateNames,
		CSV:                []byte(req.CSVData),
		ScheduledStartTime: req.ScheduledStartTime,
	})
	if err != nil {
		a.Log.Error("Failed to create campaign", "error", err, "name", req.Name)
		return sendServiceError(r, err)
	}

	return r.SendEnvelope(campaignResponse(campaign))
}

// GetCampaign implements getting a single campaign
func (a *App) GetCampaign(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	var campaign models.Campaign
	if err := a.DB.First(&campaign, "id = ?", id).Error; err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusNotFound, "Campaign not found", nil, "")
	}

	return r.SendEnvelope(campaignResponse(&campaign))
}

// StopCampaign pauses a running campaign
func (a *App) StopCampaign(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Campaigns.Stop(r.RequestCtx, id); err != nil {
		return sendServiceError(r, err)
	}
	return r.SendEnvelope(map[string]string{"message": "Campaign stopped", "status": "paused"})
}

// ResumeCampaign restores a paused campaign to running
func (a *App) ResumeCampaign(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Campaigns.Resume(r.RequestCtx, id); err != nil {
		return sendServiceError(r, err)
	}
	return r.SendEnvelope(map[string]string{"message": "Campaign resumed", "status": "running"})
}

// DeleteCampaign removes a non-running campaign with its contacts and queue
func (a *App) DeleteCampaign(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	if err := a.Campaigns.Delete(r.RequestCtx, id); err != nil {
		return sendServiceError(r, err)
	}
	return r.SendEnvelope(map[string]string{"message": "Campaign deleted"})
}

// RetryFailedCampaign re-queues a campaign's failed entries
func (a *App) RetryFailedCampaign(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	count, err := a.Campaigns.RetryFailed(r.RequestCtx, id)
	if err != nil {
		return sendServiceError(r, err)
	}
	return r.SendEnvelope(map[string]interface{}{
		"message":       "Failed entries re-queued",
		"requeue_count": count,
	})
}

// GetCampaignStats returns the canonical per-template statistics
func (a *App) GetCampaignStats(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	stats, err := a.Campaigns.TemplateStatsForCampaign(r.RequestCtx, id)
	if err != nil {
		return sendServiceError(r, err)
	}
	return r.SendEnvelope(map[string]interface{}{
		"campaign_id": id,
		"templates":   stats,
	})
}

// GetCampaignContacts lists a campaign's parsed contacts
func (a *App) GetCampaignContacts(r *fastglue.Request) error {
	id, ok := campaignIDParam(r)
	if !ok {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid campaign ID", nil, "")
	}

	var contacts []models.CampaignContact
	if err := a.DB.Where("campaign_id = ?", id).Order("created_at ASC").Find(&contacts).Error; err != nil {
		a.Log.Error("Failed to list contacts", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to list contacts", nil, "")
	}

	return r.SendEnvelope(map[string]interface{}{
		"contacts": contacts,
		"total":    len(contacts),
	})
}
