package campaigns

import (
	"context"
	"testing"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedStatsCampaign builds a campaign with resolved queue rows and status
// log events for aggregation tests
func seedStatsCampaign(t *testing.T, s *Service) *models.Campaign {
	t.Helper()

	sender := createSender(t, s.DB)
	createEligibleTemplate(t, s.DB, sender, "tpl_a")
	createEligibleTemplate(t, s.DB, sender, "tpl_b")

	campaign, err := s.Create(context.Background(), CreateParams{
		Name:          "Stats",
		SenderID:      sender.ID,
		TemplateNames: []string{"tpl_a", "tpl_b"},
		CSV:           contactsCSV(4),
	})
	require.NoError(t, err)

	var entries []models.SendQueueEntry
	require.NoError(t, s.DB.Where("campaign_id = ?", campaign.ID).
		Order("template_order ASC, created_at ASC").Find(&entries).Error)
	require.Len(t, entries, 4)

	// tpl_a: one sent+read, one sent+delivered. tpl_b: one sent (no events
	// beyond sent), one failed in queue.
	wamids := []string{"wamid.s1." + campaign.ID.String(), "wamid.s2." + campaign.ID.String(), "wamid.s3." + campaign.ID.String()}
	for i, entry := range entries[:3] {
		require.NoError(t, s.DB.Model(&models.SendQueueEntry{}).Where("id = ?", entry.ID).
			Updates(map[string]interface{}{
				"status":               models.QueueStatusSent,
				"whats_app_message_id": wamids[i],
			}).Error)
	}
	require.NoError(t, s.DB.Model(&models.SendQueueEntry{}).Where("id = ?", entries[3].ID).
		Update("status", models.QueueStatusFailed).Error)

	campaignID := campaign.ID
	logs := []models.MessageStatusLog{
		{WhatsAppMessageID: wamids[0], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliverySent},
		{WhatsAppMessageID: wamids[0], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliveryDelivered},
		{WhatsAppMessageID: wamids[0], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliveryRead},
		// Multi-device contradiction after read is ignored
		{WhatsAppMessageID: wamids[0], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliveryFailed},
		{WhatsAppMessageID: wamids[1], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliveryDelivered},
		{WhatsAppMessageID: wamids[2], CampaignID: &campaignID, SenderID: sender.ID, Status: models.DeliverySent},
	}
	require.NoError(t, s.DB.Create(&logs).Error)

	// One reply from the read contact
	require.NoError(t, s.DB.Create(&models.Message{
		SenderID:          sender.ID,
		UserPhone:         entries[0].Phone,
		Direction:         models.DirectionIncoming,
		MessageType:       "text",
		MessageBody:       "interested",
		WhatsAppMessageID: "wamid.in." + campaign.ID.String(),
	}).Error)

	return campaign
}

func TestTemplateStatsForCampaign(t *testing.T) {
	s := testService(t)
	campaign := seedStatsCampaign(t, s)

	stats, err := s.TemplateStatsForCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	a, b := stats[0], stats[1]
	assert.Equal(t, "tpl_a", a.TemplateName)
	assert.Equal(t, 2, a.Total)
	assert.Equal(t, 2, a.Sent)
	assert.Equal(t, 0, a.Failed)
	assert.Equal(t, 2, a.Delivered, "read implies delivered")
	assert.Equal(t, 1, a.Read)
	assert.Equal(t, 0, a.FailedRemote, "failed after read is a multi-device contradiction")
	assert.Equal(t, 1, a.UniqueReplies)

	assert.Equal(t, "tpl_b", b.TemplateName)
	assert.Equal(t, 2, b.Total)
	assert.Equal(t, 1, b.Sent)
	assert.Equal(t, 1, b.Failed)
	assert.Equal(t, 0, b.Delivered)
	assert.Equal(t, 0, b.Read)
}

func TestTemplateStats_IdempotentUnderReplay(t *testing.T) {
	s := testService(t)
	campaign := seedStatsCampaign(t, s)

	before, err := s.TemplateStatsForCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)

	// Replay every status event; the log grows but derived stats must not
	var logs []models.MessageStatusLog
	require.NoError(t, s.DB.Where("campaign_id = ?", campaign.ID).Find(&logs).Error)
	for _, logRow := range logs {
		replay := models.MessageStatusLog{
			WhatsAppMessageID: logRow.WhatsAppMessageID,
			CampaignID:        logRow.CampaignID,
			SenderID:          logRow.SenderID,
			Status:            logRow.Status,
		}
		require.NoError(t, s.DB.Create(&replay).Error)
	}

	after, err := s.TemplateStatsForCampaign(context.Background(), campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRefreshDerivedCounters(t *testing.T) {
	s := testService(t)
	campaign := seedStatsCampaign(t, s)

	require.NoError(t, s.RefreshDerivedCounters(context.Background(), campaign.ID))

	var reloaded models.Campaign
	require.NoError(t, s.DB.First(&reloaded, "id = ?", campaign.ID).Error)
	assert.Equal(t, 2, reloaded.TotalDelivered)
	assert.Equal(t, 1, reloaded.TotalRead)
	assert.Equal(t, 1, reloaded.TotalReplied)

	// Refreshing again is a no-op
	require.NoError(t, s.RefreshDerivedCounters(context.Background(), campaign.ID))
	require.NoError(t, s.DB.First(&reloaded, "id = ?", campaign.ID).Error)
	assert.Equal(t, 2, reloaded.TotalDelivered)
	assert.Equal(t, 1, reloaded.TotalRead)
}
