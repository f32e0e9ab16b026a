package events

import (
	"context"
	"fmt"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/zerodha/logf"
	"gorm.io/gorm"
)

// Notifier persists operator notifications and mirrors them onto the event
// stream. The notification row is the durable record; the publish is
// best-effort.
type Notifier struct {
	DB        *gorm.DB
	Publisher *Publisher
	Log       logf.Logger
}

// NewNotifier creates a Notifier
func NewNotifier(db *gorm.DB, pub *Publisher, log logf.Logger) *Notifier {
	return &Notifier{DB: db, Publisher: pub, Log: log}
}

// CampaignCompleted emits the campaign-completed notification
func (n *Notifier) CampaignCompleted(ctx context.Context, campaign *models.Campaign) {
	n.emit(ctx, campaign, models.NotificationCampaignCompleted,
		fmt.Sprintf("Campaign %q completed", campaign.Name),
		fmt.Sprintf("%d sent, %d failed of %d contacts", campaign.TotalSent, campaign.TotalFailed, campaign.TotalContacts),
	)
}

// CampaignFailed emits the campaign-failed notification
func (n *Notifier) CampaignFailed(ctx context.Context, campaign *models.Campaign, reason string) {
	n.emit(ctx, campaign, models.NotificationCampaignFailed,
		fmt.Sprintf("Campaign %q failed", campaign.Name),
		reason,
	)
}

// SpamPaused emits the campaign-spam-paused notification
func (n *Notifier) SpamPaused(ctx context.Context, campaign *models.Campaign, reason string) {
	n.emit(ctx, campaign, models.NotificationSpamPaused,
		fmt.Sprintf("Campaign %q paused", campaign.Name),
		reason,
	)
}

func (n *Notifier) emit(ctx context.Context, campaign *models.Campaign, notifType, title, body string) {
	campaignID := campaign.ID
	senderID := campaign.SenderID

	notification := models.Notification{
		Type:       notifType,
		CampaignID: &campaignID,
		SenderID:   &senderID,
		Title:      title,
		Body:       body,
	}
	if err := n.DB.WithContext(ctx).Create(&notification).Error; err != nil {
		n.Log.Error("Failed to create notification", "error", err, "type", notifType, "campaign_id", campaignID)
	}

	_ = n.Publisher.PublishCampaignEvent(ctx, &CampaignEvent{
		CampaignID:     campaignID.String(),
		SenderID:       senderID.String(),
		Status:         string(campaign.Status),
		TotalSent:      campaign.TotalSent,
		TotalFailed:    campaign.TotalFailed,
		TotalDelivered: campaign.TotalDelivered,
		TotalRead:      campaign.TotalRead,
		Reason:         body,
	})
}
