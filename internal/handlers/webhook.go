package handlers

import (
	"context"
	"time"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookVerify handles Meta's webhook verification challenge
func (a *App) WebhookVerify(r *fastglue.Request) error {
	mode := string(r.RequestCtx.QueryArgs().Peek("hub.mode"))
	token := string(r.RequestCtx.QueryArgs().Peek("hub.verify_token"))
	challenge := string(r.RequestCtx.QueryArgs().Peek("hub.challenge"))

	resp, err := whatsapp.VerifyWebhook(mode, token, challenge, a.Config.WhatsApp.WebhookVerifyToken)
	if err != nil {
		a.Log.Warn("Webhook verification failed", "mode", mode, "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusForbidden, "Verification failed", nil, "")
	}

	a.Log.Info("Webhook verified successfully")
	r.RequestCtx.SetStatusCode(fasthttp.StatusOK)
	r.RequestCtx.SetBodyString(resp)
	return nil
}

// WebhookHandler ingests webhook events from Meta. The signature is checked
// against the app secret of every sender the payload names; unverified
// bodies are dropped without leaking that to the caller. Verified payloads
// are acked immediately and processed in the background.
func (a *App) WebhookHandler(r *fastglue.Request) error {
	body := append([]byte(nil), r.RequestCtx.PostBody()...)
	signature := string(r.RequestCtx.Request.Header.Peek("X-Hub-Signature-256"))

	payload, err := whatsapp.ParseWebhook(body)
	if err != nil {
		a.Log.Warn("Failed to parse webhook payload", "error", err)
		return r.SendEnvelope(map[string]string{"status": "ok"})
	}

	sender, ok := a.verifyWebhookSender(payload, body, signature)
	if !ok {
		// Integrity boundary: unsigned or unverifiable payloads are dropped
		// silently so probes can't distinguish configured senders.
		a.Log.Warn("Dropping webhook with invalid signature")
		return r.SendEnvelope(map[string]string{"status": "ok"})
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.processWebhook(ctx, sender, payload)
	}()

	return r.SendEnvelope(map[string]string{"status": "ok"})
}

// verifyWebhookSender resolves the sender the payload belongs to by checking
// the HMAC signature against each candidate's app secret
func (a *App) verifyWebhookSender(payload *whatsapp.WebhookPayload, body []byte, signature string) (*models.Sender, bool) {
	accountIDs := payload.BusinessAccountIDs()
	if len(accountIDs) == 0 {
		return nil, false
	}

	var candidates []models.Sender
	if err := a.DB.Where("business_account_id IN ?", accountIDs).Find(&candidates).Error; err != nil {
		a.Log.Error("Failed to load webhook candidate senders", "error", err)
		return nil, false
	}

	for i := range candidates {
		if whatsapp.VerifySignature(body, signature, candidates[i].AppSecret) {
			return &candidates[i], true
		}
	}
	return nil, false
}

// processWebhook applies status and message events from a verified payload
func (a *App) processWebhook(ctx context.Context, sender *models.Sender, payload *whatsapp.WebhookPayload) {
	statuses := payload.ExtractStatuses()
	messages := payload.ExtractMessages()

	touched := make(map[uuid.UUID]bool)
	for _, status := range statuses {
		if campaignID := a.processStatusEvent(ctx, sender, status); campaignID != nil {
			touched[*campaignID] = true
		}
	}

	for _, msg := range messages {
		a.processIncomingMessage(ctx, sender, msg)
	}

	// Campaign delivery counters are a materialization of the log; refresh
	// the campaigns this payload touched.
	for campaignID := range touched {
		if err := a.Campaigns.RefreshDerivedCounters(ctx, campaignID); err != nil {
			a.Log.Error("Failed to refresh campaign counters", "error", err, "campaign_id", campaignID)
		}
	}
}

// processStatusEvent appends a status log row and reconciles the derived
// status onto the outgoing message. Returns the campaign the WAMID belongs
// to, if any.
func (a *App) processStatusEvent(ctx context.Context, sender *models.Sender, status whatsapp.ParsedStatus) *uuid.UUID {
	deliveryStatus := models.DeliveryStatus(status.Status)
	switch deliveryStatus {
	case models.DeliverySent, models.DeliveryDelivered, models.DeliveryRead, models.DeliveryFailed:
	default:
		a.Log.Debug("Ignoring status update", "status", status.Status)
		return nil
	}

	// The WAMID's campaign, when the message came from the send queue.
	var campaignID *uuid.UUID
	var entry models.SendQueueEntry
	if err := a.DB.WithContext(ctx).
		Where("whats_app_message_id = ?", status.MessageID).
		First(&entry).Error; err == nil {
		campaignID = &entry.CampaignID
	}

	logRow := models.MessageStatusLog{
		WhatsAppMessageID: status.MessageID,
		CampaignID:        campaignID,
		SenderID:          sender.ID,
		Status:            deliveryStatus,
		ErrorCode:         status.ErrorCode,
		ErrorMessage:      status.ErrorMsg,
	}
	if err := a.DB.WithContext(ctx).Create(&logRow).Error; err != nil {
		a.Log.Error("Failed to append status log", "error", err, "wamid", status.MessageID)
		return campaignID
	}

	// Reconcile the outgoing message's derived status through the monotone
	// hierarchy; out-of-order and contradictory events never regress it.
	var message models.Message
	if err := a.DB.WithContext(ctx).
		Where("direction = ? AND whats_app_message_id = ?", models.DirectionOutgoing, status.MessageID).
		First(&message).Error; err == nil {
		merged := models.MergeDeliveryStatus(message.Status, deliveryStatus)
		if merged != message.Status {
			if err := a.DB.WithContext(ctx).Model(&message).Update("status", merged).Error; err != nil {
				a.Log.Error("Failed to update message status", "error", err, "wamid", status.MessageID)
			}
		}
	}

	a.Log.Debug("Status event recorded", "wamid", status.MessageID, "status", status.Status)
	return campaignID
}

// processIncomingMessage upserts an inbound message and bumps the reply
// counter for users we have messaged before
func (a *App) processIncomingMessage(ctx context.Context, sender *models.Sender, msg whatsapp.ParsedMessage) {
	if msg.ID == "" {
		return
	}

	// Meta redelivers webhooks; the WAMID dedupes them.
	var existing models.Message
	if err := a.DB.WithContext(ctx).
		Where("direction = ? AND whats_app_message_id = ?", models.DirectionIncoming, msg.ID).
		First(&existing).Error; err == nil {
		a.Log.Debug("Duplicate incoming message, skipping", "wamid", msg.ID)
		return
	}

	message := models.Message{
		SenderID:          sender.ID,
		UserPhone:         msg.From,
		Direction:         models.DirectionIncoming,
		MessageType:       msg.Type,
		MessageBody:       msg.Text,
		WhatsAppMessageID: msg.ID,
	}
	if err := a.DB.WithContext(ctx).Create(&message).Error; err != nil {
		a.Log.Error("Failed to save incoming message", "error", err, "wamid", msg.ID)
		return
	}

	// Count the reply only for users this platform has messaged.
	var outgoing int64
	if err := a.DB.WithContext(ctx).Model(&models.Message{}).
		Where("user_phone = ? AND direction = ?", msg.From, models.DirectionOutgoing).
		Count(&outgoing).Error; err != nil || outgoing == 0 {
		return
	}

	now := time.Now().UTC()
	limit := models.UserReplyLimit{
		UserPhone:   msg.From,
		ReplyCount:  1,
		LastReplyAt: &now,
	}
	if err := a.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_phone"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"reply_count":   gorm.Expr("user_reply_limits.reply_count + 1"),
			"last_reply_at": now,
		}),
	}).Create(&limit).Error; err != nil {
		a.Log.Error("Failed to update reply limit", "error", err, "phone", msg.From)
	}

	a.Log.Debug("Incoming message recorded", "from", msg.From, "type", msg.Type)
}
