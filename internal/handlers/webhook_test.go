package handlers

import (
	"fmt"
	"testing"

	"github.com/bulkwave/bulkwave/internal/campaigns"
	"github.com/bulkwave/bulkwave/internal/config"
	"github.com/bulkwave/bulkwave/internal/events"
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/bulkwave/bulkwave/pkg/whatsapp"
	"github.com/bulkwave/bulkwave/test/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp(t *testing.T) *App {
	t.Helper()

	db := testutil.SetupTestDB(t)
	log := testutil.NopLogger()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.WhatsApp.WebhookVerifyToken = "verify-token"

	return &App{
		Config:    cfg,
		DB:        db,
		Log:       log,
		WhatsApp:  whatsapp.New(log),
		Campaigns: campaigns.NewService(cfg, db, log),
		Notifier:  events.NewNotifier(db, events.NewPublisher(nil, log), log),
	}
}

func createWebhookSender(t *testing.T, a *App) *models.Sender {
	t.Helper()
	uniqueID := uuid.New().String()[:8]
	sender := &models.Sender{
		Name:              "sender-" + uniqueID,
		PhoneNumberID:     "phone-" + uniqueID,
		BusinessAccountID: "waba-" + uniqueID,
		AccessToken:       "token",
		AppSecret:         "app-secret-" + uniqueID,
		APIVersion:        "v18.0",
		MaxSendRatePerSec: 10,
		IsActive:          true,
	}
	require.NoError(t, a.DB.Create(sender).Error)
	return sender
}

// seedOutgoingMessage creates a sent queue entry and its message row, as the
// processor would after a successful dispatch
func seedOutgoingMessage(t *testing.T, a *App, sender *models.Sender, wamid, phone string) *models.Campaign {
	t.Helper()

	campaign := &models.Campaign{
		SenderID:      sender.ID,
		Name:          "Webhook " + uuid.New().String()[:8],
		TemplateNames: models.StringSlice{"tpl_a"},
		Status:        models.CampaignStatusRunning,
		TotalContacts: 1,
		TotalSent:     1,
	}
	require.NoError(t, a.DB.Create(campaign).Error)

	entry := &models.SendQueueEntry{
		CampaignID:        campaign.ID,
		SenderID:          sender.ID,
		TemplateName:      "tpl_a",
		TemplateOrder:     0,
		Phone:             phone,
		Status:            models.QueueStatusSent,
		WhatsAppMessageID: &wamid,
	}
	require.NoError(t, a.DB.Create(entry).Error)

	campaignID := campaign.ID
	message := &models.Message{
		SenderID:          sender.ID,
		CampaignID:        &campaignID,
		UserPhone:         phone,
		Direction:         models.DirectionOutgoing,
		MessageType:       "template",
		WhatsAppMessageID: wamid,
		Status:            models.DeliverySent,
	}
	require.NoError(t, a.DB.Create(message).Error)

	return campaign
}

func statusWebhookBody(wabaID, wamid, status string) []byte {
	return []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"%s","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","metadata":{"phone_number_id":"p"},"statuses":[{"id":"%s","status":"%s","timestamp":"1700000000","recipient_id":"919876543210"}]}}]}]}`,
		wabaID, wamid, status))
}

func incomingWebhookBody(wabaID, wamid, from, text string) []byte {
	return []byte(fmt.Sprintf(`{"object":"whatsapp_business_account","entry":[{"id":"%s","changes":[{"field":"messages","value":{"messaging_product":"whatsapp","metadata":{"phone_number_id":"p"},"contacts":[{"profile":{"name":"Asha"},"wa_id":"%s"}],"messages":[{"from":"%s","id":"%s","timestamp":"1700000100","type":"text","text":{"body":"%s"}}]}}]}]}`,
		wabaID, from, from, wamid, text))
}

func postWebhook(t *testing.T, a *App, body []byte, signature string) int {
	t.Helper()
	req := testutil.NewRawRequest(t, body)
	if signature != "" {
		testutil.SetHeader(req, "X-Hub-Signature-256", signature)
	}
	require.NoError(t, a.WebhookHandler(req))
	a.WaitForBackgroundTasks()
	return testutil.GetResponseStatusCode(req)
}

func TestWebhookVerifyHandshake(t *testing.T) {
	a := testApp(t)

	req := testutil.NewGETRequest(t)
	testutil.SetQueryParam(req, "hub.mode", "subscribe")
	testutil.SetQueryParam(req, "hub.verify_token", "verify-token")
	testutil.SetQueryParam(req, "hub.challenge", "challenge-99")

	require.NoError(t, a.WebhookVerify(req))
	assert.Equal(t, 200, testutil.GetResponseStatusCode(req))
	assert.Equal(t, "challenge-99", string(testutil.GetResponseBody(req)))

	bad := testutil.NewGETRequest(t)
	testutil.SetQueryParam(bad, "hub.mode", "subscribe")
	testutil.SetQueryParam(bad, "hub.verify_token", "wrong")
	testutil.SetQueryParam(bad, "hub.challenge", "c")
	require.NoError(t, a.WebhookVerify(bad))
	assert.Equal(t, 403, testutil.GetResponseStatusCode(bad))
}

func TestWebhookHandler_SignedStatusEvent(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	wamid := "wamid.wh1." + uuid.New().String()[:8]
	campaign := seedOutgoingMessage(t, a, sender, wamid, "919876543210")

	body := statusWebhookBody(sender.BusinessAccountID, wamid, "delivered")
	status := postWebhook(t, a, body, whatsapp.SignBody(body, sender.AppSecret))
	assert.Equal(t, 200, status)

	var logs []models.MessageStatusLog
	require.NoError(t, a.DB.Where("whats_app_message_id = ?", wamid).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DeliveryDelivered, logs[0].Status)
	require.NotNil(t, logs[0].CampaignID)
	assert.Equal(t, campaign.ID, *logs[0].CampaignID)

	var message models.Message
	require.NoError(t, a.DB.Where("whats_app_message_id = ? AND direction = ?", wamid, models.DirectionOutgoing).
		First(&message).Error)
	assert.Equal(t, models.DeliveryDelivered, message.Status)

	var reloaded models.Campaign
	require.NoError(t, a.DB.First(&reloaded, "id = ?", campaign.ID).Error)
	assert.Equal(t, 1, reloaded.TotalDelivered)
}

func TestWebhookHandler_InvalidSignatureDroppedSilently(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	wamid := "wamid.wh2." + uuid.New().String()[:8]
	seedOutgoingMessage(t, a, sender, wamid, "919876543211")

	body := statusWebhookBody(sender.BusinessAccountID, wamid, "delivered")

	// Wrong secret and missing header: both acked 200, neither lands
	assert.Equal(t, 200, postWebhook(t, a, body, whatsapp.SignBody(body, "wrong-secret")))
	assert.Equal(t, 200, postWebhook(t, a, body, ""))

	var logCount int64
	require.NoError(t, a.DB.Model(&models.MessageStatusLog{}).
		Where("whats_app_message_id = ?", wamid).Count(&logCount).Error)
	assert.Zero(t, logCount)
}

func TestWebhookHandler_StatusNeverRegresses(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	wamid := "wamid.wh3." + uuid.New().String()[:8]
	campaign := seedOutgoingMessage(t, a, sender, wamid, "919876543212")

	// delivered, read, then out-of-order sent, then multi-device failed
	for _, s := range []string{"delivered", "read", "sent", "failed"} {
		body := statusWebhookBody(sender.BusinessAccountID, wamid, s)
		postWebhook(t, a, body, whatsapp.SignBody(body, sender.AppSecret))
	}

	var message models.Message
	require.NoError(t, a.DB.Where("whats_app_message_id = ? AND direction = ?", wamid, models.DirectionOutgoing).
		First(&message).Error)
	assert.Equal(t, models.DeliveryRead, message.Status)

	var reloaded models.Campaign
	require.NoError(t, a.DB.First(&reloaded, "id = ?", campaign.ID).Error)
	assert.Equal(t, 1, reloaded.TotalRead)
	assert.Equal(t, 1, reloaded.TotalDelivered)
}

func TestWebhookHandler_ReplayIsIdempotent(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	wamid := "wamid.wh4." + uuid.New().String()[:8]
	campaign := seedOutgoingMessage(t, a, sender, wamid, "919876543213")

	body := statusWebhookBody(sender.BusinessAccountID, wamid, "delivered")
	signature := whatsapp.SignBody(body, sender.AppSecret)
	for i := 0; i < 3; i++ {
		postWebhook(t, a, body, signature)
	}

	// The log is append-only and grows, but derived counters do not
	var logCount int64
	require.NoError(t, a.DB.Model(&models.MessageStatusLog{}).
		Where("whats_app_message_id = ?", wamid).Count(&logCount).Error)
	assert.Equal(t, int64(3), logCount)

	var reloaded models.Campaign
	require.NoError(t, a.DB.First(&reloaded, "id = ?", campaign.ID).Error)
	assert.Equal(t, 1, reloaded.TotalDelivered)
}

func TestWebhookHandler_IncomingMessage(t *testing.T) {
	a := testApp(t)
	sender := createWebhookSender(t, a)
	phone := "919876543299"
	wamid := "wamid.out." + uuid.New().String()[:8]
	seedOutgoingMessage(t, a, sender, wamid, phone)

	inWamid := "wamid.in." + uuid.New().String()[:8]
	body := incomingWebhookBody(sender.BusinessAccountID, inWamid, phone, "interested")
	postWebhook(t, a, body, whatsapp.SignBody(body, sender.AppSecret))

	var message models.Message
	require.NoError(t, a.DB.Where("whats_app_message_id = ? AND direction = ?", inWamid, models.DirectionIncoming).
		First(&message).Error)
	assert.Equal(t, "interested", message.MessageBody)
	assert.Equal(t, phone, message.UserPhone)

	var limit models.UserReplyLimit
	require.NoError(t, a.DB.Where("user_phone = ?", phone).First(&limit).Error)
	assert.Equal(t, 1, limit.ReplyCount)
	assert.NotNil(t, limit.LastReplyAt)

	// Redelivery of the same message is deduplicated by WAMID
	postWebhook(t, a, body, whatsapp.SignBody(body, sender.AppSecret))

	var count int64
	require.NoError(t, a.DB.Model(&models.Message{}).
		Where("whats_app_message_id = ?", inWamid).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, a.DB.Where("user_phone = ?", phone).First(&limit).Error)
	assert.Equal(t, 1, limit.ReplyCount, "duplicate delivery does not double-count the reply")
}

func TestWebhookHandler_UnknownAccountDropped(t *testing.T) {
	a := testApp(t)

	body := statusWebhookBody("waba-unknown-"+uuid.New().String()[:8], "wamid.x", "delivered")
	assert.Equal(t, 200, postWebhook(t, a, body, "sha256=deadbeef"))

	var logCount int64
	require.NoError(t, a.DB.Model(&models.MessageStatusLog{}).
		Where("whats_app_message_id = ?", "wamid.x").Count(&logCount).Error)
	assert.Zero(t, logCount)
}
