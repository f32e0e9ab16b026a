package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusPayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "waba-123",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "911112223334", "phone_number_id": "phone-1"},
				"statuses": [
					{"id": "wamid.A", "status": "delivered", "timestamp": "1700000000", "recipient_id": "919876543210"},
					{"id": "wamid.B", "status": "failed", "timestamp": "1700000100", "recipient_id": "919876543211",
					 "errors": [{"code": 131026, "title": "Undeliverable", "message": "Message undeliverable"}]}
				]
			}
		}]
	}]
}`

const messagePayload = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "waba-123",
		"changes": [{
			"field": "messages",
			"value": {
				"messaging_product": "whatsapp",
				"metadata": {"display_phone_number": "911112223334", "phone_number_id": "phone-1"},
				"contacts": [{"profile": {"name": "Asha"}, "wa_id": "919876543210"}],
				"messages": [{"from": "919876543210", "id": "wamid.IN1", "timestamp": "1700000200", "type": "text",
				              "text": {"body": "interested"}}]
			}
		}]
	}]
}`

func TestVerifyWebhook(t *testing.T) {
	challenge, err := VerifyWebhook("subscribe", "secret-token", "challenge-42", "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "challenge-42", challenge)

	_, err = VerifyWebhook("unsubscribe", "secret-token", "c", "secret-token")
	assert.Error(t, err)

	_, err = VerifyWebhook("subscribe", "wrong", "c", "secret-token")
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	secret := "app-secret"

	header := SignBody(body, secret)
	assert.True(t, VerifySignature(body, header, secret))

	assert.False(t, VerifySignature(body, header, "other-secret"))
	assert.False(t, VerifySignature([]byte("tampered"), header, secret))
	assert.False(t, VerifySignature(body, "", secret))
	assert.False(t, VerifySignature(body, "sha256=zzzz", secret))
	assert.False(t, VerifySignature(body, header, ""))
	assert.False(t, VerifySignature(body, "md5=abcd", secret))
}

func TestExtractStatuses(t *testing.T) {
	payload, err := ParseWebhook([]byte(statusPayload))
	require.NoError(t, err)

	statuses := payload.ExtractStatuses()
	require.Len(t, statuses, 2)

	assert.Equal(t, "wamid.A", statuses[0].MessageID)
	assert.Equal(t, "delivered", statuses[0].Status)
	assert.Equal(t, "waba-123", statuses[0].BusinessAccountID)
	assert.Equal(t, "phone-1", statuses[0].PhoneNumberID)
	assert.Equal(t, int64(1700000000), statuses[0].Timestamp.Unix())

	assert.Equal(t, "failed", statuses[1].Status)
	assert.Equal(t, 131026, statuses[1].ErrorCode)
	assert.Contains(t, statuses[1].ErrorMsg, "undeliverable")
}

func TestExtractMessages(t *testing.T) {
	payload, err := ParseWebhook([]byte(messagePayload))
	require.NoError(t, err)

	messages := payload.ExtractMessages()
	require.Len(t, messages, 1)

	msg := messages[0]
	assert.Equal(t, "919876543210", msg.From)
	assert.Equal(t, "wamid.IN1", msg.ID)
	assert.Equal(t, "text", msg.Type)
	assert.Equal(t, "interested", msg.Text)
	assert.Equal(t, "Asha", msg.ContactName)
	assert.Equal(t, "waba-123", msg.BusinessAccountID)
}

func TestBusinessAccountIDs(t *testing.T) {
	payload, err := ParseWebhook([]byte(statusPayload))
	require.NoError(t, err)
	assert.Equal(t, []string{"waba-123"}, payload.BusinessAccountIDs())
}

func TestParseWebhook_Invalid(t *testing.T) {
	_, err := ParseWebhook([]byte("not json"))
	assert.Error(t, err)
}
