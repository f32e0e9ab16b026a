package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// VerifyWebhook verifies the webhook challenge from Meta
func VerifyWebhook(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" {
		return "", fmt.Errorf("invalid mode: %s", mode)
	}
	if token != expectedToken {
		return "", fmt.Errorf("token mismatch")
	}
	return challenge, nil
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw body
// using the app secret. The header carries "sha256=<hex>".
func VerifySignature(body []byte, signatureHeader, appSecret string) bool {
	if appSecret == "" || signatureHeader == "" {
		return false
	}
	expected, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(expected)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

// SignBody computes the X-Hub-Signature-256 header value for a body. Used by
// tests to sign webhook payloads.
func SignBody(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook parses the incoming webhook payload from Meta
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return &payload, nil
}

// BusinessAccountIDs returns the distinct WhatsApp Business Account ids named
// by the payload's entries.
func (p *WebhookPayload) BusinessAccountIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, entry := range p.Entry {
		if entry.ID != "" && !seen[entry.ID] {
			seen[entry.ID] = true
			ids = append(ids, entry.ID)
		}
	}
	return ids
}

// ExtractMessages extracts all incoming messages from a webhook payload
func (p *WebhookPayload) ExtractMessages() []ParsedMessage {
	var messages []ParsedMessage

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			phoneNumberID := change.Value.Metadata.PhoneNumberID

			for _, msg := range change.Value.Messages {
				parsed := ParsedMessage{
					BusinessAccountID: entry.ID,
					PhoneNumberID:     phoneNumberID,
					From:              msg.From,
					ID:                msg.ID,
					Type:              msg.Type,
				}

				// Profile name of the sending contact
				for _, contact := range change.Value.Contacts {
					if contact.WaID == msg.From {
						parsed.ContactName = contact.Profile.Name
						break
					}
				}

				if ts, err := strconv.ParseInt(msg.Timestamp, 10, 64); err == nil {
					parsed.Timestamp = time.Unix(ts, 0).UTC()
				}

				switch msg.Type {
				case "text":
					if msg.Text != nil {
						parsed.Text = msg.Text.Body
					}
				case "image":
					if msg.Image != nil {
						parsed.MediaID = msg.Image.ID
						parsed.MediaMimeType = msg.Image.MimeType
						parsed.Caption = msg.Image.Caption
					}
				case "document":
					if msg.Document != nil {
						parsed.MediaID = msg.Document.ID
						parsed.MediaMimeType = msg.Document.MimeType
						parsed.Caption = msg.Document.Caption
					}
				case "audio":
					if msg.Audio != nil {
						parsed.MediaID = msg.Audio.ID
						parsed.MediaMimeType = msg.Audio.MimeType
					}
				case "video":
					if msg.Video != nil {
						parsed.MediaID = msg.Video.ID
						parsed.MediaMimeType = msg.Video.MimeType
						parsed.Caption = msg.Video.Caption
					}
				}

				messages = append(messages, parsed)
			}
		}
	}

	return messages
}

// ExtractStatuses extracts all status updates from a webhook payload
func (p *WebhookPayload) ExtractStatuses() []ParsedStatus {
	var statuses []ParsedStatus

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			phoneNumberID := change.Value.Metadata.PhoneNumberID

			for _, status := range change.Value.Statuses {
				parsed := ParsedStatus{
					BusinessAccountID: entry.ID,
					PhoneNumberID:     phoneNumberID,
					MessageID:         status.ID,
					Status:            status.Status,
					RecipientID:       status.RecipientID,
				}

				if ts, err := strconv.ParseInt(status.Timestamp, 10, 64); err == nil {
					parsed.Timestamp = time.Unix(ts, 0).UTC()
				}

				if len(status.Errors) > 0 {
					parsed.ErrorCode = status.Errors[0].Code
					parsed.ErrorTitle = status.Errors[0].Title
					parsed.ErrorMsg = status.Errors[0].Message
				}

				statuses = append(statuses, parsed)
			}
		}
	}

	return statuses
}
