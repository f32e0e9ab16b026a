package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
)

// SendTextMessage sends a text message to a phone number
func (c *Client) SendTextMessage(ctx context.Context, account *Account, phoneNumber, text string) (string, error) {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                phoneNumber,
		"type":              "text",
		"text": map[string]interface{}{
			"preview_url": false,
			"body":        text,
		},
	}

	url := c.buildMessagesURL(account)
	c.Log.Debug("Sending text message", "phone", phoneNumber)

	respBody, err := c.doRequest(ctx, "POST", url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to send text message", "error", err, "phone", phoneNumber)
		return "", err
	}

	messageID, err := parseMessageID(respBody)
	if err != nil {
		return "", err
	}

	c.Log.Info("Text message sent", "message_id", messageID, "phone", phoneNumber)
	return messageID, nil
}

// SendTemplateMessage sends a template message with ordered body parameters
func (c *Client) SendTemplateMessage(ctx context.Context, account *Account, phoneNumber, templateName, languageCode string, bodyParams []string) (string, error) {
	var components []map[string]interface{}
	if len(bodyParams) > 0 {
		params := make([]map[string]interface{}, 0, len(bodyParams))
		for _, p := range bodyParams {
			params = append(params, map[string]interface{}{
				"type": "text",
				"text": p,
			})
		}
		components = []map[string]interface{}{
			{
				"type":       "body",
				"parameters": params,
			},
		}
	}

	return c.SendTemplateMessageWithComponents(ctx, account, phoneNumber, templateName, languageCode, components)
}

// SendTemplateMessageWithComponents sends a template message with full component control
func (c *Client) SendTemplateMessageWithComponents(ctx context.Context, account *Account, phoneNumber, templateName, languageCode string, components []map[string]interface{}) (string, error) {
	template := map[string]interface{}{
		"name": templateName,
		"language": map[string]interface{}{
			"code": languageCode,
		},
	}

	if len(components) > 0 {
		template["components"] = components
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                phoneNumber,
		"type":              "template",
		"template":          template,
	}

	url := c.buildMessagesURL(account)
	c.Log.Debug("Sending template message", "phone", phoneNumber, "template", templateName)

	respBody, err := c.doRequest(ctx, "POST", url, payload, account.AccessToken)
	if err != nil {
		c.Log.Error("Failed to send template message", "error", err, "phone", phoneNumber, "template", templateName)
		return "", err
	}

	messageID, err := parseMessageID(respBody)
	if err != nil {
		return "", err
	}

	c.Log.Info("Template message sent", "message_id", messageID, "phone", phoneNumber, "template", templateName)
	return messageID, nil
}

// parseMessageID extracts the provider message id from a send response
func parseMessageID(respBody []byte) (string, error) {
	var resp MetaAPIResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Messages) == 0 {
		return "", fmt.Errorf("no message ID in response")
	}
	return resp.Messages[0].ID, nil
}
