package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
)

// FetchTemplates retrieves the message templates on the business account
func (c *Client) FetchTemplates(ctx context.Context, account *Account) ([]MetaTemplate, error) {
	url := c.buildTemplatesURL(account) + "?limit=100"

	var templates []MetaTemplate
	for url != "" {
		respBody, err := c.doRequest(ctx, "GET", url, nil, account.AccessToken)
		if err != nil {
			c.Log.Error("Failed to fetch templates", "error", err)
			return nil, err
		}

		var page struct {
			Data   []MetaTemplate `json:"data"`
			Paging struct {
				Next string `json:"next"`
			} `json:"paging"`
		}
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}

		templates = append(templates, page.Data...)
		url = page.Paging.Next
	}

	c.Log.Info("Templates fetched", "count", len(templates))
	return templates, nil
}
