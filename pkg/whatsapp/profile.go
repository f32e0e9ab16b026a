package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
)

// TestConnection verifies the credential by fetching the phone number profile
func (c *Client) TestConnection(ctx context.Context, account *Account) (*PhoneProfile, error) {
	url := c.buildPhoneURL(account) + "?fields=verified_name,quality_rating,messaging_limit_tier"

	respBody, err := c.doRequest(ctx, "GET", url, nil, account.AccessToken)
	if err != nil {
		c.Log.Error("Connection test failed", "error", err, "phone_id", account.PhoneID)
		return nil, err
	}

	var profile PhoneProfile
	if err := json.Unmarshal(respBody, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	c.Log.Info("Connection test succeeded", "verified_name", profile.VerifiedName, "quality", profile.QualityRating)
	return &profile, nil
}
