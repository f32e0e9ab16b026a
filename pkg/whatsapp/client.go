package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zerodha/logf"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 15 * time.Second
	// DefaultBaseURL for Meta Graph API
	DefaultBaseURL = "https://graph.facebook.com"
)

// Client is the WhatsApp Cloud API client
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Log        logf.Logger
}

// New creates a new WhatsApp client
func New(log logf.Logger) *Client {
	return &Client{
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		BaseURL: DefaultBaseURL,
		Log:     log,
	}
}

// NewWithBaseURL creates a client pointed at a custom API base URL
func NewWithBaseURL(log logf.Logger, baseURL string) *Client {
	c := New(log)
	c.BaseURL = baseURL
	return c
}

// NewWithTimeout creates a new WhatsApp client with custom per-call timeout
func NewWithTimeout(log logf.Logger, timeout time.Duration) *Client {
	c := New(log)
	c.HTTPClient.Timeout = timeout
	return c
}

// doRequest performs an HTTP request to the Meta API. Any response other than
// 200 OK is returned as *APIError so callers can classify the failure.
func (c *Client) doRequest(ctx context.Context, method, url string, body interface{}, accessToken string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

// buildMessagesURL builds the messages endpoint URL
func (c *Client) buildMessagesURL(account *Account) string {
	return fmt.Sprintf("%s/%s/%s/messages", c.BaseURL, account.APIVersion, account.PhoneID)
}

// buildMediaURL builds the media upload endpoint URL
func (c *Client) buildMediaURL(account *Account) string {
	return fmt.Sprintf("%s/%s/%s/media", c.BaseURL, account.APIVersion, account.PhoneID)
}

// buildTemplatesURL builds the message_templates endpoint URL
func (c *Client) buildTemplatesURL(account *Account) string {
	return fmt.Sprintf("%s/%s/%s/message_templates", c.BaseURL, account.APIVersion, account.BusinessID)
}

// buildPhoneURL builds the phone number details endpoint URL
func (c *Client) buildPhoneURL(account *Account) string {
	return fmt.Sprintf("%s/%s/%s", c.BaseURL, account.APIVersion, account.PhoneID)
}
