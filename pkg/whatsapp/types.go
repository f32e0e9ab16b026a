package whatsapp

import "time"

// Account represents WhatsApp Business Account credentials
type Account struct {
	PhoneID     string
	BusinessID  string
	APIVersion  string
	AccessToken string
}

// MetaAPIResponse represents a successful API response from Meta
type MetaAPIResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// MetaAPIError represents an error response from Meta API
type MetaAPIError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		ErrorUserMsg string `json:"error_user_msg"`
		ErrorData    struct {
			Details string `json:"details"`
		} `json:"error_data"`
		FBTraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// MediaUploadResponse represents a successful media upload
type MediaUploadResponse struct {
	ID string `json:"id"`
}

// MetaTemplate represents a template fetched from Meta
type MetaTemplate struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Language   string              `json:"language"`
	Category   string              `json:"category"`
	Status     string              `json:"status"`
	Components []TemplateComponent `json:"components"`
}

// TemplateComponent represents a component of a template
type TemplateComponent struct {
	Type    string           `json:"type"`
	Format  string           `json:"format,omitempty"`
	Text    string           `json:"text,omitempty"`
	Example *TemplateExample `json:"example,omitempty"`
}

// TemplateExample represents example values for template variables
type TemplateExample struct {
	HeaderText []string   `json:"header_text,omitempty"`
	BodyText   [][]string `json:"body_text,omitempty"`
}

// TemplateListResponse represents response from fetching templates
type TemplateListResponse struct {
	Data []MetaTemplate `json:"data"`
}

// PhoneProfile represents the business phone number details from Meta
type PhoneProfile struct {
	VerifiedName   string `json:"verified_name"`
	QualityRating  string `json:"quality_rating"`
	MessagingLimit string `json:"messaging_limit_tier"`
}

// WebhookPayload represents the incoming webhook from Meta
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

// WebhookEntry represents an entry in the webhook payload. The entry ID is
// the WhatsApp Business Account id the events belong to.
type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

// WebhookChange represents a change in the webhook entry
type WebhookChange struct {
	Value WebhookValue `json:"value"`
	Field string       `json:"field"`
}

// WebhookValue represents the value of a webhook change
type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         WebhookMetadata  `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []WebhookStatus  `json:"statuses,omitempty"`
}

// WebhookMetadata represents metadata in webhook
type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact represents a contact in webhook
type WebhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// WebhookMessage represents an incoming message
type WebhookMessage struct {
	From      string        `json:"from"`
	ID        string        `json:"id"`
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	Text      *WebhookText  `json:"text,omitempty"`
	Image     *WebhookMedia `json:"image,omitempty"`
	Document  *WebhookMedia `json:"document,omitempty"`
	Audio     *WebhookMedia `json:"audio,omitempty"`
	Video     *WebhookMedia `json:"video,omitempty"`
}

// WebhookText represents text content in a message
type WebhookText struct {
	Body string `json:"body"`
}

// WebhookMedia represents media in a message
type WebhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookStatus represents a message status update
type WebhookStatus struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	Timestamp   string               `json:"timestamp"`
	RecipientID string               `json:"recipient_id"`
	Errors      []WebhookStatusError `json:"errors,omitempty"`
}

// WebhookStatusError represents an error in status update
type WebhookStatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ParsedMessage represents a parsed incoming message
type ParsedMessage struct {
	BusinessAccountID string
	PhoneNumberID     string
	From              string
	ID                string
	Timestamp         time.Time
	Type              string
	Text              string
	MediaID           string
	MediaMimeType     string
	Caption           string
	ContactName       string
}

// ParsedStatus represents a parsed status update
type ParsedStatus struct {
	BusinessAccountID string
	PhoneNumberID     string
	MessageID         string
	Status            string
	Timestamp         time.Time
	RecipientID       string
	ErrorCode         int
	ErrorTitle        string
	ErrorMsg          string
}
