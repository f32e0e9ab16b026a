package models

import (
	"time"

	"github.com/google/uuid"
)

// Sender is a business phone number campaigns send through
type Sender struct {
	BaseModel
	Name                  string  `gorm:"not null" json:"name"`
	PhoneNumberID         string  `gorm:"uniqueIndex;not null" json:"phone_number_id"`
	BusinessAccountID     string  `gorm:"index;not null" json:"business_account_id"`
	AccessToken           string  `json:"-"`
	AppSecret             string  `json:"-"`
	APIVersion            string  `json:"api_version"`
	VerifiedName          string  `json:"verified_name"`
	QualityRating         string  `json:"quality_rating"`
	MaxSendRatePerSec     float64 `gorm:"default:10" json:"max_send_rate_per_sec"`
	LastStableRatePerSec  float64 `json:"last_stable_rate_per_sec"`
	IsActive              bool    `gorm:"default:true" json:"is_active"`
}

// Template is a pre-approved message template on a sender
type Template struct {
	BaseModel
	SenderID      uuid.UUID        `gorm:"type:uuid;index;not null" json:"sender_id"`
	Sender        *Sender          `gorm:"foreignKey:SenderID" json:"-"`
	Name          string           `gorm:"not null" json:"name"`
	Language      string           `gorm:"default:en" json:"language"`
	Category      TemplateCategory `json:"category"`
	Status        TemplateStatus   `json:"status"`
	BodyContent   string           `json:"body_content"`
	Components    JSONB            `json:"components"`
	IsActive      bool             `gorm:"default:true" json:"is_active"`
	IsQuarantined bool             `gorm:"default:false" json:"is_quarantined"`
}

// EligibleForCampaign reports whether this template may be used for bulk sends
func (t *Template) EligibleForCampaign() bool {
	return t.Status == TemplateStatusApproved &&
		t.IsActive &&
		!t.IsQuarantined &&
		t.Category != TemplateCategoryMarketing
}

// Campaign is a bulk send over a contact list distributed across templates
type Campaign struct {
	BaseModel
	SenderID             uuid.UUID      `gorm:"type:uuid;index;not null" json:"sender_id"`
	Sender               *Sender        `gorm:"foreignKey:SenderID" json:"-"`
	Name                 string         `gorm:"not null" json:"name"`
	TemplateNames        StringSlice    `gorm:"not null" json:"template_names"`
	Status               CampaignStatus `gorm:"index;default:running" json:"status"`
	TotalContacts        int            `json:"total_contacts"`
	InvalidContactsCount int            `json:"invalid_contacts_count"`
	TotalSent            int            `json:"total_sent"`
	TotalFailed          int            `json:"total_failed"`
	TotalDelivered       int            `json:"total_delivered"`
	TotalRead            int            `json:"total_read"`
	TotalReplied         int            `json:"total_replied"`
	CurrentTemplateIndex int            `json:"current_template_index"`
	SpamPauseCount       int            `json:"spam_pause_count"`
	SpamPausedUntil      *time.Time     `json:"spam_paused_until,omitempty"`
	PauseReason          string         `json:"pause_reason,omitempty"`
	ScheduledStartTime   *time.Time     `json:"scheduled_start_time,omitempty"`
	StartTime            *time.Time     `json:"start_time,omitempty"`
	EndTime              *time.Time     `json:"end_time,omitempty"`
}

// CampaignContact is one parsed CSV row of a campaign
type CampaignContact struct {
	BaseModel
	CampaignID    uuid.UUID `gorm:"type:uuid;index;not null" json:"campaign_id"`
	Phone         string    `gorm:"not null" json:"phone"`
	TemplateName  string    `json:"template_name,omitempty"`
	Variables     StringMap `json:"variables"`
	IsValid       bool      `gorm:"default:true" json:"is_valid"`
	InvalidReason string    `json:"invalid_reason,omitempty"`
}

// SendQueueEntry is one recipient-template pair awaiting dispatch
type SendQueueEntry struct {
	BaseModel
	CampaignID        uuid.UUID   `gorm:"type:uuid;index;not null" json:"campaign_id"`
	SenderID          uuid.UUID   `gorm:"type:uuid;index;not null" json:"sender_id"`
	TemplateName      string      `gorm:"not null" json:"template_name"`
	TemplateOrder     int         `gorm:"not null" json:"template_order"`
	Phone             string      `gorm:"not null" json:"phone"`
	Payload           StringMap   `json:"payload"`
	Status            QueueStatus `gorm:"default:ready" json:"status"`
	RetryCount        int         `json:"retry_count"`
	NextRetryAt       *time.Time  `json:"next_retry_at,omitempty"`
	WhatsAppMessageID *string     `json:"whatsapp_message_id,omitempty"`
	ErrorMessage      string      `json:"error_message,omitempty"`
	SpamErrorDetected bool        `gorm:"default:false" json:"spam_error_detected"`
	ActualSentAt      *time.Time  `json:"actual_sent_at,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
}

// Message is a sent or received WhatsApp message
type Message struct {
	BaseModel
	SenderID          uuid.UUID        `gorm:"type:uuid;index;not null" json:"sender_id"`
	CampaignID        *uuid.UUID       `gorm:"type:uuid;index" json:"campaign_id,omitempty"`
	UserPhone         string           `gorm:"not null" json:"user_phone"`
	Direction         MessageDirection `gorm:"not null" json:"direction"`
	MessageType       string           `json:"message_type"`
	MessageBody       string           `json:"message_body,omitempty"`
	TemplateName      string           `json:"template_name,omitempty"`
	WhatsAppMessageID string           `gorm:"index" json:"whatsapp_message_id,omitempty"`
	Status            DeliveryStatus   `json:"status"`
}

// MessageStatusLog is an append-only delivery lifecycle event keyed by WAMID
type MessageStatusLog struct {
	BaseModel
	WhatsAppMessageID string         `gorm:"index;not null" json:"whatsapp_message_id"`
	CampaignID        *uuid.UUID     `gorm:"type:uuid" json:"campaign_id,omitempty"`
	SenderID          uuid.UUID      `gorm:"type:uuid;index;not null" json:"sender_id"`
	Status            DeliveryStatus `gorm:"not null" json:"status"`
	ErrorCode         int            `json:"error_code,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
}

// UserReplyLimit tracks how often a user has replied to outbound sends
type UserReplyLimit struct {
	BaseModel
	UserPhone   string     `gorm:"uniqueIndex;not null" json:"user_phone"`
	ReplyCount  int        `json:"reply_count"`
	LastReplyAt *time.Time `json:"last_reply_at,omitempty"`
}

// Notification is an operator-visible event emitted by the engine
type Notification struct {
	BaseModel
	Type       string     `gorm:"index;not null" json:"type"`
	CampaignID *uuid.UUID `gorm:"type:uuid;index" json:"campaign_id,omitempty"`
	SenderID   *uuid.UUID `gorm:"type:uuid" json:"sender_id,omitempty"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	IsRead     bool       `gorm:"default:false" json:"is_read"`
}

// Notification types emitted by the engine
const (
	NotificationCampaignCompleted = "campaign-completed"
	NotificationCampaignFailed    = "campaign-failed"
	NotificationSpamPaused        = "campaign-spam-paused"
)
