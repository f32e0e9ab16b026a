package models

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// IsTerminal reports whether no further sends can happen for this status
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// QueueStatus represents the state of a send queue entry
type QueueStatus string

const (
	QueueStatusReady      QueueStatus = "ready"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// queueTransitions enumerates the legal queue entry state changes.
// ready → processing (claim), processing → sent/failed (outcome),
// processing → ready (retry, reaper), failed → ready (operator retry).
var queueTransitions = map[QueueStatus][]QueueStatus{
	QueueStatusReady:      {QueueStatusProcessing},
	QueueStatusProcessing: {QueueStatusSent, QueueStatusFailed, QueueStatusReady},
	QueueStatusFailed:     {QueueStatusReady},
}

// CanTransition reports whether moving from s to next is a legal transition
func (s QueueStatus) CanTransition(next QueueStatus) bool {
	for _, t := range queueTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the entry needs no further processing
func (s QueueStatus) IsTerminal() bool {
	return s == QueueStatusSent || s == QueueStatusFailed
}

// MessageDirection distinguishes outgoing from incoming messages
type MessageDirection string

const (
	DirectionOutgoing MessageDirection = "outgoing"
	DirectionIncoming MessageDirection = "incoming"
)

// DeliveryStatus is a provider-reported message lifecycle status
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// deliveryRank orders the monotone hierarchy sent < delivered < read.
// failed sits outside the hierarchy and never overwrites delivered/read.
var deliveryRank = map[DeliveryStatus]int{
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryRead:      3,
}

// Rank returns the position of the status in the delivery hierarchy,
// or 0 for statuses outside it (failed, unknown).
func (s DeliveryStatus) Rank() int {
	return deliveryRank[s]
}

// MergeDeliveryStatus folds a newly observed status into the current derived
// status for a message. Statuses never regress, and a failed event is
// ignored once the message has reached delivered or read.
func MergeDeliveryStatus(current, observed DeliveryStatus) DeliveryStatus {
	if observed == DeliveryFailed {
		if current.Rank() >= deliveryRank[DeliveryDelivered] {
			return current
		}
		return DeliveryFailed
	}
	if current == DeliveryFailed {
		// A ranked status supersedes an earlier failure report.
		return observed
	}
	if observed.Rank() > current.Rank() {
		return observed
	}
	return current
}

// TemplateCategory is the Meta template category
type TemplateCategory string

const (
	TemplateCategoryUtility        TemplateCategory = "UTILITY"
	TemplateCategoryMarketing      TemplateCategory = "MARKETING"
	TemplateCategoryAuthentication TemplateCategory = "AUTHENTICATION"
)

// TemplateStatus is the Meta template approval status
type TemplateStatus string

const (
	TemplateStatusApproved TemplateStatus = "APPROVED"
	TemplateStatusPending  TemplateStatus = "PENDING"
	TemplateStatusRejected TemplateStatus = "REJECTED"
)
