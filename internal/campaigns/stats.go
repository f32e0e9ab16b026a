package campaigns

import (
	"context"
	"fmt"

	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/google/uuid"
)

// TemplateStats holds per-template delivery statistics for a campaign
type TemplateStats struct {
	TemplateName  string `json:"template_name"`
	TemplateOrder int    `json:"template_order"`
	Total         int    `json:"total"`
	Sent          int    `json:"sent"`
	Failed        int    `json:"failed"`
	Delivered     int    `json:"delivered"`
	Read          int    `json:"read"`
	FailedRemote  int    `json:"failed_remote"`
	UniqueReplies int    `json:"unique_replies"`
}

// TemplateStatsForCampaign is the canonical per-template aggregation. It runs
// a fixed number of grouped queries regardless of template count: one over
// the queue, one over the status log (collapsed per WAMID through the
// monotone hierarchy), and one over incoming messages for unique repliers.
func (s *Service) TemplateStatsForCampaign(ctx context.Context, campaignID uuid.UUID) ([]TemplateStats, error) {
	var campaign models.Campaign
	if err := s.DB.WithContext(ctx).First(&campaign, "id = ?", campaignID).Error; err != nil {
		return nil, &ValidationError{Reason: "campaign not found"}
	}

	byName := make(map[string]*TemplateStats, len(campaign.TemplateNames))
	ordered := make([]*TemplateStats, 0, len(campaign.TemplateNames))
	for i, name := range campaign.TemplateNames {
		st := &TemplateStats{TemplateName: name, TemplateOrder: i}
		byName[name] = st
		ordered = append(ordered, st)
	}

	// Queue-side counts per template.
	var queueCounts []struct {
		TemplateName string
		Status       string
		Count        int
	}
	if err := s.DB.WithContext(ctx).Raw(`
		SELECT template_name, status, COUNT(*) AS count
		FROM send_queue_entries
		WHERE campaign_id = ?
		GROUP BY template_name, status`,
		campaignID,
	).Scan(&queueCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate queue: %w", err)
	}
	for _, qc := range queueCounts {
		st, ok := byName[qc.TemplateName]
		if !ok {
			continue
		}
		st.Total += qc.Count
		switch models.QueueStatus(qc.Status) {
		case models.QueueStatusSent:
			st.Sent += qc.Count
		case models.QueueStatusFailed:
			st.Failed += qc.Count
		}
	}

	// Delivery counts from the status log, collapsed to one derived status
	// per WAMID: read wins over delivered wins over sent, and a failure only
	// counts when the message never reached delivered or read.
	var deliveryCounts []struct {
		TemplateName string
		Derived      string
		Count        int
	}
	if err := s.DB.WithContext(ctx).Raw(`
		SELECT template_name, derived, COUNT(*) AS count
		FROM (
			SELECT q.template_name,
			       q.whats_app_message_id,
			       CASE
			         WHEN BOOL_OR(l.status = 'read') THEN 'read'
			         WHEN BOOL_OR(l.status = 'delivered') THEN 'delivered'
			         WHEN BOOL_OR(l.status = 'failed') THEN 'failed'
			         ELSE 'sent'
			       END AS derived
			FROM send_queue_entries q
			JOIN message_status_logs l ON l.whats_app_message_id = q.whats_app_message_id
			WHERE q.campaign_id = ? AND q.whats_app_message_id IS NOT NULL
			GROUP BY q.template_name, q.whats_app_message_id
		) per_message
		GROUP BY template_name, derived`,
		campaignID,
	).Scan(&deliveryCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate status logs: %w", err)
	}
	for _, dc := range deliveryCounts {
		st, ok := byName[dc.TemplateName]
		if !ok {
			continue
		}
		switch models.DeliveryStatus(dc.Derived) {
		case models.DeliveryRead:
			// Reading implies delivery.
			st.Read += dc.Count
			st.Delivered += dc.Count
		case models.DeliveryDelivered:
			st.Delivered += dc.Count
		case models.DeliveryFailed:
			st.FailedRemote += dc.Count
		}
	}

	// Unique repliers per template: incoming messages from phones this
	// campaign messaged, attributed to the template that reached them.
	var replyCounts []struct {
		TemplateName string
		Count        int
	}
	if err := s.DB.WithContext(ctx).Raw(`
		SELECT q.template_name, COUNT(DISTINCT m.user_phone) AS count
		FROM send_queue_entries q
		JOIN messages m
		  ON m.sender_id = q.sender_id
		 AND m.user_phone = q.phone
		 AND m.direction = 'incoming'
		WHERE q.campaign_id = ? AND q.status = 'sent'
		GROUP BY q.template_name`,
		campaignID,
	).Scan(&replyCounts).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate replies: %w", err)
	}
	for _, rc := range replyCounts {
		if st, ok := byName[rc.TemplateName]; ok {
			st.UniqueReplies = rc.Count
		}
	}

	result := make([]TemplateStats, len(ordered))
	for i, st := range ordered {
		result[i] = *st
	}
	return result, nil
}

// RefreshDerivedCounters recomputes a campaign's delivered/read/replied
// counters from the append-only status log. The webhook never writes these;
// this pull-based derivation is the only writer.
func (s *Service) RefreshDerivedCounters(ctx context.Context, campaignID uuid.UUID) error {
	stats, err := s.TemplateStatsForCampaign(ctx, campaignID)
	if err != nil {
		return err
	}

	var delivered, read, replied int
	for _, st := range stats {
		delivered += st.Delivered
		read += st.Read
		replied += st.UniqueReplies
	}

	return s.DB.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]interface{}{
			"total_delivered": delivered,
			"total_read":      read,
			"total_replied":   replied,
		}).Error
}
