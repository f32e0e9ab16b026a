package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zerodha/logf"
)

const (
	// campaignEventsChannel carries campaign lifecycle events for UI consumers
	campaignEventsChannel = "bulkwave:campaign_events"
)

// CampaignEvent is published whenever a campaign's progress or status changes
type CampaignEvent struct {
	CampaignID     string `json:"campaign_id"`
	SenderID       string `json:"sender_id"`
	Status         string `json:"status"`
	TotalSent      int    `json:"total_sent"`
	TotalFailed    int    `json:"total_failed"`
	TotalDelivered int    `json:"total_delivered"`
	TotalRead      int    `json:"total_read"`
	Reason         string `json:"reason,omitempty"`
}

// Publisher publishes campaign events to Redis pub/sub
type Publisher struct {
	rdb *redis.Client
	log logf.Logger
}

// NewPublisher creates a Publisher
func NewPublisher(rdb *redis.Client, log logf.Logger) *Publisher {
	return &Publisher{rdb: rdb, log: log}
}

// PublishCampaignEvent publishes a campaign event. Publish failures are
// logged and also returned; a nil publisher or client is a no-op. Events are
// advisory, the database is the record.
func (p *Publisher) PublishCampaignEvent(ctx context.Context, ev *CampaignEvent) error {
	if p == nil || p.rdb == nil {
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign event: %w", err)
	}

	if err := p.rdb.Publish(ctx, campaignEventsChannel, data).Err(); err != nil {
		p.log.Error("Failed to publish campaign event", "error", err, "campaign_id", ev.CampaignID)
		return err
	}
	return nil
}

// Subscriber consumes campaign events from Redis pub/sub
type Subscriber struct {
	rdb *redis.Client
	log logf.Logger
}

// NewSubscriber creates a Subscriber
func NewSubscriber(rdb *redis.Client, log logf.Logger) *Subscriber {
	return &Subscriber{rdb: rdb, log: log}
}

// SubscribeCampaignEvents delivers campaign events to handler until ctx is
// cancelled. Malformed payloads are dropped with a log line.
func (s *Subscriber) SubscribeCampaignEvents(ctx context.Context, handler func(*CampaignEvent)) error {
	sub := s.rdb.Subscribe(ctx, campaignEventsChannel)
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev CampaignEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					s.log.Error("Failed to decode campaign event", "error", err)
					continue
				}
				handler(&ev)
			}
		}
	}()

	return nil
}
