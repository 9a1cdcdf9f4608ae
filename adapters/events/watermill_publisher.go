package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/redis/go-redis/v9"
)

const (
	SessionTopic = "onerecurr.session"
	ChannelTopic = "onerecurr.channel"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// NewRedisStreamPublisher publishes to Redis streams so other processes can follow.
func NewRedisStreamPublisher(client *redis.Client, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		logger,
	)
}

// NewInProcessPubSub is the fallback bus when no Redis is configured.
func NewInProcessPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, logger)
}

// PublishSession publishes a session lifecycle event
func (p *WatermillPublisher) PublishSession(ctx context.Context, event core.SessionEvent) error {
	return p.publish(ctx, SessionTopic, event)
}

// PublishChannel publishes a channel event
func (p *WatermillPublisher) PublishChannel(ctx context.Context, event core.ChannelEvent) error {
	return p.publish(ctx, ChannelTopic, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishSession(context.Context, core.SessionEvent) error { return nil }
func (Nop) PublishChannel(context.Context, core.ChannelEvent) error { return nil }
