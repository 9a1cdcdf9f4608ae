package ports

import (
	"context"

	"github.com/layer-3/onerecurr/core"
)

// EventPublisher publishes lifecycle events for other processes to observe.
type EventPublisher interface {
	PublishSession(ctx context.Context, event core.SessionEvent) error
	PublishChannel(ctx context.Context, event core.ChannelEvent) error
}
