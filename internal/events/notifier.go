package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/supnet/relations/internal/cache"
)

// PubSubNotifier publishes JSON-encoded events on a single pub/sub channel.
type PubSubNotifier struct {
	ps      cache.PubSub
	channel string
}

// NewPubSubNotifier constructs a notifier publishing to the given channel.
func NewPubSubNotifier(ps cache.PubSub, channel string) *PubSubNotifier {
	if channel == "" {
		channel = "relationship-events"
	}
	return &PubSubNotifier{ps: ps, channel: channel}
}

// Publish encodes the event and sends it on the configured channel.
func (n *PubSubNotifier) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Kind, err)
	}

	if err := n.ps.Publish(ctx, n.channel, string(payload)); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	return nil
}

// NopNotifier discards every event. Used when no event transport is
// configured.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }

var _ Notifier = (*PubSubNotifier)(nil)
var _ Notifier = NopNotifier{}
