package messaging

import (
	"context"
)

// Broker publishes ledger events to downstream consumers (billing, audit,
// pharmacy dashboards). Publication is at-least-once; consumers deduplicate
// on event id.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}
