package feed

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/weft/internal/nostr"
)

// Subscription is the transport surface the manager consumes: an event
// stream, the end-of-initial-results marker, and a stop primitive.
type Subscription interface {
	Events() <-chan *nostr.Event
	EndOfStored() <-chan struct{}
	Close()
}

// Provider supplies subscriptions and bounded queries. Tests script a fake;
// production wiring wraps the relay client.
type Provider interface {
	Subscribe(ctx context.Context, filters nostr.Filters) Subscription
	FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// ClientProvider adapts the relay client to Provider.
type ClientProvider struct {
	Client *internalnostr.Client
}

func (p ClientProvider) Subscribe(ctx context.Context, filters nostr.Filters) Subscription {
	return p.Client.Subscribe(ctx, filters)
}

func (p ClientProvider) FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return p.Client.FetchEvents(ctx, filter)
}
