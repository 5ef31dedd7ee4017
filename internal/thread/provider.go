package thread

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	internalnostr "github.com/sandwichfarm/weft/internal/nostr"
)

// Subscription is the transport surface a live thread view consumes.
type Subscription interface {
	Events() <-chan *nostr.Event
	EndOfStored() <-chan struct{}
	Close()
}

// Provider supplies subscriptions, bounded queries, and single-event
// fetches for ancestor resolution.
type Provider interface {
	Subscribe(ctx context.Context, filters nostr.Filters) Subscription
	FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	FetchOne(ctx context.Context, id string) (*nostr.Event, error)
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

func (p ClientProvider) FetchOne(ctx context.Context, id string) (*nostr.Event, error) {
	return p.Client.FetchOne(ctx, id)
}
