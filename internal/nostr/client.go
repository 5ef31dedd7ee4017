package nostr

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/weft/internal/config"
)

// Client provides a high-level interface for interacting with Nostr relays.
// It is the engine's connection provider: consumers see decoded events, an
// explicit end-of-stored-events signal, and a stop primitive, and stay
// agnostic to how many physical connections back a subscription.
type Client struct {
	pool        *nostr.SimplePool
	relayConfig *config.Relays
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays) *Client {
	return &Client{
		pool:        nostr.NewSimplePool(ctx),
		relayConfig: relayConfig,
	}
}

// Subscription is one logical subscription. Events delivers decoded events
// until the subscription is closed; EndOfStored is closed once every backing
// relay has signalled the end of its initial results, which is distinct from
// no events having arrived.
type Subscription struct {
	events chan *nostr.Event
	eose   chan struct{}

	eoseOnce  sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// Events returns the event stream for this subscription.
func (s *Subscription) Events() <-chan *nostr.Event { return s.events }

// EndOfStored is closed when the initial batch of results is complete.
func (s *Subscription) EndOfStored() <-chan struct{} { return s.eose }

// Close stops the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *Subscription) signalEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

// Subscribe opens a streaming subscription on the seed relays: stored events
// first, then live arrivals until the context is cancelled or Close is
// called. The returned Subscription's channel is closed on teardown.
func (c *Client) Subscribe(ctx context.Context, filters nostr.Filters) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan *nostr.Event, 100),
		eose:   make(chan struct{}),
		cancel: cancel,
	}

	relays := c.Relays()

	go func() {
		defer close(sub.events)

		// Stored events up to EOSE.
		for relayEvent := range c.pool.SubManyEose(subCtx, relays, filters) {
			if relayEvent.Event == nil {
				continue
			}
			select {
			case sub.events <- relayEvent.Event:
			case <-subCtx.Done():
				return
			}
		}
		if subCtx.Err() != nil {
			return
		}
		sub.signalEOSE()

		// Live tail. Overlap with the stored batch is fine; consumers
		// dedup by id.
		live := make(nostr.Filters, 0, len(filters))
		since := nostr.Now()
		for _, f := range filters {
			f.Since = &since
			f.Limit = 0
			live = append(live, f)
		}

		for relayEvent := range c.pool.SubMany(subCtx, relays, live) {
			if relayEvent.Event == nil {
				continue
			}
			select {
			case sub.events <- relayEvent.Event:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return sub
}

// FetchEvents fetches events matching the filter, waiting for EOSE.
func (c *Client) FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	events := make([]*nostr.Event, 0)

	for relayEvent := range c.pool.SubManyEose(ctx, c.Relays(), nostr.Filters{filter}) {
		if relayEvent.Event != nil {
			events = append(events, relayEvent.Event)
		}
	}

	if err := ctx.Err(); err != nil {
		return events, err
	}
	return events, nil
}

// FetchOne fetches a single event by id, or an error when no relay returns it.
func (c *Client) FetchOne(ctx context.Context, eventID string) (*nostr.Event, error) {
	filter := nostr.Filter{
		IDs: []string{eventID},
	}

	result := c.pool.QuerySingle(ctx, c.Relays(), filter)
	if result == nil || result.Event == nil {
		return nil, fmt.Errorf("event not found: %s", eventID)
	}

	return result.Event, nil
}

// Relays returns the configured seed relays.
func (c *Client) Relays() []string {
	if c.relayConfig == nil {
		return []string{}
	}
	return c.relayConfig.Seeds
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}
