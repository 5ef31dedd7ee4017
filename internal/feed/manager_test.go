package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/weft/internal/config"
	"github.com/sandwichfarm/weft/internal/mutes"
	"github.com/sandwichfarm/weft/internal/ops"
	"github.com/sandwichfarm/weft/internal/store"
)

type fakeSub struct {
	events    chan *nostr.Event
	eose      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		events: make(chan *nostr.Event, 64),
		eose:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *fakeSub) Events() <-chan *nostr.Event  { return s.events }
func (s *fakeSub) EndOfStored() <-chan struct{} { return s.eose }
func (s *fakeSub) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *fakeSub) deliver(events ...*nostr.Event) {
	for _, event := range events {
		s.events <- event
	}
}

func (s *fakeSub) signalEOSE() { close(s.eose) }

type fakeProvider struct {
	mu       sync.Mutex
	subs     []*fakeSub
	onSub    func(attempt int, sub *fakeSub)
	pages    [][]*nostr.Event
	fetched  []nostr.Filter
	fetchErr error
}

func (p *fakeProvider) Subscribe(ctx context.Context, filters nostr.Filters) Subscription {
	p.mu.Lock()
	sub := newFakeSub()
	p.subs = append(p.subs, sub)
	attempt := len(p.subs)
	onSub := p.onSub
	p.mu.Unlock()

	if onSub != nil {
		onSub(attempt, sub)
	}
	return sub
}

func (p *fakeProvider) FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, filter)
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	if len(p.pages) == 0 {
		return nil, nil
	}
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

func (p *fakeProvider) subCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func note(id string, createdAt int64) *nostr.Event {
	return &nostr.Event{ID: id, Kind: 1, CreatedAt: nostr.Timestamp(createdAt), PubKey: "author-" + id}
}

func testFeedsConfig() *config.Feeds {
	return &config.Feeds{
		FirstBatchTimeoutMs: 60,
		MaxRetries:          2,
		RetryDelayMs:        10,
		PageSize:            3,
		WindowHours:         24,
	}
}

func quietLogger() *ops.Logger {
	return ops.NewLogger(&config.Logging{Level: "error", Format: "text"})
}

type harness struct {
	provider *fakeProvider
	manager  *Manager
	statuses chan Status
	updates  chan []string
	cancel   context.CancelFunc
}

func newHarness(t *testing.T, provider *fakeProvider, cfg *config.Feeds) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	st := store.New(nil)
	visible := mutes.NewFilter(mutes.StaticProvider{}, st)
	m := NewManager(ctx, provider, st, visible, StaticMembership{}, cfg, quietLogger())

	h := &harness{
		provider: provider,
		manager:  m,
		statuses: make(chan Status, 64),
		updates:  make(chan []string, 64),
		cancel:   cancel,
	}
	m.OnStatus(func(s Status) { h.statuses <- s })
	m.OnTimeline(func(_ Source, ids []string) { h.updates <- ids })
	return h
}

func (h *harness) waitState(t *testing.T, want State) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-h.statuses:
			if status.State == want {
				return status
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestActivate_MergesOutOfOrderArrivals(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		sub.deliver(note("a", 100), note("b", 300), note("c", 200))
		sub.signalEOSE()
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)
	h.waitState(t, StateLive)

	require.Equal(t, []string{"b", "c", "a"}, h.manager.Timeline())
}

func TestActivate_DuplicateArrivalsCollapse(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		// The same event from two relays is a normal duplicate.
		sub.deliver(note("a", 100), note("a", 100), note("b", 200))
		sub.signalEOSE()
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)
	h.waitState(t, StateLive)

	require.Equal(t, []string{"b", "a"}, h.manager.Timeline())
}

func TestActivate_TimeoutRetriesExactlyMaxThenFails(t *testing.T) {
	// Never signals EOSE: every attempt must time out, not report empty.
	provider := &fakeProvider{}

	cfg := testFeedsConfig()
	cfg.FirstBatchTimeoutMs = 30
	cfg.RetryDelayMs = 5

	h := newHarness(t, provider, cfg)
	h.manager.Activate(SourceGlobal)

	retrying := h.waitState(t, StateRetrying)
	assert.Equal(t, 1, retrying.Attempt)
	assert.Equal(t, 2, retrying.MaxRetries)

	failed := h.waitState(t, StateFailed)
	require.Error(t, failed.Err)

	// Initial attempt plus exactly MaxRetries retries, then nothing more.
	require.Equal(t, 3, provider.subCount())
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, provider.subCount())
}

func TestActivate_EmptyFeedIsLiveNotFailed(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		// EOSE with no events: empty-but-healthy, distinct from timeout.
		sub.signalEOSE()
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)
	status := h.waitState(t, StateLive)

	assert.NoError(t, status.Err)
	assert.Empty(t, h.manager.Timeline())
}

func TestActivate_SupersedesStaleSource(t *testing.T) {
	var mu sync.Mutex
	staleSub := make(chan *fakeSub, 1)

	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		mu.Lock()
		defer mu.Unlock()
		if attempt == 1 {
			// First activation: stall, then let the test drive it after
			// it has been superseded.
			staleSub <- sub
			return
		}
		sub.deliver(note("fresh", 500))
		sub.signalEOSE()
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)

	stale := <-staleSub
	h.manager.Activate(SourceLongReads)
	h.waitState(t, StateLive)

	// The superseded subscription coughs up late results; they must be
	// silently discarded, not applied to the new timeline.
	stale.deliver(note("stale", 999))
	stale.signalEOSE()
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, []string{"fresh"}, h.manager.Timeline())
	assert.Equal(t, SourceLongReads, h.manager.Source())
}

func TestLoadOlder_PaginatesAndDetectsExhaustion(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		sub.deliver(note("n1", 1000), note("n2", 900), note("n3", 800))
		sub.signalEOSE()
	}
	provider.pages = [][]*nostr.Event{
		{note("o1", 700), note("o2", 600), note("o3", 500)}, // full page
		{note("o4", 400)},                                   // short page: exhausted
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)
	h.waitState(t, StateLive)

	require.NoError(t, h.manager.LoadOlder(context.Background()))
	assert.True(t, h.manager.CanLoadMore())
	assert.Equal(t, []string{"n1", "n2", "n3", "o1", "o2", "o3"}, h.manager.Timeline())

	require.NoError(t, h.manager.LoadOlder(context.Background()))
	assert.False(t, h.manager.CanLoadMore())
	assert.Len(t, h.manager.Timeline(), 7)

	// Exhausted: further calls are no-ops without new queries.
	fetchesSoFar := len(provider.fetched)
	require.NoError(t, h.manager.LoadOlder(context.Background()))
	assert.Len(t, provider.fetched, fetchesSoFar)

	// The pagination bound must sit just below the oldest loaded event.
	provider.mu.Lock()
	first := provider.fetched[0]
	provider.mu.Unlock()
	require.NotNil(t, first.Until)
	assert.Equal(t, nostr.Timestamp(799), *first.Until)
}

type gatedMembership struct {
	release chan struct{}
	authors []string
}

func (m gatedMembership) Following(ctx context.Context) ([]string, error) {
	<-m.release
	return m.authors, nil
}

func (m gatedMembership) Circles(ctx context.Context) ([]string, error) { return nil, nil }

func TestLoadOlder_BeforeFilterResolvesErrors(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		sub.signalEOSE()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(nil)
	visible := mutes.NewFilter(mutes.StaticProvider{}, st)
	membership := gatedMembership{release: release, authors: []string{"pk1"}}
	m := NewManager(ctx, provider, st, visible, membership, testFeedsConfig(), quietLogger())

	statuses := make(chan Status, 16)
	m.OnStatus(func(s Status) { statuses <- s })
	m.Activate(SourceFollowing)

	// The activation is still resolving its author set; paginating now must
	// refuse rather than query with an unresolved filter.
	require.Error(t, m.LoadOlder(context.Background()))
	provider.mu.Lock()
	require.Empty(t, provider.fetched)
	provider.mu.Unlock()

	close(release)
	waitFor(t, statuses, StateLive)

	require.NoError(t, m.LoadOlder(context.Background()))
	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.fetched, 1)
	assert.Equal(t, []string{"pk1"}, provider.fetched[0].Authors)
}

func TestDeactivate_ClearsTimeline(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		sub.deliver(note("a", 100))
		sub.signalEOSE()
	}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceGlobal)
	h.waitState(t, StateLive)

	h.manager.Deactivate()
	h.waitState(t, StateIdle)

	assert.Empty(t, h.manager.Timeline())
	assert.Equal(t, Source(""), h.manager.Source())
	require.Error(t, h.manager.LoadOlder(context.Background()))
}

func TestActivate_FollowingWithoutMembershipFails(t *testing.T) {
	provider := &fakeProvider{}

	h := newHarness(t, provider, testFeedsConfig())
	h.manager.Activate(SourceFollowing)
	status := h.waitState(t, StateFailed)

	require.Error(t, status.Err)
	assert.Equal(t, 0, provider.subCount())
}

func TestTimeline_MuteFilterAppliedAtReadTime(t *testing.T) {
	provider := &fakeProvider{}
	provider.onSub = func(attempt int, sub *fakeSub) {
		sub.deliver(note("a", 100), note("b", 200))
		sub.signalEOSE()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.New(nil)
	muteProvider := &switchableMutes{}
	visible := mutes.NewFilter(muteProvider, st)
	m := NewManager(ctx, provider, st, visible, StaticMembership{}, testFeedsConfig(), quietLogger())

	statuses := make(chan Status, 16)
	m.OnStatus(func(s Status) { statuses <- s })
	m.Activate(SourceGlobal)
	waitFor(t, statuses, StateLive)

	require.Len(t, m.Timeline(), 2)

	// Muting hides at read time without touching the store.
	muteProvider.set(mutes.NewSets([]string{"author-a"}, nil, nil, nil))
	require.Equal(t, []string{"b"}, m.Timeline())

	muteProvider.set(mutes.Sets{})
	require.Len(t, m.Timeline(), 2)
}

type switchableMutes struct {
	mu   sync.Mutex
	sets mutes.Sets
}

func (p *switchableMutes) set(sets mutes.Sets) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = sets
}

func (p *switchableMutes) MuteSets() mutes.Sets {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets
}

func waitFor(t *testing.T, statuses chan Status, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case status := <-statuses:
			if status.State == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}
