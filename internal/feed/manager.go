package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/weft/internal/config"
	"github.com/sandwichfarm/weft/internal/mutes"
	"github.com/sandwichfarm/weft/internal/ops"
	"github.com/sandwichfarm/weft/internal/store"
	"github.com/sandwichfarm/weft/internal/timeline"
)

// State is the outward feed lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateRetrying State = "retrying"
	StateLive     State = "live"
	// StateFailed means every attempt exhausted: "feed unavailable",
	// distinct from an empty-but-healthy live feed.
	StateFailed State = "failed"
)

// Status is the feed-level status published to observers.
type Status struct {
	Source      Source
	State       State
	Attempt     int
	MaxRetries  int
	Err         error
	CanLoadMore bool
}

// StatusFunc observes status transitions.
type StatusFunc func(Status)

// TimelineFunc observes the merged, mute-filtered id order, newest first.
type TimelineFunc func(source Source, ids []string)

// Manager owns one active subscription per feed source. Activating a source
// supersedes the previous one; results from a superseded attempt are
// silently discarded.
type Manager struct {
	provider Provider
	store    *store.Store
	visible  *mutes.Filter
	filters  *FilterBuilder
	cfg      *config.Feeds
	log      *ops.Logger

	baseCtx context.Context

	mu          sync.Mutex
	generation  uint64
	source      Source
	timeline    *timeline.Timeline
	baseFilter  nostr.Filter
	filterGen   uint64
	cancel      context.CancelFunc
	canLoadMore bool

	statusFns   []StatusFunc
	timelineFns []TimelineFunc
}

// NewManager creates a feed manager. ctx bounds the manager's lifetime;
// cancelling it stops all subscriptions.
func NewManager(ctx context.Context, provider Provider, st *store.Store, visible *mutes.Filter, membership Membership, cfg *config.Feeds, log *ops.Logger) *Manager {
	return &Manager{
		provider: provider,
		store:    st,
		visible:  visible,
		filters:  NewFilterBuilder(cfg, membership),
		cfg:      cfg,
		log:      log.WithComponent("feed"),
		baseCtx:  ctx,
		timeline: timeline.New(),
	}
}

// OnStatus registers a status observer. Not safe to call after Activate.
func (m *Manager) OnStatus(fn StatusFunc) {
	m.statusFns = append(m.statusFns, fn)
}

// OnTimeline registers a timeline observer. Not safe to call after Activate.
func (m *Manager) OnTimeline(fn TimelineFunc) {
	m.timelineFns = append(m.timelineFns, fn)
}

// Activate switches to source: the previous subscription and any in-flight
// retry loop are superseded, the timeline is replaced wholesale, and a new
// subscription attempt begins.
func (m *Manager) Activate(source Source) {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	if m.cancel != nil {
		m.cancel()
	}
	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	m.source = source
	m.timeline = timeline.New()
	m.canLoadMore = true
	m.mu.Unlock()

	m.publishStatus(gen, Status{Source: source, State: StateLoading, MaxRetries: m.cfg.MaxRetries})

	go m.run(runCtx, gen, source)
}

// Deactivate stops the active subscription and clears the timeline.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	source := m.source
	m.source = ""
	m.timeline = timeline.New()
	m.canLoadMore = false
	m.mu.Unlock()

	m.publishStatus(gen, Status{Source: source, State: StateIdle})
}

// Source returns the currently active source, or "" when idle.
func (m *Manager) Source() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// CanLoadMore reports whether older pages may remain.
func (m *Manager) CanLoadMore() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canLoadMore
}

// Timeline returns the current mute-filtered id order, newest first. The
// filter is applied at read time so mute changes take effect without
// touching stored events.
func (m *Manager) Timeline() []string {
	m.mu.Lock()
	tl := m.timeline
	m.mu.Unlock()
	return m.filterVisible(tl.Snapshot())
}

func (m *Manager) filterVisible(ids []string) []string {
	if m.visible == nil {
		return ids
	}
	visible := make([]string, 0, len(ids))
	for _, id := range ids {
		if m.visible.Visible(m.store.Get(id)) {
			visible = append(visible, id)
		}
	}
	return visible
}

// run drives one activation: open, await first batch with timeout, retry up
// to the configured bound, then stream until superseded.
func (m *Manager) run(ctx context.Context, gen uint64, source Source) {
	baseFilter, err := m.filters.Build(ctx, source)
	if err != nil {
		m.log.LogFeedStatus(string(source), string(StateFailed), 0, m.cfg.MaxRetries, err)
		m.publishStatus(gen, Status{Source: source, State: StateFailed, MaxRetries: m.cfg.MaxRetries, Err: err})
		return
	}

	m.mu.Lock()
	if gen == m.generation {
		m.baseFilter = baseFilter
		m.filterGen = gen
	}
	m.mu.Unlock()

	for attempt := 0; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			m.publishStatus(gen, Status{
				Source:     source,
				State:      StateRetrying,
				Attempt:    attempt,
				MaxRetries: m.cfg.MaxRetries,
			})
			m.log.LogFeedStatus(string(source), string(StateRetrying), attempt, m.cfg.MaxRetries, nil)

			select {
			case <-time.After(m.cfg.RetryDelay()):
			case <-ctx.Done():
				return
			}
		}

		sub := m.provider.Subscribe(ctx, nostr.Filters{baseFilter})
		m.log.LogSubscription(string(source), true, 0)

		if m.awaitFirstBatch(ctx, gen, sub) {
			m.publishStatus(gen, Status{Source: source, State: StateLive, CanLoadMore: true})
			m.publishTimeline(gen, source)
			m.stream(ctx, gen, source, sub)
			return
		}

		sub.Close()
		if ctx.Err() != nil {
			return
		}
	}

	err = fmt.Errorf("no initial results within %s after %d attempts", m.cfg.FirstBatchTimeout(), m.cfg.MaxRetries+1)
	m.log.LogFeedStatus(string(source), string(StateFailed), m.cfg.MaxRetries, m.cfg.MaxRetries, err)
	m.publishStatus(gen, Status{Source: source, State: StateFailed, MaxRetries: m.cfg.MaxRetries, Err: err})
}

// awaitFirstBatch consumes arrivals while racing the end-of-stored-events
// marker against the first-batch timeout. A timeout is a failed attempt,
// not an empty result: an empty-but-healthy feed still signals EOSE.
func (m *Manager) awaitFirstBatch(ctx context.Context, gen uint64, sub Subscription) bool {
	timer := time.NewTimer(m.cfg.FirstBatchTimeout())
	defer timer.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			m.ingest(gen, event)
		case <-sub.EndOfStored():
			return true
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// stream is the steady state: merge live arrivals until superseded.
func (m *Manager) stream(ctx context.Context, gen uint64, source Source, sub Subscription) {
	defer sub.Close()

	count := 0
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				m.log.LogSubscription(string(source), false, count)
				return
			}
			count++
			if m.ingest(gen, event) {
				m.publishTimeline(gen, source)
			}
		case <-ctx.Done():
			m.log.LogSubscription(string(source), false, count)
			return
		}
	}
}

// ingest merges one arrival: dedup through the store, then sorted insert
// into the active timeline. Returns true when the timeline changed. Stale
// generations discard silently.
func (m *Manager) ingest(gen uint64, event *nostr.Event) bool {
	if event == nil || event.ID == "" {
		return false
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return false
	}
	tl := m.timeline
	m.mu.Unlock()

	if !m.store.Insert(event) && !m.store.Has(event.ID) {
		// Rejected by the verifier: treated as never having arrived.
		return false
	}

	return tl.Insert(event.ID, event.CreatedAt)
}

// LoadOlder fetches one page of events older than the pagination cursor and
// merges it like any other arrival. Exhaustion (a short page) clears
// CanLoadMore.
func (m *Manager) LoadOlder(ctx context.Context) error {
	m.mu.Lock()
	gen := m.generation
	source := m.source
	tl := m.timeline
	baseFilter := m.baseFilter
	filterReady := m.filterGen == m.generation
	canLoadMore := m.canLoadMore
	m.mu.Unlock()

	if source == "" {
		return fmt.Errorf("no active feed source")
	}
	if !filterReady {
		// The activation's filter has not resolved yet; paginating now
		// would query with a stale or zero-value filter.
		return fmt.Errorf("feed %s is still activating", source)
	}
	if !canLoadMore {
		return nil
	}

	until := tl.OldestSeenAt()
	if until > 0 {
		until--
	} else {
		until = nostr.Now()
	}

	filter := m.filters.BuildOlder(baseFilter, until)
	events, err := m.provider.FetchEvents(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load older events: %w", err)
	}

	changed := false
	for _, event := range events {
		if m.ingest(gen, event) {
			changed = true
		}
	}

	exhausted := len(events) < m.cfg.PageSize
	m.mu.Lock()
	if gen == m.generation && exhausted {
		m.canLoadMore = false
	}
	stillMore := m.canLoadMore
	m.mu.Unlock()

	m.log.LogPagination(string(source), m.cfg.PageSize, len(events), stillMore)
	if changed || exhausted {
		m.publishTimeline(gen, source)
	}
	return nil
}

func (m *Manager) publishStatus(gen uint64, status Status) {
	m.mu.Lock()
	stale := gen != m.generation
	status.CanLoadMore = m.canLoadMore && status.State == StateLive
	m.mu.Unlock()
	if stale {
		return
	}

	for _, fn := range m.statusFns {
		fn(status)
	}
}

func (m *Manager) publishTimeline(gen uint64, source Source) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	tl := m.timeline
	m.mu.Unlock()

	ids := m.filterVisible(tl.Snapshot())
	for _, fn := range m.timelineFns {
		fn(source, ids)
	}
}
