package hydration

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/weft/internal/config"
	"github.com/sandwichfarm/weft/internal/ops"
	"github.com/sandwichfarm/weft/internal/refs"
)

// Snapshot is the engagement state for one event id. It is only ever
// produced by a completed batch, never guessed: an id a query returned
// nothing for gets a zero snapshot.
type Snapshot struct {
	EventID    string
	Likes      int
	Reposts    int
	Replies    int
	ZapSats    int64
	Reactions  map[string]int
	Liked      bool
	Reposted   bool
	Zapped     bool
	HydratedAt time.Time
}

// Querier issues bounded count queries.
type Querier interface {
	FetchEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
}

// ResultFunc observes the snapshots of one completed batch.
type ResultFunc func(map[string]*Snapshot)

// Queue batches engagement count requests. Enqueues within the coalescing
// window collapse into one dispatch of at most MaxBatch ids per query, so
// rendering a page of feed items costs one round trip, not one per item.
type Queue struct {
	querier Querier
	cfg     *config.Hydration
	viewer  string
	log     *ops.Logger
	ctx     context.Context

	mu        sync.Mutex
	pending   map[string]struct{}
	debounced func(func())

	snapshots *xsync.MapOf[string, *Snapshot]
	resultFns []ResultFunc
}

// NewQueue creates a hydration queue. viewer is the pubkey whose
// liked/reposted/zapped flags are derived; it may be empty.
func NewQueue(ctx context.Context, querier Querier, cfg *config.Hydration, viewer string, log *ops.Logger) *Queue {
	return &Queue{
		querier:   querier,
		cfg:       cfg,
		viewer:    viewer,
		log:       log.WithComponent("hydration"),
		ctx:       ctx,
		pending:   make(map[string]struct{}),
		debounced: debounce.New(cfg.CoalesceWindow()),
		snapshots: xsync.NewMapOf[string, *Snapshot](),
	}
}

// OnResults registers a batch observer. Not safe to call after Enqueue.
func (q *Queue) OnResults(fn ResultFunc) {
	q.resultFns = append(q.resultFns, fn)
}

// Snapshot returns the last hydrated state for id, if any.
func (q *Queue) Snapshot(id string) (*Snapshot, bool) {
	return q.snapshots.Load(id)
}

// Enqueue requests counts for ids. The default path coalesces requests
// arriving within the configured window; immediate dispatches synchronously
// for small latency-sensitive loads. Ids hydrated within the freshness
// window are skipped.
func (q *Queue) Enqueue(ids []string, immediate bool) {
	q.mu.Lock()
	added := false
	for _, id := range ids {
		if id == "" || q.fresh(id) {
			continue
		}
		q.pending[id] = struct{}{}
		added = true
	}
	q.mu.Unlock()

	if !added {
		return
	}

	if immediate {
		q.flush()
		return
	}
	q.debounced(q.flush)
}

func (q *Queue) fresh(id string) bool {
	snap, ok := q.snapshots.Load(id)
	return ok && time.Since(snap.HydratedAt) < q.cfg.Freshness()
}

// flush dispatches everything pending, chunked to the batch bound.
func (q *Queue) flush() {
	q.mu.Lock()
	batch := make([]string, 0, len(q.pending))
	for id := range q.pending {
		batch = append(batch, id)
	}
	q.pending = make(map[string]struct{})
	q.mu.Unlock()

	for len(batch) > 0 {
		n := len(batch)
		if n > q.cfg.MaxBatch {
			n = q.cfg.MaxBatch
		}
		q.hydrate(batch[:n])
		batch = batch[n:]
	}
}

// hydrate runs one count query and publishes a snapshot for every id in the
// chunk, zero-valued where nothing was returned.
func (q *Queue) hydrate(ids []string) {
	start := time.Now()

	filter := nostr.Filter{
		Kinds: []int{nostr.KindTextNote, nostr.KindRepost, nostr.KindReaction, nostr.KindZap},
		Tags:  nostr.TagMap{"e": ids},
	}

	events, err := q.querier.FetchEvents(q.ctx, filter)
	q.log.LogHydrationBatch(len(ids), false, time.Since(start), err)
	if err != nil {
		return
	}

	now := time.Now()
	result := make(map[string]*Snapshot, len(ids))
	for _, id := range ids {
		result[id] = &Snapshot{
			EventID:    id,
			Reactions:  make(map[string]int),
			HydratedAt: now,
		}
	}

	seen := make(map[string]bool, len(events))
	for _, event := range events {
		if event == nil || seen[event.ID] {
			continue
		}
		seen[event.ID] = true
		q.tally(result, event)
	}

	for id, snap := range result {
		q.snapshots.Store(id, snap)
	}
	for _, fn := range q.resultFns {
		fn(result)
	}
}

// tally folds one engagement event into the batch result.
func (q *Queue) tally(result map[string]*Snapshot, event *nostr.Event) {
	switch event.Kind {
	case nostr.KindTextNote:
		// A note counts as a reply to its direct parent only.
		parent := refs.Parse(event).ParentID
		if snap, ok := result[parent]; ok {
			snap.Replies++
		}

	case nostr.KindRepost:
		snap, ok := result[firstETag(event)]
		if !ok {
			return
		}
		snap.Reposts++
		if event.PubKey == q.viewer && q.viewer != "" {
			snap.Reposted = true
		}

	case nostr.KindReaction:
		snap, ok := result[firstETag(event)]
		if !ok {
			return
		}
		reaction := event.Content
		if reaction == "" {
			reaction = "+"
		}
		snap.Likes++
		snap.Reactions[reaction]++
		if event.PubKey == q.viewer && q.viewer != "" {
			snap.Liked = true
		}

	case nostr.KindZap:
		snap, ok := result[firstETag(event)]
		if !ok {
			return
		}
		snap.ZapSats += parseZapSats(event)
		if q.viewer != "" && zapSender(event) == q.viewer {
			snap.Zapped = true
		}
	}
}

func firstETag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}
