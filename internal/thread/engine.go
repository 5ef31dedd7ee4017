package thread

import (
	"context"
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/weft/internal/ops"
	"github.com/sandwichfarm/weft/internal/refs"
	"github.com/sandwichfarm/weft/internal/store"
)

// Engine reconstructs reply threads from flat, out-of-order events. It
// resolves ancestor chains upward through reply references and groups
// replies into parent/children adjacency downward from the root.
type Engine struct {
	provider Provider
	store    *store.Store
	log      *ops.Logger
}

// NewEngine creates a thread engine backed by the shared event store.
func NewEngine(provider Provider, st *store.Store, log *ops.Logger) *Engine {
	return &Engine{
		provider: provider,
		store:    st,
		log:      log.WithComponent("thread"),
	}
}

// BuildThread produces a best-effort complete thread context for target:
// already-known events plus on-demand fetches for missing ancestors and the
// reply span. Unresolvable references truncate, they never fail the build.
func (e *Engine) BuildThread(ctx context.Context, target *nostr.Event) (*Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.store.Insert(target)
	ancestors := e.resolveAncestors(ctx, target, true)
	e.fetchReplySpan(ctx, target, ancestors)

	tc := e.assemble(target, ancestors)
	e.log.LogThreadResolution(target.ID, len(tc.Ancestors), len(tc.Nodes), e.chainPartial(target, ancestors))
	return tc, nil
}

// resolveAncestors walks reply references upward from target, returning the
// chain in root-to-parent order. The walk stops at a missing reference, a
// revisited id (cycle guard), or a reference no fetch can resolve.
func (e *Engine) resolveAncestors(ctx context.Context, target *nostr.Event, fetch bool) []*nostr.Event {
	var chain []*nostr.Event
	visited := map[string]bool{target.ID: true}

	current := refs.Parse(target).ParentID
	for current != "" && !visited[current] {
		visited[current] = true

		event := e.store.Get(current)
		if event == nil && fetch && ctx.Err() == nil {
			if fetched, err := e.provider.FetchOne(ctx, current); err == nil {
				e.store.Insert(fetched)
				event = e.store.Get(current)
			}
		}
		if event == nil {
			// Dangling reference: the chain ends at the last resolvable
			// event.
			break
		}

		chain = append([]*nostr.Event{event}, chain...)
		current = refs.Parse(event).ParentID
	}

	return chain
}

// chainPartial reports whether the topmost resolved event still references
// an unresolvable parent.
func (e *Engine) chainPartial(target *nostr.Event, ancestors []*nostr.Event) bool {
	top := target
	if len(ancestors) > 0 {
		top = ancestors[0]
	}
	parent := refs.Parse(top).ParentID
	return parent != "" && !e.store.Has(parent)
}

// fetchReplySpan queries replies referencing any event in the ancestor-to-
// target span and folds them into the store.
func (e *Engine) fetchReplySpan(ctx context.Context, target *nostr.Event, ancestors []*nostr.Event) {
	if ctx.Err() != nil {
		return
	}

	span := make([]string, 0, len(ancestors)+2)
	for _, a := range ancestors {
		span = append(span, a.ID)
	}
	span = append(span, target.ID)
	if rootTag := refs.Parse(target).RootID; rootTag != "" {
		span = appendUnique(span, rootTag)
	}

	filter := nostr.Filter{
		Kinds: []int{nostr.KindTextNote, nostr.KindArticle},
		Tags:  nostr.TagMap{"e": span},
	}

	events, err := e.provider.FetchEvents(ctx, filter)
	if err != nil {
		return
	}
	for _, event := range events {
		e.store.Insert(event)
	}
}

// assemble derives the Context purely from the store, so an unchanged store
// yields an identical context. Children are ordered created_at ascending
// with id as the tiebreak.
func (e *Engine) assemble(target *nostr.Event, ancestors []*nostr.Event) *Context {
	root := target
	if len(ancestors) > 0 {
		root = ancestors[0]
	}

	byParent := make(map[string][]*nostr.Event)
	e.store.Range(func(event *nostr.Event) bool {
		if !refs.Threadable(event.Kind) {
			return true
		}
		r := refs.Parse(event)
		if r.ParentID == "" {
			return true
		}
		if !e.store.Has(r.ParentID) && r.RootID == root.ID {
			// A reply whose direct parent is unresolvable but whose root
			// tag names this thread attaches under the root instead of
			// being dropped; its own replies follow it through the walk.
			byParent[root.ID] = append(byParent[root.ID], event)
			return true
		}
		byParent[r.ParentID] = append(byParent[r.ParentID], event)
		return true
	})

	tc := &Context{
		TargetID: target.ID,
		RootID:   root.ID,
		Nodes:    make(map[string]*Node),
	}

	// Breadth-first from the root through reply adjacency.
	tc.Nodes[root.ID] = &Node{Event: root}
	queue := []string{root.ID}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		kids := byParent[parentID]
		sortConversational(kids)
		parent := tc.Nodes[parentID]
		for _, kid := range kids {
			if _, seen := tc.Nodes[kid.ID]; seen {
				continue
			}
			tc.Nodes[kid.ID] = &Node{Event: kid}
			parent.Children = append(parent.Children, kid.ID)
			queue = append(queue, kid.ID)
		}
	}

	// The resolved chain and the target always have a position, even when a
	// truncated chain disconnects them from the adjacency walk.
	chain := append(append([]*nostr.Event{}, ancestors...), target)
	for i, event := range chain {
		tc.Ancestors = appendChainID(tc.Ancestors, event, target)
		if _, seen := tc.Nodes[event.ID]; seen {
			continue
		}
		tc.Nodes[event.ID] = &Node{Event: event}
		if i > 0 {
			parent := tc.Nodes[chain[i-1].ID]
			parent.Children = append(parent.Children, event.ID)
		}
	}

	return tc
}

func appendChainID(ids []string, event *nostr.Event, target *nostr.Event) []string {
	if event.ID == target.ID {
		return ids
	}
	return append(ids, event.ID)
}

func sortConversational(events []*nostr.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// UpdateFunc receives a cumulatively more complete context on every
// qualifying change of a live thread view.
type UpdateFunc func(*Context)

// Subscribe opens a live thread view on target. onUpdate fires immediately
// with whatever the cache resolves, then again as ancestor fetches and new
// replies land. The returned cancel is idempotent and stops every
// subscription opened for this view; no update is dispatched after it
// returns.
func (e *Engine) Subscribe(ctx context.Context, target *nostr.Event, onUpdate UpdateFunc) func() {
	viewCtx, cancelCtx := context.WithCancel(ctx)
	view := &liveView{
		engine:   e,
		target:   target,
		onUpdate: onUpdate,
		ctx:      viewCtx,
	}

	e.store.Insert(target)

	// Cache-only snapshot before any network work.
	view.push(e.assemble(target, e.resolveAncestors(viewCtx, target, false)))

	go view.resolve()
	go view.stream()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			// Taking the dispatch lock waits out any update already past
			// the cancellation check, so none lands after cancel returns.
			view.mu.Lock()
			view.done = true
			view.mu.Unlock()
		})
	}
}

// liveView is one streaming thread subscription. mu serializes rebuilds so
// overlapping pushes from the ancestor fetcher and the live subscription
// cannot interleave or double-report an event.
type liveView struct {
	engine   *Engine
	target   *nostr.Event
	onUpdate UpdateFunc
	ctx      context.Context

	mu   sync.Mutex
	done bool
}

func (v *liveView) push(tc *Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.done || v.ctx.Err() != nil {
		return
	}
	v.onUpdate(tc)
}

func (v *liveView) rebuild() {
	ancestors := v.engine.resolveAncestors(v.ctx, v.target, false)
	v.push(v.engine.assemble(v.target, ancestors))
}

// resolve fetches the ancestor chain and the reply span once, pushing an
// update as the context grows.
func (v *liveView) resolve() {
	ancestors := v.engine.resolveAncestors(v.ctx, v.target, true)
	if v.ctx.Err() != nil {
		return
	}
	v.engine.fetchReplySpan(v.ctx, v.target, ancestors)
	v.push(v.engine.assemble(v.target, ancestors))
}

// stream subscribes to new replies referencing the target or its nominal
// root and re-derives the context on each fresh arrival.
func (v *liveView) stream() {
	span := []string{v.target.ID}
	if rootTag := refs.Parse(v.target).RootID; rootTag != "" {
		span = appendUnique(span, rootTag)
	}

	sub := v.engine.provider.Subscribe(v.ctx, nostr.Filters{{
		Kinds: []int{nostr.KindTextNote, nostr.KindArticle},
		Tags:  nostr.TagMap{"e": span},
	}})
	defer sub.Close()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			// Overlap with the one-shot span fetch or ancestor resolution
			// is expected; only a first-seen event changes the tree.
			if v.engine.store.Insert(event) {
				v.rebuild()
			}
		case <-v.ctx.Done():
			return
		}
	}
}
