package store

import (
	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sandwichfarm/weft/internal/refs"
)

// Verifier decides whether an event is structurally acceptable (valid
// signature, timestamp not too far in the future). Events it rejects are
// treated as never having arrived.
type Verifier func(*nostr.Event) bool

// Store is the session-scoped, append-only event store. It is the single
// source of truth for deduplication: two events with the same id are the
// same event, and the first insert wins. Safe for concurrent use.
type Store struct {
	events *xsync.MapOf[string, *nostr.Event]
	// parent id per threadable event, feeding ResolveRoot
	parents *xsync.MapOf[string, string]
	verify  Verifier
}

// New creates an empty store. verify may be nil, in which case every
// structurally complete event is accepted.
func New(verify Verifier) *Store {
	return &Store{
		events:  xsync.NewMapOf[string, *nostr.Event](),
		parents: xsync.NewMapOf[string, string](),
		verify:  verify,
	}
}

// Insert adds an event to the store. It returns false when the event was
// already present or failed verification. Duplicate inserts are normal and
// harmless; existing entries are never overwritten.
func (s *Store) Insert(event *nostr.Event) bool {
	if event == nil || event.ID == "" {
		return false
	}
	if s.verify != nil && !s.verify(event) {
		return false
	}

	if _, loaded := s.events.LoadOrStore(event.ID, event); loaded {
		return false
	}

	if refs.Threadable(event.Kind) {
		if r := refs.Parse(event); r.ParentID != "" {
			s.parents.Store(event.ID, r.ParentID)
		}
	}

	return true
}

// Get returns the event for id, or nil when unknown.
func (s *Store) Get(id string) *nostr.Event {
	event, _ := s.events.Load(id)
	return event
}

// Has reports whether the event id has been seen this session.
func (s *Store) Has(id string) bool {
	_, ok := s.events.Load(id)
	return ok
}

// Len returns the number of distinct events seen.
func (s *Store) Len() int {
	return s.events.Size()
}

// Range calls fn for each stored event until fn returns false.
func (s *Store) Range(fn func(event *nostr.Event) bool) {
	s.events.Range(func(_ string, event *nostr.Event) bool {
		return fn(event)
	})
}

// ResolveRoot walks the parent index upward from id and returns the topmost
// known ancestor. Unknown links stop the walk; a reference cycle is cut at
// the first revisited id. An event with no known parent resolves to itself.
func (s *Store) ResolveRoot(id string) string {
	visited := map[string]bool{id: true}
	current := id
	for {
		parent, ok := s.parents.Load(current)
		if !ok || visited[parent] {
			return current
		}
		visited[parent] = true
		current = parent
	}
}
