package timeline

import (
	"sort"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Timeline is an ordered sequence of event ids sorted by created_at
// descending. Ids are unique; inserting an already-present id is a no-op.
// Out-of-order arrivals are placed at their sort-correct position rather
// than appended. Safe for concurrent use.
type Timeline struct {
	mu      sync.RWMutex
	entries []entry
	seen    map[string]bool
}

type entry struct {
	id        string
	createdAt nostr.Timestamp
}

// New creates an empty timeline.
func New() *Timeline {
	return &Timeline{seen: make(map[string]bool)}
}

// Insert places id at its sorted position. Returns false for duplicates.
func (t *Timeline) Insert(id string, createdAt nostr.Timestamp) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen[id] {
		return false
	}
	t.seen[id] = true

	// First index whose timestamp is strictly older; equal timestamps keep
	// arrival order among themselves.
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].createdAt < createdAt
	})

	t.entries = append(t.entries, entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = entry{id: id, createdAt: createdAt}
	return true
}

// Snapshot returns the current id order, newest first.
func (t *Timeline) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, len(t.entries))
	for i, e := range t.entries {
		ids[i] = e.id
	}
	return ids
}

// Len returns the number of ids in the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Contains reports whether id is already in the timeline.
func (t *Timeline) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seen[id]
}

// OldestSeenAt returns the pagination cursor: the created_at of the oldest
// loaded entry, or 0 for an empty timeline.
func (t *Timeline) OldestSeenAt() nostr.Timestamp {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.entries) == 0 {
		return 0
	}
	return t.entries[len(t.entries)-1].createdAt
}

// Clear removes all entries, resetting the cursor.
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.seen = make(map[string]bool)
}
