package mutes

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/weft/internal/refs"
)

// Sets holds the active mute rules. Word matching is case-insensitive
// substring; hashtags match parsed t tags; threads match the resolved root
// of the event's thread.
type Sets struct {
	Authors  map[string]bool
	Words    []string
	Hashtags map[string]bool
	Threads  map[string]bool
}

// Provider supplies the current mute sets. Implementations are re-read at
// feed activation, not watched continuously.
type Provider interface {
	MuteSets() Sets
}

// StaticProvider is a fixed-set Provider, used by config wiring and tests.
type StaticProvider struct {
	Sets Sets
}

func (p StaticProvider) MuteSets() Sets { return p.Sets }

// NewSets builds a Sets from plain lists, normalizing case where matching
// is case-insensitive.
func NewSets(authors, words, hashtags, threads []string) Sets {
	s := Sets{
		Authors:  make(map[string]bool, len(authors)),
		Words:    make([]string, 0, len(words)),
		Hashtags: make(map[string]bool, len(hashtags)),
		Threads:  make(map[string]bool, len(threads)),
	}
	for _, a := range authors {
		s.Authors[a] = true
	}
	for _, w := range words {
		if w != "" {
			s.Words = append(s.Words, strings.ToLower(w))
		}
	}
	for _, h := range hashtags {
		s.Hashtags[strings.ToLower(strings.TrimPrefix(h, "#"))] = true
	}
	for _, id := range threads {
		s.Threads[id] = true
	}
	return s
}

// RootResolver resolves an event id to its topmost known thread ancestor.
// *store.Store satisfies this.
type RootResolver interface {
	ResolveRoot(id string) string
}

// Filter decides event visibility at read time. It never mutates stored
// events or timelines, so unmuting retroactively reveals cached events.
type Filter struct {
	provider Provider
	roots    RootResolver
}

// NewFilter creates a filter. roots may be nil, disabling thread muting.
func NewFilter(provider Provider, roots RootResolver) *Filter {
	return &Filter{provider: provider, roots: roots}
}

// Visible reports whether the event passes the current mute sets.
func (f *Filter) Visible(event *nostr.Event) bool {
	if event == nil {
		return false
	}
	return Visible(event, f.provider.MuteSets(), f.roots)
}

// Visible is the pure predicate behind Filter, usable against an explicit
// snapshot of the mute sets.
func Visible(event *nostr.Event, sets Sets, roots RootResolver) bool {
	if sets.Authors[event.PubKey] {
		return false
	}

	if len(sets.Words) > 0 {
		content := strings.ToLower(event.Content)
		for _, word := range sets.Words {
			if strings.Contains(content, word) {
				return false
			}
		}
	}

	r := refs.Parse(event)

	if len(sets.Hashtags) > 0 {
		for _, tag := range r.Hashtags {
			if sets.Hashtags[tag] {
				return false
			}
		}
	}

	if len(sets.Threads) > 0 {
		// The tagged root hides the event even when the chain is not yet
		// resolvable locally.
		if sets.Threads[r.RootOrSelf(event.ID)] {
			return false
		}
		if roots != nil && sets.Threads[roots.ResolveRoot(event.ID)] {
			return false
		}
	}

	return true
}
