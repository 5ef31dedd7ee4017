package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/weft/internal/config"
)

// Source identifies a feed source. Each source maps to one query shape.
type Source string

const (
	SourceGlobal    Source = "global"
	SourceFollowing Source = "following"
	SourceCircles   Source = "circles"
	SourceTrending  Source = "trending"
	SourceLongReads Source = "longreads"
)

// ParseSource validates a source name from config or caller input.
func ParseSource(name string) (Source, error) {
	switch Source(name) {
	case SourceGlobal, SourceFollowing, SourceCircles, SourceTrending, SourceLongReads:
		return Source(name), nil
	case "":
		return SourceGlobal, nil
	}
	return "", fmt.Errorf("unknown feed source: %q", name)
}

// Membership resolves the author sets behind the following and circles
// sources. Resolution itself (contact lists, circle membership) happens
// outside the engine; the sets are re-read at activation time.
type Membership interface {
	Following(ctx context.Context) ([]string, error)
	Circles(ctx context.Context) ([]string, error)
}

// StaticMembership serves fixed author sets, e.g. from config.
type StaticMembership struct {
	FollowingSet []string
	CirclesSet   []string
}

func (m StaticMembership) Following(ctx context.Context) ([]string, error) {
	return m.FollowingSet, nil
}

func (m StaticMembership) Circles(ctx context.Context) ([]string, error) {
	return m.CirclesSet, nil
}

// FilterBuilder creates Nostr filters for feed source queries.
type FilterBuilder struct {
	cfg        *config.Feeds
	membership Membership
}

// NewFilterBuilder creates a filter builder.
func NewFilterBuilder(cfg *config.Feeds, membership Membership) *FilterBuilder {
	return &FilterBuilder{cfg: cfg, membership: membership}
}

// Kinds returns the event kinds a source subscribes to.
func (fb *FilterBuilder) Kinds(source Source) []int {
	switch source {
	case SourceLongReads:
		return []int{nostr.KindArticle}
	default:
		return []int{nostr.KindTextNote, nostr.KindRepost}
	}
}

// Build resolves the filter for one activation of a source. The recency
// window bounds the initial query; pagination later walks past it.
func (fb *FilterBuilder) Build(ctx context.Context, source Source) (nostr.Filter, error) {
	filter := nostr.Filter{
		Kinds: fb.Kinds(source),
		Limit: fb.cfg.PageSize,
	}

	window := fb.cfg.Window()
	if source == SourceTrending && window > 4*time.Hour {
		// Trending ranks recent activity; a day-long window drowns it.
		window = 4 * time.Hour
	}
	if window > 0 {
		since := nostr.Timestamp(time.Now().Add(-window).Unix())
		filter.Since = &since
	}

	switch source {
	case SourceFollowing:
		authors, err := fb.membership.Following(ctx)
		if err != nil {
			return filter, fmt.Errorf("failed to resolve following set: %w", err)
		}
		if len(authors) == 0 {
			return filter, fmt.Errorf("following set is empty")
		}
		filter.Authors = authors

	case SourceCircles:
		authors, err := fb.membership.Circles(ctx)
		if err != nil {
			return filter, fmt.Errorf("failed to resolve circles set: %w", err)
		}
		if len(authors) == 0 {
			return filter, fmt.Errorf("circles set is empty")
		}
		filter.Authors = authors
	}

	return filter, nil
}

// BuildOlder derives the load-older query from an activation filter: same
// shape, bounded above by the current pagination cursor, window removed.
func (fb *FilterBuilder) BuildOlder(base nostr.Filter, until nostr.Timestamp) nostr.Filter {
	older := base
	older.Since = nil
	older.Until = &until
	older.Limit = fb.cfg.PageSize
	return older
}
