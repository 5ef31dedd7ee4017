package refs

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Refs holds the references parsed from an event's tags: the thread root,
// the direct parent being replied to, and any mentioned events or pubkeys.
// Parsing is pure and idempotent; malformed tags are skipped, never fatal.
type Refs struct {
	RootID         string
	ParentID       string
	MentionIDs     []string
	MentionPubkeys []string
	Hashtags       []string
}

// Parse extracts references from an event using NIP-10. The marked format
// (root/reply/mention markers) is preferred; bare e tags fall back to the
// deprecated positional interpretation.
func Parse(event *nostr.Event) Refs {
	r := Refs{}

	var eTags []nostr.Tag
	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[1] == "" {
			continue
		}
		switch tag[0] {
		case "e":
			eTags = append(eTags, tag)
		case "p":
			r.MentionPubkeys = append(r.MentionPubkeys, tag[1])
		case "t":
			r.Hashtags = append(r.Hashtags, strings.ToLower(tag[1]))
		}
	}

	if len(eTags) == 0 {
		return r
	}

	if hasMarkers(eTags) {
		parseMarked(eTags, &r)
	} else {
		parsePositional(eTags, &r)
	}

	// A reply without an explicit root tag replies directly to the root.
	if r.ParentID != "" && r.RootID == "" {
		r.RootID = r.ParentID
	}
	// A root tag without a reply tag means a direct reply to the root.
	if r.RootID != "" && r.ParentID == "" {
		r.ParentID = r.RootID
	}

	return r
}

func hasMarkers(eTags []nostr.Tag) bool {
	for _, tag := range eTags {
		if len(tag) >= 4 && tag[3] != "" {
			return true
		}
	}
	return false
}

func parseMarked(eTags []nostr.Tag, r *Refs) {
	for _, tag := range eTags {
		marker := ""
		if len(tag) >= 4 {
			marker = tag[3]
		}

		switch marker {
		case "root":
			r.RootID = tag[1]
		case "reply":
			r.ParentID = tag[1]
		default:
			// "mention" or unmarked alongside marked tags
			r.MentionIDs = append(r.MentionIDs, tag[1])
		}
	}
}

func parsePositional(eTags []nostr.Tag, r *Refs) {
	switch len(eTags) {
	case 1:
		// Single e tag: replying to the root itself.
		r.RootID = eTags[0][1]
		r.ParentID = eTags[0][1]

	case 2:
		// [root, reply]
		r.RootID = eTags[0][1]
		r.ParentID = eTags[1][1]

	default:
		// [root, ...mentions, reply]
		r.RootID = eTags[0][1]
		r.ParentID = eTags[len(eTags)-1][1]
		for i := 1; i < len(eTags)-1; i++ {
			r.MentionIDs = append(r.MentionIDs, eTags[i][1])
		}
	}
}

// IsReply reports whether the event this was parsed from replies to another event.
func (r Refs) IsReply() bool {
	return r.ParentID != ""
}

// RootOrSelf returns the thread root id, or eventID when the event starts
// its own thread.
func (r Refs) RootOrSelf(eventID string) string {
	if r.RootID != "" {
		return r.RootID
	}
	return eventID
}

// Threadable reports whether events of the given kind participate in reply
// threads (text notes and long-form articles).
func Threadable(kind int) bool {
	return kind == nostr.KindTextNote || kind == nostr.KindArticle
}
