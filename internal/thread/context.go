package thread

import (
	"github.com/nbd-wtf/go-nostr"
)

// Node is one event in a reply tree with its children in conversational
// order (created_at ascending).
type Node struct {
	Event    *nostr.Event
	Children []string
}

// Context is the derived view of a thread rooted at a target event. A
// partial ancestor chain is a valid context, not an error: RootID is the
// topmost ancestor that could actually be resolved, which may differ from
// the conversation's nominal root tag when that event is unavailable.
type Context struct {
	TargetID string
	// RootID is the id of the root post. Every node is reachable from it,
	// except where a dangling reference truncated the chain.
	RootID string
	// Ancestors is the resolved chain from root to the target's direct
	// parent. Empty when the target is itself a root.
	Ancestors []string
	Nodes     map[string]*Node
}

// Root returns the root post node.
func (c *Context) Root() *Node {
	return c.Nodes[c.RootID]
}

// Target returns the target event's node.
func (c *Context) Target() *Node {
	return c.Nodes[c.TargetID]
}

// Stats summarizes a thread tree for display.
type Stats struct {
	// TotalEvents is the number of distinct events in the tree.
	TotalEvents int
	// Branches counts nodes with more than one child.
	Branches int
}

// Stats reports display-level statistics for the tree.
func (c *Context) Stats() Stats {
	s := Stats{TotalEvents: len(c.Nodes)}
	for _, node := range c.Nodes {
		if len(node.Children) > 1 {
			s.Branches++
		}
	}
	return s
}
