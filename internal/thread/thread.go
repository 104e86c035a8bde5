// Package thread rebuilds reply trees from flat item lists and applies
// optimistic edits to them.
//
// Every collection the sync engine holds is a Forest: threaded comments
// have children, while feeds, chat lists and message logs are forests of
// roots only.
package thread

import (
	"fmt"
	"sort"
	"strings"

	"murmur/api/internal/item"
)

// Policy orders siblings.
type Policy string

const (
	// PolicyNewest sorts by creation time, newest first.
	PolicyNewest Policy = "newest"
	// PolicyOldest sorts by creation time, oldest first.
	PolicyOldest Policy = "oldest"
	// PolicyPopular sorts by like count, highest first. Equal counts
	// fall back to newest first, then to id.
	PolicyPopular Policy = "popular"
	// PolicyNone keeps input order. Message logs use it so appended
	// rows are never re-sorted.
	PolicyNone Policy = "none"
)

// ParsePolicy accepts a policy name, defaulting to newest when empty.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyNewest:
		return PolicyNewest, nil
	case PolicyOldest:
		return PolicyOldest, nil
	case PolicyPopular:
		return PolicyPopular, nil
	case PolicyNone:
		return PolicyNone, nil
	default:
		return "", fmt.Errorf("unknown sort policy %q", value)
	}
}

// Node is an item and its ordered replies.
type Node struct {
	Item     item.Item `json:"item"`
	Children []*Node   `json:"children"`
}

// Forest is an ordered list of root nodes.
type Forest []*Node

// Reconcile builds a forest from a flat list. Items whose parent is
// empty or absent from items become roots. The policy orders roots and,
// recursively, every child list. Items are cloned; the result shares no
// state with the input, and equal inputs always produce equal forests.
//
// If items repeats an id, the last occurrence wins.
func Reconcile(items []item.Item, policy Policy) Forest {
	nodes := make(map[string]*Node, len(items))
	order := make([]string, 0, len(items))
	for _, it := range items {
		if existing, ok := nodes[it.ID]; ok {
			existing.Item = it.Clone()
			continue
		}
		nodes[it.ID] = &Node{Item: it.Clone(), Children: []*Node{}}
		order = append(order, it.ID)
	}

	roots := make(Forest, 0, len(order))
	for _, id := range order {
		node := nodes[id]
		parentID := node.Item.ParentID
		parent, ok := nodes[parentID]
		if parentID == "" || !ok || parent == node || createsCycle(nodes, node) {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	roots.Sort(policy)
	return roots
}

// createsCycle reports whether following parent links from node leads
// back to node. Such items are treated as roots.
func createsCycle(nodes map[string]*Node, node *Node) bool {
	seen := map[string]bool{node.Item.ID: true}
	current := node
	for {
		parent, ok := nodes[current.Item.ParentID]
		if current.Item.ParentID == "" || !ok {
			return false
		}
		if seen[parent.Item.ID] {
			return parent == node
		}
		seen[parent.Item.ID] = true
		current = parent
	}
}

// Sort orders f and every descendant list by policy.
func (f Forest) Sort(policy Policy) {
	sortNodes(f, policy)
	for _, node := range f {
		Forest(node.Children).Sort(policy)
	}
}

func sortNodes(nodes []*Node, policy Policy) {
	switch policy {
	case PolicyNewest:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Item.CreatedAt.After(nodes[j].Item.CreatedAt)
		})
	case PolicyOldest:
		sort.SliceStable(nodes, func(i, j int) bool {
			return nodes[i].Item.CreatedAt.Before(nodes[j].Item.CreatedAt)
		})
	case PolicyPopular:
		sort.SliceStable(nodes, func(i, j int) bool {
			a, b := nodes[i].Item, nodes[j].Item
			if la, lb := a.Counter(item.CounterLikes), b.Counter(item.CounterLikes); la != lb {
				return la > lb
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID < b.ID
		})
	}
}

// Walk visits every node depth-first, parents before children. Walk
// stops early when fn returns false.
func (f Forest) Walk(fn func(node *Node, depth int) bool) {
	walk(f, 0, fn)
}

func walk(nodes []*Node, depth int, fn func(*Node, int) bool) bool {
	for _, node := range nodes {
		if !fn(node, depth) {
			return false
		}
		if !walk(node.Children, depth+1, fn) {
			return false
		}
	}
	return true
}

// Find returns the node with id anywhere in the forest.
func (f Forest) Find(id string) (*Node, bool) {
	var found *Node
	f.Walk(func(node *Node, _ int) bool {
		if node.Item.ID == id {
			found = node
			return false
		}
		return true
	})
	return found, found != nil
}

// Len counts every node in the forest.
func (f Forest) Len() int {
	count := 0
	f.Walk(func(*Node, int) bool {
		count++
		return true
	})
	return count
}

// Items flattens the forest depth-first.
func (f Forest) Items() []item.Item {
	out := make([]item.Item, 0, f.Len())
	f.Walk(func(node *Node, _ int) bool {
		out = append(out, node.Item)
		return true
	})
	return out
}

// IDs lists root ids in order.
func (f Forest) IDs() []string {
	ids := make([]string, len(f))
	for i, node := range f {
		ids[i] = node.Item.ID
	}
	return ids
}

// Clone deep-copies the forest.
func (f Forest) Clone() Forest {
	if f == nil {
		return nil
	}
	out := make(Forest, len(f))
	for i, node := range f {
		out[i] = &Node{
			Item:     node.Item.Clone(),
			Children: Forest(node.Children).Clone(),
		}
		if out[i].Children == nil {
			out[i].Children = []*Node{}
		}
	}
	return out
}

// CarryFlags copies view flags from prev onto the matching nodes of
// next. Flags the fresh item already sets win, so a source can report
// server-derived flags such as FlagLiked.
func CarryFlags(prev, next Forest) {
	if len(prev) == 0 {
		return
	}
	flags := make(map[string]map[string]bool)
	prev.Walk(func(node *Node, _ int) bool {
		if len(node.Item.Flags) > 0 {
			flags[node.Item.ID] = node.Item.Flags
		}
		return true
	})
	next.Walk(func(node *Node, _ int) bool {
		old, ok := flags[node.Item.ID]
		if !ok {
			return true
		}
		for name, on := range old {
			if name == item.FlagPending {
				continue
			}
			if _, set := node.Item.Flags[name]; set {
				continue
			}
			node.Item.SetFlag(name, on)
		}
		return true
	})
}
