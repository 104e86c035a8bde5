package thread

import "murmur/api/internal/item"

// The methods in this file are the optimistic mutator. They change the
// forest in place and synchronously; none of them talks to the store.
// Lookups descend into replies at any depth.

// Add inserts it under its parent when the parent is present, otherwise
// as a root. Under PolicyNewest the node goes first among its siblings,
// otherwise last; existing siblings keep their order. Add reports false
// and changes nothing when the id is already present.
func (f *Forest) Add(it item.Item, policy Policy) bool {
	if _, exists := f.Find(it.ID); exists {
		return false
	}
	node := &Node{Item: it.Clone(), Children: []*Node{}}
	if it.ParentID != "" {
		if parent, ok := f.Find(it.ParentID); ok {
			parent.Children = insert(parent.Children, node, policy)
			return true
		}
	}
	*f = insert(*f, node, policy)
	return true
}

func insert(nodes []*Node, node *Node, policy Policy) []*Node {
	if policy == PolicyNewest {
		return append([]*Node{node}, nodes...)
	}
	return append(nodes, node)
}

// Update applies patch to the node with id.
func (f Forest) Update(id string, patch item.Patch) bool {
	node, ok := f.Find(id)
	if !ok {
		return false
	}
	patch.Apply(&node.Item)
	return true
}

// Remove detaches the node with id, together with its replies, and
// returns it.
func (f *Forest) Remove(id string) (*Node, bool) {
	removed, rest := remove(*f, id)
	if removed == nil {
		return nil, false
	}
	*f = rest
	return removed, true
}

func remove(nodes []*Node, id string) (*Node, []*Node) {
	for i, node := range nodes {
		if node.Item.ID == id {
			rest := make([]*Node, 0, len(nodes)-1)
			rest = append(rest, nodes[:i]...)
			rest = append(rest, nodes[i+1:]...)
			return node, rest
		}
		if removed, children := remove(node.Children, id); removed != nil {
			node.Children = children
			return removed, nodes
		}
	}
	return nil, nodes
}

// ToggleCounter adds delta to the named counter of the node with id.
// Counters never drop below zero.
func (f Forest) ToggleCounter(id, name string, delta int) bool {
	node, ok := f.Find(id)
	if !ok {
		return false
	}
	value := node.Item.Counter(name) + delta
	if value < 0 {
		value = 0
	}
	node.Item.SetCounter(name, value)
	return true
}

// SetFlag sets a view flag on the node with id.
func (f Forest) SetFlag(id, name string, on bool) bool {
	node, ok := f.Find(id)
	if !ok {
		return false
	}
	node.Item.SetFlag(name, on)
	return true
}

// Replace swaps the item of the node with id, keeping its replies.
func (f Forest) Replace(id string, it item.Item) bool {
	node, ok := f.Find(id)
	if !ok {
		return false
	}
	node.Item = it.Clone()
	return true
}
