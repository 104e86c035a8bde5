// Package merge appends incrementally fetched rows to an ordered
// collection using a per-stream watermark.
package merge

import (
	"time"

	"murmur/api/internal/item"
	"murmur/api/internal/store"
	"murmur/api/internal/thread"
)

// Watermark is the creation time of the newest accepted item of a
// stream. It never moves backwards. The zero value is an empty
// watermark.
type Watermark struct {
	at time.Time
}

func At(t time.Time) Watermark {
	return Watermark{at: t.UTC()}
}

func (w Watermark) Time() time.Time {
	return w.at
}

func (w Watermark) IsZero() bool {
	return w.at.IsZero()
}

// Advance returns the later of w and t.
func (w Watermark) Advance(t time.Time) Watermark {
	if t.After(w.at) {
		return Watermark{at: t.UTC()}
	}
	return w
}

// Query narrows q to rows strictly newer than w, oldest first.
func (w Watermark) Query(q store.Query) store.Query {
	q.After = w.Time()
	q.OrderBy = ""
	q.Desc = false
	return q
}

func (w Watermark) String() string {
	if w.IsZero() {
		return "empty"
	}
	return w.at.Format(time.RFC3339Nano)
}

// Merger tracks the watermark and the ids already merged into one
// stream's collection.
type Merger struct {
	watermark Watermark
	seen      map[string]struct{}
}

func NewMerger() *Merger {
	return &Merger{seen: make(map[string]struct{})}
}

func (m *Merger) Watermark() Watermark {
	return m.watermark
}

// Append appends the items of an incremental fetch to the tail of f and
// returns the ones that were new. Previously merged rows are never
// moved. An id that is already present is treated as an update of that
// entity: its item is replaced in place and its view flags are kept.
// The watermark advances to the newest returned timestamp.
func (m *Merger) Append(f *thread.Forest, items []item.Item) []item.Item {
	accepted := make([]item.Item, 0, len(items))
	for _, it := range items {
		m.watermark = m.watermark.Advance(it.CreatedAt)
		if node, ok := f.Find(it.ID); ok {
			fresh := it.Clone()
			for name, on := range node.Item.Flags {
				if name == item.FlagPending {
					continue
				}
				if _, set := fresh.Flags[name]; !set {
					fresh.SetFlag(name, on)
				}
			}
			node.Item = fresh
			m.seen[it.ID] = struct{}{}
			continue
		}
		if _, dup := m.seen[it.ID]; dup {
			continue
		}
		m.seen[it.ID] = struct{}{}
		f.Add(it, thread.PolicyNone)
		accepted = append(accepted, it)
	}
	return accepted
}

// Exclude marks id as merged so later fetches never add it. Locally
// deleted rows are excluded so a stale fetch cannot bring them back.
func (m *Merger) Exclude(id string) {
	m.seen[id] = struct{}{}
}

// Reset empties the watermark and the merged set.
func (m *Merger) Reset() {
	m.watermark = Watermark{}
	m.seen = make(map[string]struct{})
}
