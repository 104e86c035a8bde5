// Package item defines the normalized record the sync engine works on
// and decodes raw store rows into it.
package item

import (
	"maps"
	"time"
)

type Kind string

const (
	KindPost         Kind = "post"
	KindComment      Kind = "comment"
	KindMessage      Kind = "message"
	KindConversation Kind = "conversation"
	KindNotification Kind = "notification"
)

// Counter names.
const (
	CounterLikes    = "likes"
	CounterComments = "comments"
)

// Flag names. Flags are view state; sources may set them from server
// data (FlagLiked) but the store never persists them.
const (
	FlagLiked    = "liked"
	FlagExpanded = "expanded"
	FlagPending  = "pending"
	FlagFailed   = "failed"
)

// Item is one post, comment, message, conversation or notification.
// ID is the only identity key.
//
// For conversations CreatedAt carries the time of the last message so
// chat lists order by activity.
type Item struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	StreamID  string            `json:"streamId,omitempty"`
	ParentID  string            `json:"parentId,omitempty"`
	AuthorID  string            `json:"authorId"`
	Title     string            `json:"title,omitempty"`
	Body      string            `json:"body"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitzero"`
	Counters  map[string]int    `json:"counters,omitempty"`
	Flags     map[string]bool   `json:"flags,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// Counter returns the named counter, zero when unset.
func (it Item) Counter(name string) int {
	return it.Counters[name]
}

// Flag returns the named flag, false when unset.
func (it Item) Flag(name string) bool {
	return it.Flags[name]
}

func (it *Item) SetCounter(name string, value int) {
	if it.Counters == nil {
		it.Counters = make(map[string]int)
	}
	it.Counters[name] = value
}

func (it *Item) SetFlag(name string, on bool) {
	if it.Flags == nil {
		it.Flags = make(map[string]bool)
	}
	it.Flags[name] = on
}

// Clone returns a copy that shares no maps with it.
func (it Item) Clone() Item {
	out := it
	out.Counters = maps.Clone(it.Counters)
	out.Flags = maps.Clone(it.Flags)
	out.Attrs = maps.Clone(it.Attrs)
	return out
}

// Patch is a partial edit. Nil fields are left unchanged.
type Patch struct {
	Title *string
	Body  *string
	Attrs map[string]string
}

func (p Patch) Apply(it *Item) {
	if p.Title != nil {
		it.Title = *p.Title
	}
	if p.Body != nil {
		it.Body = *p.Body
	}
	if len(p.Attrs) > 0 {
		if it.Attrs == nil {
			it.Attrs = make(map[string]string, len(p.Attrs))
		}
		for k, v := range p.Attrs {
			it.Attrs[k] = v
		}
	}
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Body == nil && len(p.Attrs) == 0
}
