package syncer

import (
	"errors"
	"fmt"

	"murmur/api/internal/item"
	"murmur/api/internal/thread"
)

var (
	ErrClosed        = errors.New("stream closed")
	ErrUnknownItem   = errors.New("unknown item")
	ErrDuplicateItem = errors.New("duplicate item")
	ErrInvalidAction = errors.New("invalid action")
)

type ActionKind string

const (
	ActionAdd    ActionKind = "add"
	ActionEdit   ActionKind = "edit"
	ActionDelete ActionKind = "delete"
	ActionLike   ActionKind = "like"
	ActionUnlike ActionKind = "unlike"
	// ActionFlag changes view state only and is never written.
	ActionFlag ActionKind = "flag"
)

func ParseActionKind(value string) (ActionKind, error) {
	switch kind := ActionKind(value); kind {
	case ActionAdd, ActionEdit, ActionDelete, ActionLike, ActionUnlike, ActionFlag:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, value)
	}
}

// Action is a user intent submitted to a stream.
//
// Add uses Item. Edit uses ID and Patch. Delete, Like and Unlike use ID.
// Flag uses ID, Flag and On. UserID is the acting user.
type Action struct {
	Kind   ActionKind
	ID     string
	Item   item.Item
	Patch  item.Patch
	Flag   string
	On     bool
	UserID string
}

func (a Action) target() string {
	if a.Kind == ActionAdd {
		return a.Item.ID
	}
	return a.ID
}

// Write is what the write primitive receives once the optimistic change
// has been applied: the affected item as it now looks locally and, for
// deletes, every id removed with it.
type Write struct {
	Action  Action
	Item    item.Item
	Removed []string
}

// WriteError reports a failed write. The local change it belonged to is
// kept; Message is suitable for showing to the user.
type WriteError struct {
	Action  ActionKind
	ID      string
	Message string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func userMessage(kind ActionKind, itemKind item.Kind) string {
	noun := "post"
	switch itemKind {
	case item.KindComment:
		noun = "comment"
	case item.KindMessage:
		noun = "message"
	case item.KindConversation:
		noun = "conversation"
	case item.KindNotification:
		noun = "notification"
	}
	switch kind {
	case ActionAdd:
		if itemKind == item.KindMessage {
			return "Your message could not be sent."
		}
		return "Your " + noun + " could not be published."
	case ActionEdit:
		return "Your changes to this " + noun + " could not be saved."
	case ActionDelete:
		return "This " + noun + " could not be deleted."
	case ActionLike, ActionUnlike:
		return "Your like could not be saved."
	default:
		return "Something went wrong."
	}
}

// pendingWrite is an optimistic change whose write is in flight, or
// resolved but not yet reflected by a tick that started afterwards.
type pendingWrite struct {
	write      Write
	resolved   bool
	resolvedAt uint64
}

// covers reports whether a tick numbered seq may have missed the write.
func (p *pendingWrite) covers(seq uint64) bool {
	return !p.resolved || seq <= p.resolvedAt
}

// reapply replays the optimistic change onto a freshly fetched forest.
func (p *pendingWrite) reapply(f *thread.Forest, policy thread.Policy) {
	a := p.write.Action
	switch a.Kind {
	case ActionAdd:
		if _, ok := f.Find(p.write.Item.ID); !ok {
			f.Add(p.write.Item, policy)
		}
	case ActionEdit:
		f.Update(a.ID, a.Patch)
	case ActionDelete:
		for _, id := range p.write.Removed {
			f.Remove(id)
		}
	case ActionLike, ActionUnlike:
		setLiked(*f, a.ID, a.Kind == ActionLike)
	}
}

// setLiked moves the liked flag and like counter of id to the wanted
// state. It reports whether anything changed.
func setLiked(f thread.Forest, id string, liked bool) bool {
	node, ok := f.Find(id)
	if !ok || node.Item.Flag(item.FlagLiked) == liked {
		return false
	}
	delta := 1
	if !liked {
		delta = -1
	}
	f.SetFlag(id, item.FlagLiked, liked)
	f.ToggleCounter(id, item.CounterLikes, delta)
	return true
}
