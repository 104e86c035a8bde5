package syncer

import (
	"context"
	"fmt"
	"log"
	"slices"

	"murmur/api/internal/item"
	"murmur/api/internal/merge"
	"murmur/api/internal/store"
)

const defaultLimit = 50

// FeedSource fetches the newest posts with their like and comment
// counts and the viewer's liked flag.
type FeedSource struct {
	Store  store.RowStore
	Viewer string
	Limit  int
}

func (s FeedSource) Fetch(ctx context.Context, _ merge.Watermark) ([]item.Item, error) {
	rows, err := s.Store.FetchRows(ctx, store.Query{
		Table: store.TablePosts,
		Desc:  true,
		Limit: limitOr(s.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch posts: %w", err)
	}
	posts := decodeRows(item.KindPost, rows)
	if len(posts) == 0 {
		return posts, nil
	}

	ids := make([]any, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	likes, err := fetchLikes(ctx, s.Store, store.In("subject_id", ids...))
	if err != nil {
		return nil, err
	}
	applyLikes(posts, likes, s.Viewer)

	for i := range posts {
		n, err := s.Store.CountRows(ctx, store.Query{
			Table: store.TableComments,
			Where: []store.Cond{store.Eq("post_id", posts[i].ID)},
		})
		if err != nil {
			return nil, fmt.Errorf("count comments of %s: %w", posts[i].ID, err)
		}
		posts[i].SetCounter(item.CounterComments, n)
	}
	return posts, nil
}

// CommentSource fetches every comment of one post, flat; the stream
// rebuilds the reply tree.
type CommentSource struct {
	Store  store.RowStore
	PostID string
	Viewer string
}

func (s CommentSource) Fetch(ctx context.Context, _ merge.Watermark) ([]item.Item, error) {
	rows, err := s.Store.FetchRows(ctx, store.Query{
		Table: store.TableComments,
		Where: []store.Cond{store.Eq("post_id", s.PostID)},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch comments of %s: %w", s.PostID, err)
	}
	comments := decodeRows(item.KindComment, rows)

	likes, err := fetchLikes(ctx, s.Store,
		store.Eq("scope_id", s.PostID),
		store.Eq("subject_kind", string(item.KindComment)),
	)
	if err != nil {
		return nil, err
	}
	applyLikes(comments, likes, s.Viewer)
	return comments, nil
}

// ChatListSource fetches a user's conversations, most recently active
// first.
type ChatListSource struct {
	Store store.RowStore
	Owner string
	Limit int
}

func (s ChatListSource) Fetch(ctx context.Context, _ merge.Watermark) ([]item.Item, error) {
	rows, err := s.Store.FetchRows(ctx, store.Query{
		Table: store.TableConversations,
		Where: []store.Cond{store.Eq("owner_id", s.Owner)},
		Desc:  true,
		Limit: limitOr(s.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch conversations of %s: %w", s.Owner, err)
	}
	return decodeRows(item.KindConversation, rows), nil
}

// MessageSource fetches a conversation's messages incrementally. With an
// empty watermark it returns the latest Limit messages, oldest first.
type MessageSource struct {
	Store          store.RowStore
	ConversationID string
	Limit          int
}

func (s MessageSource) Fetch(ctx context.Context, after merge.Watermark) ([]item.Item, error) {
	q := store.Query{
		Table: store.TableMessages,
		Where: []store.Cond{store.Eq("conversation_id", s.ConversationID)},
	}
	initial := after.IsZero()
	if initial {
		q.Desc = true
		q.Limit = limitOr(s.Limit)
	} else {
		q = after.Query(q)
	}
	rows, err := s.Store.FetchRows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch messages of %s: %w", s.ConversationID, err)
	}
	messages := decodeRows(item.KindMessage, rows)
	if initial {
		slices.Reverse(messages)
	}
	return messages, nil
}

// NotificationSource fetches a user's newest notifications.
type NotificationSource struct {
	Store     store.RowStore
	Recipient string
	Limit     int
}

func (s NotificationSource) Fetch(ctx context.Context, _ merge.Watermark) ([]item.Item, error) {
	rows, err := s.Store.FetchRows(ctx, store.Query{
		Table: store.TableNotifications,
		Where: []store.Cond{store.Eq("recipient_id", s.Recipient)},
		Desc:  true,
		Limit: limitOr(s.Limit),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch notifications of %s: %w", s.Recipient, err)
	}
	return decodeRows(item.KindNotification, rows), nil
}

func limitOr(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

// decodeRows normalizes fetched rows, dropping the ones that fail
// validation.
func decodeRows(kind item.Kind, rows []store.Row) []item.Item {
	items := make([]item.Item, 0, len(rows))
	for _, row := range rows {
		it, err := item.Decode(kind, row)
		if err != nil {
			log.Printf("syncer: skip %s row: %v", kind, err)
			continue
		}
		items = append(items, it)
	}
	return items
}

func fetchLikes(ctx context.Context, rs store.RowStore, where ...store.Cond) ([]item.Like, error) {
	rows, err := rs.FetchRows(ctx, store.Query{Table: store.TableLikes, Where: where})
	if err != nil {
		return nil, fmt.Errorf("fetch likes: %w", err)
	}
	likes := make([]item.Like, 0, len(rows))
	for _, row := range rows {
		like, err := item.DecodeLike(row)
		if err != nil {
			log.Printf("syncer: skip like row: %v", err)
			continue
		}
		likes = append(likes, like)
	}
	return likes, nil
}

// applyLikes sets the like counter and the viewer's liked flag on every
// item, including the ones nobody liked.
func applyLikes(items []item.Item, likes []item.Like, viewer string) {
	counts := make(map[string]int, len(likes))
	liked := make(map[string]bool)
	for _, l := range likes {
		counts[l.SubjectID]++
		if viewer != "" && l.UserID == viewer {
			liked[l.SubjectID] = true
		}
	}
	for i := range items {
		items[i].SetCounter(item.CounterLikes, counts[items[i].ID])
		items[i].SetFlag(item.FlagLiked, liked[items[i].ID])
	}
}
