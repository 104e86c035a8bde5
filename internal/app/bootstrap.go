package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"murmur/api/internal/item"
	"murmur/api/internal/store"
)

// Bootstrap seeds a small demo data set into an empty store and
// rebuilds the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	n, err := s.store.CountRows(ctx, store.Query{Table: store.TablePosts})
	if err != nil {
		return fmt.Errorf("count posts: %w", err)
	}
	if n == 0 {
		if err := s.seed(ctx); err != nil {
			return err
		}
	}
	if s.search != nil {
		if err := s.search.Reindex(ctx, s.store); err != nil {
			log.Printf("search: reindex failed: %v", err)
		}
	}
	return nil
}

func (s *Service) seed(ctx context.Context) error {
	now := s.clock.Now().UTC().Truncate(time.Second)
	ago := func(d time.Duration) time.Time { return now.Add(-d) }

	rows := []struct {
		table store.Table
		row   store.Row
	}{
		{store.TablePosts, store.Row{"id": "post-harbor", "author_id": "ana", "body": "Sunset over the harbor tonight.", "created_at": ago(3 * time.Hour)}},
		{store.TablePosts, store.Row{"id": "post-coffee", "author_id": "bo", "body": "Which coffee place near the station opens earliest?", "created_at": ago(2 * time.Hour)}},
		{store.TablePosts, store.Row{"id": "post-release", "author_id": "cy", "body": "Shipped the new build, feedback welcome.", "created_at": ago(time.Hour)}},

		{store.TableComments, store.Row{"id": "cmt-1", "post_id": "post-coffee", "parent_id": nil, "author_id": "ana", "body": "Dock Street opens at 6.", "created_at": ago(110 * time.Minute)}},
		{store.TableComments, store.Row{"id": "cmt-2", "post_id": "post-coffee", "parent_id": "cmt-1", "author_id": "bo", "body": "Perfect, thanks!", "created_at": ago(100 * time.Minute)}},
		{store.TableComments, store.Row{"id": "cmt-3", "post_id": "post-coffee", "parent_id": nil, "author_id": "cy", "body": "The kiosk inside the station, 5:30.", "created_at": ago(90 * time.Minute)}},

		{store.TableLikes, store.Row{"id": item.LikeID("cmt-3", "bo"), "subject_id": "cmt-3", "subject_kind": string(item.KindComment), "scope_id": "post-coffee", "user_id": "bo", "created_at": ago(80 * time.Minute)}},
		{store.TableLikes, store.Row{"id": item.LikeID("post-harbor", "bo"), "subject_id": "post-harbor", "subject_kind": string(item.KindPost), "scope_id": "post-harbor", "user_id": "bo", "created_at": ago(150 * time.Minute)}},

		{store.TableConversations, store.Row{"id": "conv-ana-bo", "owner_id": "ana", "peer_id": "bo", "title": "Bo", "last_message_body": "See you there", "last_message_at": ago(20 * time.Minute), "created_at": ago(time.Hour)}},
		{store.TableConversations, store.Row{"id": "conv-bo-ana", "owner_id": "bo", "peer_id": "ana", "title": "Ana", "last_message_body": "See you there", "last_message_at": ago(20 * time.Minute), "created_at": ago(time.Hour)}},
		{store.TableMessages, store.Row{"id": "msg-1", "conversation_id": "conv-ana-bo", "author_id": "ana", "body": "Coffee at Dock Street?", "created_at": ago(30 * time.Minute)}},
		{store.TableMessages, store.Row{"id": "msg-2", "conversation_id": "conv-ana-bo", "author_id": "bo", "body": "See you there", "created_at": ago(20 * time.Minute)}},

		{store.TableNotifications, store.Row{"id": "ntf-1", "recipient_id": "ana", "actor_id": "bo", "verb": "liked", "subject_id": "post-harbor", "body": "Bo liked your post", "is_read": false, "created_at": ago(150 * time.Minute)}},
	}
	for _, r := range rows {
		if _, err := s.store.InsertRow(ctx, r.table, r.row); err != nil {
			return fmt.Errorf("seed %s %v: %w", r.table, r.row["id"], err)
		}
	}
	log.Printf("app: seeded %d demo rows", len(rows))
	return nil
}
