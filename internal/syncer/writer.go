package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"

	"murmur/api/internal/clock"
	"murmur/api/internal/item"
	"murmur/api/internal/store"
)

// Indexer receives successful writes for the search index.
type Indexer interface {
	IndexItem(it item.Item)
	RemoveItems(kind item.Kind, ids []string)
}

// StoreWriter writes actions through the row store.
type StoreWriter struct {
	Store store.RowStore
	Clock clock.Clock
	Index Indexer
}

func NewStoreWriter(rs store.RowStore, c clock.Clock, index Indexer) *StoreWriter {
	if c == nil {
		c = clock.Real()
	}
	return &StoreWriter{Store: rs, Clock: c, Index: index}
}

func (w *StoreWriter) Write(ctx context.Context, wr Write) (*item.Item, error) {
	switch wr.Action.Kind {
	case ActionAdd:
		return w.add(ctx, wr.Item)
	case ActionEdit:
		return nil, w.edit(ctx, wr)
	case ActionDelete:
		return nil, w.delete(ctx, wr)
	case ActionLike:
		return nil, w.like(ctx, wr)
	case ActionUnlike:
		return nil, w.unlike(ctx, wr)
	default:
		return nil, fmt.Errorf("%w: %q is not written", ErrInvalidAction, wr.Action.Kind)
	}
}

func (w *StoreWriter) add(ctx context.Context, it item.Item) (*item.Item, error) {
	table, err := item.TableFor(it.Kind)
	if err != nil {
		return nil, err
	}
	row, err := it.Row()
	if err != nil {
		return nil, err
	}
	saved, err := w.Store.InsertRow(ctx, table, row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", it.Kind, err)
	}
	stored, err := item.Decode(it.Kind, saved)
	if err != nil {
		return nil, fmt.Errorf("decode inserted %s: %w", it.Kind, err)
	}

	if stored.Kind == item.KindMessage {
		w.bumpConversation(ctx, stored)
	}
	if w.Index != nil {
		w.Index.IndexItem(stored)
	}
	return &stored, nil
}

// bumpConversation moves the conversation of m to the top of its chat
// list. Failures are logged; the message itself is already stored.
func (w *StoreWriter) bumpConversation(ctx context.Context, m item.Item) {
	_, err := w.Store.UpdateRow(ctx, store.TableConversations, m.StreamID, store.Row{
		"last_message_body": m.Body,
		"last_message_at":   m.CreatedAt,
	})
	if err != nil {
		log.Printf("syncer: bump conversation %s: %v", m.StreamID, err)
	}
}

func (w *StoreWriter) edit(ctx context.Context, wr Write) error {
	table, err := item.TableFor(wr.Item.Kind)
	if err != nil {
		return err
	}
	patch := item.PatchRow(wr.Item.Kind, wr.Action.Patch)
	if len(patch) == 0 {
		return nil
	}
	if _, err := w.Store.UpdateRow(ctx, table, wr.Item.ID, patch); err != nil {
		return fmt.Errorf("update %s %s: %w", wr.Item.Kind, wr.Item.ID, err)
	}
	if w.Index != nil {
		w.Index.IndexItem(wr.Item)
	}
	return nil
}

// delete removes every row of the deleted subtree. Rows that are
// already gone count as deleted.
func (w *StoreWriter) delete(ctx context.Context, wr Write) error {
	table, err := item.TableFor(wr.Item.Kind)
	if err != nil {
		return err
	}
	ids := wr.Removed
	if len(ids) == 0 {
		ids = []string{wr.Item.ID}
	}
	for _, id := range ids {
		if err := w.Store.DeleteRow(ctx, table, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete %s %s: %w", wr.Item.Kind, id, err)
		}
	}
	if w.Index != nil {
		w.Index.RemoveItems(wr.Item.Kind, ids)
	}
	return nil
}

func (w *StoreWriter) like(ctx context.Context, wr Write) error {
	if wr.Action.UserID == "" {
		return fmt.Errorf("%w: like without user", ErrInvalidAction)
	}
	id := item.LikeID(wr.Item.ID, wr.Action.UserID)
	existing, err := w.Store.FetchRows(ctx, store.Query{
		Table: store.TableLikes,
		Where: []store.Cond{store.Eq("id", id)},
		Limit: 1,
	})
	if err != nil {
		return fmt.Errorf("fetch like %s: %w", id, err)
	}
	if len(existing) > 0 {
		return nil
	}

	scope := wr.Item.StreamID
	if wr.Item.Kind == item.KindPost {
		scope = wr.Item.ID
	}
	_, err = w.Store.InsertRow(ctx, store.TableLikes, store.Row{
		"id":           id,
		"subject_id":   wr.Item.ID,
		"subject_kind": string(wr.Item.Kind),
		"scope_id":     scope,
		"user_id":      wr.Action.UserID,
		"created_at":   w.Clock.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert like %s: %w", id, err)
	}
	return nil
}

func (w *StoreWriter) unlike(ctx context.Context, wr Write) error {
	if wr.Action.UserID == "" {
		return fmt.Errorf("%w: unlike without user", ErrInvalidAction)
	}
	id := item.LikeID(wr.Item.ID, wr.Action.UserID)
	if err := w.Store.DeleteRow(ctx, store.TableLikes, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete like %s: %w", id, err)
	}
	return nil
}
