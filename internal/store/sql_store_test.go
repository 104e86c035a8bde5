package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func insertMessages(t *testing.T, s *SQLStore, rows ...Row) {
	t.Helper()
	for _, row := range rows {
		if _, err := s.InsertRow(context.Background(), TableMessages, row); err != nil {
			t.Fatalf("insert %v: %v", row["id"], err)
		}
	}
}

func TestFetchRowsAfterAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertMessages(t, s,
		Row{"id": "m1", "conversation_id": "c1", "author_id": "u1", "body": "one", "created_at": base},
		Row{"id": "m2", "conversation_id": "c1", "author_id": "u2", "body": "two", "created_at": base.Add(time.Second)},
		Row{"id": "m3", "conversation_id": "c1", "author_id": "u1", "body": "three", "created_at": base.Add(2 * time.Second)},
		Row{"id": "x1", "conversation_id": "c2", "author_id": "u1", "body": "other", "created_at": base.Add(3 * time.Second)},
	)

	rows, err := s.FetchRows(ctx, Query{
		Table: TableMessages,
		Where: []Cond{Eq("conversation_id", "c1")},
		After: base,
	})
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["id"] != "m2" || rows[1]["id"] != "m3" {
		t.Fatalf("order = %v, %v", rows[0]["id"], rows[1]["id"])
	}
	created, ok := rows[0]["created_at"].(time.Time)
	if !ok || !created.Equal(base.Add(time.Second)) {
		t.Fatalf("created_at = %#v", rows[0]["created_at"])
	}
}

func TestFetchRowsDescendingWithLimit(t *testing.T) {
	s := openTestStore(t)
	insertMessages(t, s,
		Row{"id": "m1", "conversation_id": "c1", "author_id": "u1", "body": "one", "created_at": base},
		Row{"id": "m2", "conversation_id": "c1", "author_id": "u1", "body": "two", "created_at": base.Add(time.Second)},
		Row{"id": "m3", "conversation_id": "c1", "author_id": "u1", "body": "three", "created_at": base.Add(2 * time.Second)},
	)
	rows, err := s.FetchRows(context.Background(), Query{Table: TableMessages, Desc: true, Limit: 2})
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(rows) != 2 || rows[0]["id"] != "m3" || rows[1]["id"] != "m2" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestFetchRowsInAndLike(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, row := range []Row{
		{"id": "p1", "author_id": "u1", "body": "Sunset at the pier"},
		{"id": "p2", "author_id": "u2", "body": "coffee notes"},
		{"id": "p3", "author_id": "u3", "body": "100% sunset"},
	} {
		if _, err := s.InsertRow(ctx, TablePosts, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	rows, err := s.FetchRows(ctx, Query{Table: TablePosts, Where: []Cond{In("id", "p1", "p2")}})
	if err != nil {
		t.Fatalf("FetchRows in: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("in: got %d rows", len(rows))
	}

	rows, err = s.FetchRows(ctx, Query{Table: TablePosts, Where: []Cond{Like("body", "sunset")}})
	if err != nil {
		t.Fatalf("FetchRows like: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("like: got %d rows, want 2", len(rows))
	}

	rows, err = s.FetchRows(ctx, Query{Table: TablePosts, Where: []Cond{Like("body", "100%")}})
	if err != nil {
		t.Fatalf("FetchRows like escape: %v", err)
	}
	if len(rows) != 1 || rows[0]["id"] != "p3" {
		t.Fatalf("like escape: rows = %v", rows)
	}

	rows, err = s.FetchRows(ctx, Query{Table: TablePosts, Where: []Cond{In("id")}})
	if err != nil {
		t.Fatalf("FetchRows empty in: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("empty in: got %d rows", len(rows))
	}
}

func TestNullableParentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	root, err := s.InsertRow(ctx, TableComments, Row{"id": "c1", "post_id": "p1", "author_id": "u1", "body": "root"})
	if err != nil {
		t.Fatalf("insert root: %v", err)
	}
	if root["parent_id"] != nil {
		t.Fatalf("parent_id = %#v, want nil", root["parent_id"])
	}
	if _, err := s.InsertRow(ctx, TableComments, Row{"id": "c2", "post_id": "p1", "parent_id": "c1", "author_id": "u2", "body": "reply"}); err != nil {
		t.Fatalf("insert reply: %v", err)
	}

	roots, err := s.FetchRows(ctx, Query{Table: TableComments, Where: []Cond{Eq("parent_id", nil)}})
	if err != nil {
		t.Fatalf("FetchRows: %v", err)
	}
	if len(roots) != 1 || roots[0]["id"] != "c1" {
		t.Fatalf("roots = %v", roots)
	}
}

func TestUpdateAndDeleteRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.InsertRow(ctx, TableNotifications, Row{"id": "n1", "recipient_id": "u1", "actor_id": "u2", "verb": "like"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := s.UpdateRow(ctx, TableNotifications, "n1", Row{"is_read": true})
	if err != nil {
		t.Fatalf("UpdateRow: %v", err)
	}
	if updated["is_read"] != true {
		t.Fatalf("is_read = %#v", updated["is_read"])
	}

	count, err := s.CountRows(ctx, Query{Table: TableNotifications, Where: []Cond{Eq("is_read", false)}})
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if count != 0 {
		t.Fatalf("unread count = %d", count)
	}

	if _, err := s.UpdateRow(ctx, TableNotifications, "missing", Row{"is_read": true}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing err = %v, want ErrNotFound", err)
	}
	if err := s.DeleteRow(ctx, TableNotifications, "n1"); err != nil {
		t.Fatalf("DeleteRow: %v", err)
	}
	if err := s.DeleteRow(ctx, TableNotifications, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestRejectsUnknownTableAndColumn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.FetchRows(ctx, Query{Table: "users"}); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("unknown table err = %v", err)
	}
	if _, err := s.FetchRows(ctx, Query{Table: TablePosts, Where: []Cond{Eq("title; DROP TABLE posts", "x")}}); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("unknown column err = %v", err)
	}
	if _, err := s.InsertRow(ctx, TablePosts, Row{"id": "p1", "author_id": "u1", "body": "x", "mood": "happy"}); !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("insert unknown column err = %v", err)
	}
	if _, err := s.InsertRow(ctx, TablePosts, Row{"author_id": "u1", "body": "x"}); err == nil {
		t.Fatal("insert without id succeeded")
	}
}

func TestLimitedPassesThrough(t *testing.T) {
	s := openTestStore(t)
	limited := NewLimited(s, 1000, 10)
	ctx := context.Background()
	if _, err := limited.InsertRow(ctx, TablePosts, Row{"id": "p1", "author_id": "u1", "body": "x"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	count, err := limited.CountRows(ctx, Query{Table: TablePosts})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d", count)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	starved := NewLimited(s, 0.001, 1)
	_, _ = starved.FetchRows(ctx, Query{Table: TablePosts})
	if _, err := starved.FetchRows(cancelled, Query{Table: TablePosts}); err == nil {
		t.Fatal("expected rate limit wait to fail on cancelled context")
	}
}
