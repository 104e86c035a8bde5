package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"murmur/api/internal/item"
	"murmur/api/internal/store"
	"murmur/api/internal/store/storetest"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) store.RowStore {
	t.Helper()
	rs := storetest.Open(t)
	ctx := context.Background()
	rows := []struct {
		table store.Table
		row   store.Row
	}{
		{store.TablePosts, store.Row{"id": "p1", "author_id": "u1", "body": "Sunset over the Harbor", "created_at": epoch}},
		{store.TablePosts, store.Row{"id": "p2", "author_id": "u2", "body": "coffee", "created_at": epoch.Add(time.Minute)}},
		{store.TableComments, store.Row{"id": "c1", "post_id": "p1", "parent_id": nil, "author_id": "u2", "body": "that harbor!", "created_at": epoch.Add(2 * time.Minute)}},
		{store.TableMessages, store.Row{"id": "m1", "conversation_id": "k1", "author_id": "u1", "body": "harbor at 8?", "created_at": epoch}},
	}
	for _, r := range rows {
		if _, err := rs.InsertRow(ctx, r.table, r.row); err != nil {
			t.Fatalf("insert %v: %v", r.row["id"], err)
		}
	}
	return rs
}

func TestRowSearch(t *testing.T) {
	rs := NewRowSearch(seed(t))
	tests := []struct {
		name    string
		query   Query
		wantIDs []string
	}{
		{name: "posts and comments", query: Query{Text: "harbor"}, wantIDs: []string{"p1", "c1"}},
		{name: "filter type", query: Query{Text: "harbor", FilterType: ResultComment}, wantIDs: []string{"c1"}},
		{name: "filter author", query: Query{Text: "harbor", AuthorID: "u1"}, wantIDs: []string{"p1"}},
		{name: "offset", query: Query{Text: "harbor", Offset: 1}, wantIDs: []string{"c1"}},
		{name: "blank", query: Query{Text: "  "}, wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, _, err := rs.Search(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			var got []string
			for _, r := range results {
				got = append(got, r.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantIDs, ",") {
				t.Fatalf("ids = %v, want %v", got, tt.wantIDs)
			}
		})
	}
}

func TestRowSearchSnippetAndPostID(t *testing.T) {
	results, total, err := NewRowSearch(seed(t)).Search(context.Background(), Query{Text: "HARBOR", FilterType: ResultComment})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(results) != 1 {
		t.Fatalf("results = %+v total %d", results, total)
	}
	if results[0].Snippet != "that <mark>harbor</mark>!" || results[0].PostID != "p1" {
		t.Fatalf("result = %+v", results[0])
	}
}

type fakeSearcher struct {
	search func(ctx context.Context, q Query) ([]Result, int, error)
}

func (f fakeSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	return f.search(ctx, q)
}

func (f fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	svc := NewService(nil, fakeSearcher{search: func(context.Context, Query) ([]Result, int, error) {
		return []Result{{Type: ResultPost, ID: "p1"}}, 1, nil
	}})
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Engine != "rows" || resp.Total != 1 || resp.Results[0].ID != "p1" {
		t.Fatalf("resp = %+v", resp)
	}

	failing := NewService(nil, fakeSearcher{search: func(context.Context, Query) ([]Result, int, error) {
		return nil, 0, errors.New("store down")
	}})
	resp = failing.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("failed search should return an empty list, got %+v", resp)
	}

	// Indexing without Meilisearch is a no-op.
	svc.IndexItem(item.Item{ID: "p1", Kind: item.KindPost})
	svc.RemoveItems(item.KindPost, []string{"p1"})
	if err := svc.Reindex(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	svc.Close()
}

func TestRecordFor(t *testing.T) {
	tests := []struct {
		it       item.Item
		wantType ResultType
		wantPost string
		ok       bool
	}{
		{it: item.Item{ID: "p1", Kind: item.KindPost}, wantType: ResultPost, wantPost: "p1", ok: true},
		{it: item.Item{ID: "c1", Kind: item.KindComment, StreamID: "p9"}, wantType: ResultComment, wantPost: "p9", ok: true},
		{it: item.Item{ID: "m1", Kind: item.KindMessage}, ok: false},
	}
	for _, tt := range tests {
		t.Run(string(tt.it.Kind), func(t *testing.T) {
			rec, typ, ok := RecordFor(tt.it)
			if ok != tt.ok || typ != tt.wantType || rec.PostID != tt.wantPost {
				t.Fatalf("RecordFor = %+v %q %v", rec, typ, ok)
			}
		})
	}
}
