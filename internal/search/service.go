package search

import (
	"context"
	"fmt"
	"log"

	"murmur/api/internal/item"
	"murmur/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to
// row store matching.
type Service struct {
	meili    *Meili
	fallback Searcher
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	return &Service{meili: meili, fallback: fallback}
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to row store: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Engine: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Engine: "rows"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "rows"}
}

// IndexItem indexes a post or comment (fire-and-forget to Meilisearch).
// Other kinds are ignored.
func (s *Service) IndexItem(it item.Item) {
	rec, typ, ok := RecordFor(it)
	if !ok || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(typ, []Record{rec}); err != nil {
			log.Printf("search: index %s %s: %v", typ, rec.ID, err)
		}
	}()
}

// RemoveItems drops deleted posts or comments from the index
// (fire-and-forget).
func (s *Service) RemoveItems(kind item.Kind, ids []string) {
	typ, ok := resultTypeFor(kind)
	if !ok || len(ids) == 0 || s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(typ, ids); err != nil {
			log.Printf("search: delete %d %s records: %v", len(ids), typ, err)
		}
	}()
}

// Reindex reads every post and comment from the row store and pushes
// them to Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) Reindex(ctx context.Context, rs store.RowStore) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	for _, kind := range []item.Kind{item.KindPost, item.KindComment} {
		table, err := item.TableFor(kind)
		if err != nil {
			return err
		}
		rows, err := rs.FetchRows(ctx, store.Query{Table: table})
		if err != nil {
			return fmt.Errorf("load %s for reindex: %w", table, err)
		}
		var typ ResultType
		records := make([]Record, 0, len(rows))
		for _, row := range rows {
			it, err := item.Decode(kind, row)
			if err != nil {
				log.Printf("search: reindex skip %s row: %v", kind, err)
				continue
			}
			rec, t, _ := RecordFor(it)
			typ = t
			records = append(records, rec)
		}
		if err := s.meili.Index(typ, records); err != nil {
			return fmt.Errorf("reindex %s: %w", table, err)
		}
	}
	return nil
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
