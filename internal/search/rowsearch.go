package search

import (
	"context"
	"fmt"
	"strings"

	"murmur/api/internal/item"
	"murmur/api/internal/store"
)

// RowSearch implements Searcher with substring matches through the row
// store. It is the fallback when Meilisearch is missing or unhealthy.
type RowSearch struct {
	store store.RowStore
}

func NewRowSearch(rs store.RowStore) *RowSearch {
	return &RowSearch{store: rs}
}

// Healthy is always true; without the row store nothing works anyway.
func (r *RowSearch) Healthy() bool {
	return true
}

// Search matches the query text against post and comment bodies,
// newest first.
func (r *RowSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	var results []Result
	total := 0
	for _, kind := range []item.Kind{item.KindPost, item.KindComment} {
		typ, _ := resultTypeFor(kind)
		if q.FilterType != "" && q.FilterType != typ {
			continue
		}
		table, err := item.TableFor(kind)
		if err != nil {
			return nil, 0, err
		}
		where := []store.Cond{store.Like("body", text)}
		if q.AuthorID != "" {
			where = append(where, store.Eq("author_id", q.AuthorID))
		}

		n, err := r.store.CountRows(ctx, store.Query{Table: table, Where: where})
		if err != nil {
			return nil, 0, fmt.Errorf("count %s matches: %w", table, err)
		}
		total += n

		rows, err := r.store.FetchRows(ctx, store.Query{Table: table, Where: where, Desc: true, Limit: limit + q.Offset})
		if err != nil {
			return nil, 0, fmt.Errorf("search %s: %w", table, err)
		}
		for _, row := range rows {
			it, err := item.Decode(kind, row)
			if err != nil {
				continue
			}
			rec, _, _ := RecordFor(it)
			results = append(results, Result{
				Type:      typ,
				ID:        rec.ID,
				Snippet:   snippet(rec.Body, text),
				AuthorID:  rec.AuthorID,
				PostID:    rec.PostID,
				CreatedAt: it.CreatedAt,
			})
		}
	}

	if q.Offset >= len(results) {
		return []Result{}, total, nil
	}
	results = results[q.Offset:]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

// snippet marks the first case-insensitive occurrence of text in body.
func snippet(body, text string) string {
	i := strings.Index(strings.ToLower(body), strings.ToLower(text))
	if i < 0 {
		return body
	}
	return body[:i] + "<mark>" + body[i:i+len(text)] + "</mark>" + body[i+len(text):]
}
