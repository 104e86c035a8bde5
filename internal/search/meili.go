package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxPosts    = "murmur_posts"
	idxComments = "murmur_comments"
)

// Meili implements Searcher on top of Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. The
// client is returned even when the server is down; it reports
// unhealthy until the health loop sees it recover.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func indexFor(typ ResultType) string {
	if typ == ResultComment {
		return idxComments
	}
	return idxPosts
}

func (m *Meili) configureIndexes() {
	filterable := []interface{}{"authorId", "postId"}
	searchable := []string{"body"}
	sortable := []string{"createdAt"}

	for _, uid := range []string{idxPosts, idxComments} {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", uid, err)
		}

		index := m.client.Index(uid)
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", uid, err)
		}
		if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
			log.Printf("search: update sortable attrs for %s: %v", uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the post and comment indexes, or one of them, and
// concatenates the hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, typ := range []ResultType{ResultPost, ResultComment} {
		if q.FilterType != "" && q.FilterType != typ {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              indexFor(typ),
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"body"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.AuthorID != "" {
			sr.Filter = []string{fmt.Sprintf("authorId = %q", q.AuthorID)}
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		typ := ResultPost
		if sr.IndexUID == idxComments {
			typ = ResultComment
		}
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, typ))
		}
	}
	return results, total, nil
}

func hitToResult(hit meili.Hit, typ ResultType) Result {
	r := Result{
		Type:     typ,
		ID:       decodeString(hit, "id"),
		AuthorID: decodeString(hit, "authorId"),
		PostID:   decodeString(hit, "postId"),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "body"), decodeString(hit, "body")),
	}
	if raw, ok := hit["createdAt"]; ok {
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil {
			r.CreatedAt = time.UnixMilli(ms).UTC()
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or updates records in the index for typ.
func (m *Meili) Index(typ ResultType, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(typ)).AddDocuments(records, nil)
	return err
}

// Delete removes ids from the index for typ.
func (m *Meili) Delete(typ ResultType, ids []string) error {
	index := m.client.Index(indexFor(typ))
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			return err
		}
	}
	return nil
}
