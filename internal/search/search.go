package search

import (
	"context"
	"time"

	"murmur/api/internal/item"
)

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost    ResultType = "post"
	ResultComment ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Snippet   string     `json:"snippet"`
	AuthorID  string     `json:"authorId"`
	PostID    string     `json:"postId"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	AuthorID   string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a post or comment. CreatedAt is unix
// milliseconds so the index can sort on it.
type Record struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	AuthorID  string `json:"authorId"`
	PostID    string `json:"postId"`
	CreatedAt int64  `json:"createdAt"`
}

// RecordFor converts a post or comment into its index record. It
// reports false for kinds that are not searchable.
func RecordFor(it item.Item) (Record, ResultType, bool) {
	rec := Record{
		ID:        it.ID,
		Body:      it.Body,
		AuthorID:  it.AuthorID,
		CreatedAt: it.CreatedAt.UnixMilli(),
	}
	switch it.Kind {
	case item.KindPost:
		rec.PostID = it.ID
		return rec, ResultPost, true
	case item.KindComment:
		rec.PostID = it.StreamID
		return rec, ResultComment, true
	default:
		return Record{}, "", false
	}
}

func resultTypeFor(kind item.Kind) (ResultType, bool) {
	switch kind {
	case item.KindPost:
		return ResultPost, true
	case item.KindComment:
		return ResultComment, true
	default:
		return "", false
	}
}
