package store

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited throttles reads against a RowStore so many polling streams
// share one request budget. Writes pass through unthrottled.
type Limited struct {
	next    RowStore
	limiter *rate.Limiter
}

func NewLimited(next RowStore, perSecond float64, burst int) *Limited {
	if burst < 1 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *Limited) FetchRows(ctx context.Context, q Query) ([]Row, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch %s: wait for rate limit: %w", q.Table, err)
	}
	return l.next.FetchRows(ctx, q)
}

func (l *Limited) CountRows(ctx context.Context, q Query) (int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("count %s: wait for rate limit: %w", q.Table, err)
	}
	return l.next.CountRows(ctx, q)
}

func (l *Limited) InsertRow(ctx context.Context, table Table, row Row) (Row, error) {
	return l.next.InsertRow(ctx, table, row)
}

func (l *Limited) UpdateRow(ctx context.Context, table Table, id string, patch Row) (Row, error) {
	return l.next.UpdateRow(ctx, table, id, patch)
}

func (l *Limited) DeleteRow(ctx context.Context, table Table, id string) error {
	return l.next.DeleteRow(ctx, table, id)
}

func (l *Limited) Ping(ctx context.Context) error {
	return l.next.Ping(ctx)
}
