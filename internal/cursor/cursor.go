// Package cursor stores per-user read markers: the creation time of the
// newest item a user has seen in a stream.
package cursor

import (
	"context"
	"sync"
	"time"
)

// Store persists read markers. MarkSeen never moves a marker backwards;
// both methods return the marker now in effect. A missing marker is the
// zero time.
type Store interface {
	Seen(ctx context.Context, userID, stream string) (time.Time, error)
	MarkSeen(ctx context.Context, userID, stream string, at time.Time) (time.Time, error)
	Ping(ctx context.Context) error
}

// MemoryStore keeps markers in process. It is used when no Redis is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	markers map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{markers: make(map[string]time.Time)}
}

func (m *MemoryStore) Seen(_ context.Context, userID, stream string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[key(userID, stream)], nil
}

func (m *MemoryStore) MarkSeen(_ context.Context, userID, stream string, at time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, stream)
	at = at.UTC().Truncate(time.Microsecond)
	if at.After(m.markers[k]) {
		m.markers[k] = at
	}
	return m.markers[k], nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func key(userID, stream string) string {
	return userID + ":" + stream
}
