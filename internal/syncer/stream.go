// Package syncer keeps one screen's collection in step with the row
// store by polling, and applies the user's writes to it optimistically.
package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"murmur/api/internal/clock"
	"murmur/api/internal/item"
	"murmur/api/internal/merge"
	"murmur/api/internal/poll"
	"murmur/api/internal/thread"
	"murmur/api/internal/util"
)

type State int

const (
	StateIdle State = iota
	StatePolling
)

func (s State) String() string {
	if s == StatePolling {
		return "polling"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Mode selects how a tick's result is applied.
type Mode int

const (
	// ModeRefresh fetches the whole collection and rebuilds it.
	ModeRefresh Mode = iota
	// ModeAppend fetches rows newer than the watermark and appends them.
	ModeAppend
)

func (m Mode) String() string {
	if m == ModeAppend {
		return "append"
	}
	return "refresh"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Source fetches a stream's items. In ModeRefresh the watermark is always
// empty and the full collection is expected; in ModeAppend only items
// created after the watermark, oldest first.
type Source interface {
	Fetch(ctx context.Context, after merge.Watermark) ([]item.Item, error)
}

type SourceFunc func(ctx context.Context, after merge.Watermark) ([]item.Item, error)

func (f SourceFunc) Fetch(ctx context.Context, after merge.Watermark) ([]item.Item, error) {
	return f(ctx, after)
}

// Writer persists a submitted action. It may return the stored version
// of an added item.
type Writer interface {
	Write(ctx context.Context, w Write) (*item.Item, error)
}

type Config struct {
	Name        string
	Mode        Mode
	Policy      thread.Policy
	Interval    time.Duration
	Source      Source
	Writer      Writer
	Clock       clock.Clock
	SkipOverlap bool
}

// Snapshot is a deep copy of a stream's collection.
type Snapshot struct {
	Stream    string        `json:"stream"`
	Version   uint64        `json:"version"`
	State     State         `json:"state"`
	Policy    thread.Policy `json:"policy"`
	Items     thread.Forest `json:"items"`
	Watermark time.Time     `json:"watermark,omitzero"`
	FetchedAt time.Time     `json:"fetchedAt,omitzero"`
}

type Status struct {
	Stream    string        `json:"stream"`
	State     State         `json:"state"`
	Mode      Mode          `json:"mode"`
	Policy    thread.Policy `json:"policy"`
	Interval  time.Duration `json:"interval"`
	Version   uint64        `json:"version"`
	Items     int           `json:"items"`
	Pending   int           `json:"pending"`
	LastError string        `json:"lastError,omitempty"`
	Poll      poll.Stats    `json:"poll"`
}

// Stream owns one collection. Only tick results and Submit change it;
// readers get Snapshots.
type Stream struct {
	name   string
	mode   Mode
	clock  clock.Clock
	writer Writer
	sched  *poll.Scheduler

	mu         sync.Mutex
	source     Source
	policy     thread.Policy
	state      State
	gen        uint64
	tickSeq    uint64
	appliedSeq uint64
	forest     thread.Forest
	merger     *merge.Merger
	pending    []*pendingWrite
	version    uint64
	fetchedAt  time.Time
	lastErr    error
	closed     bool
	release    func() bool
	changes    chan struct{}
}

func New(cfg Config) *Stream {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Policy == "" {
		cfg.Policy = thread.PolicyNewest
	}
	if cfg.Mode == ModeAppend {
		cfg.Policy = thread.PolicyNone
	}
	if cfg.Name == "" {
		cfg.Name = "stream"
	}
	s := &Stream{
		name:    cfg.Name,
		mode:    cfg.Mode,
		clock:   cfg.Clock,
		writer:  cfg.Writer,
		source:  cfg.Source,
		policy:  cfg.Policy,
		forest:  thread.Forest{},
		merger:  merge.NewMerger(),
		changes: make(chan struct{}, 1),
	}
	opts := []poll.Option{poll.WithClock(cfg.Clock), poll.WithName(cfg.Name)}
	if cfg.SkipOverlap {
		opts = append(opts, poll.WithSkipOverlap())
	}
	s.sched = poll.New(s.tick, cfg.Interval, opts...)
	return s
}

func (s *Stream) Name() string {
	return s.name
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins polling. The first tick runs immediately. Cancelling ctx
// has the same effect as Stop.
func (s *Stream) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.state == StatePolling {
		s.mu.Unlock()
		return
	}
	s.state = StatePolling
	s.gen++
	gen := s.gen
	s.release = context.AfterFunc(ctx, func() { s.stopIfCurrent(gen) })
	s.publishLocked()
	s.mu.Unlock()

	s.sched.Start(ctx, true)

	s.mu.Lock()
	if s.gen != gen {
		// Stopped while the scheduler was starting.
		s.sched.Stop()
	}
	s.mu.Unlock()
}

// Stop ends polling and keeps the collection. Results of ticks that are
// still in flight are discarded.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		return
	}
	s.stopLocked()
}

func (s *Stream) stopIfCurrent(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle || s.gen != gen {
		return
	}
	s.stopLocked()
}

func (s *Stream) stopLocked() {
	s.state = StateIdle
	s.gen++
	s.releaseLocked()
	s.sched.Stop()
	s.publishLocked()
}

func (s *Stream) releaseLocked() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Close stops the stream for good and releases its scheduler.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateIdle
	s.gen++
	s.releaseLocked()
	s.sched.Stop()
	close(s.changes)
	s.mu.Unlock()
}

// Wait blocks until no tick is running.
func (s *Stream) Wait() {
	s.sched.Wait()
}

// Refresh runs one tick now, whether or not the stream is polling.
func (s *Stream) Refresh(ctx context.Context) error {
	return s.tick(ctx)
}

// SetSource replaces the fetch routine. Polling keeps its cadence.
func (s *Stream) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// SetPolicy re-sorts the collection. Append streams keep arrival order.
func (s *Stream) SetPolicy(p thread.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeAppend || p == s.policy {
		return
	}
	s.policy = p
	s.forest.Sort(p)
	s.publishLocked()
}

// Changes is signalled after every change to the collection or state.
// Signals coalesce; the channel is closed by Close.
func (s *Stream) Changes() <-chan struct{} {
	return s.changes
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Stream:    s.name,
		Version:   s.version,
		State:     s.state,
		Policy:    s.policy,
		Items:     s.forest.Clone(),
		Watermark: s.merger.Watermark().Time(),
		FetchedAt: s.fetchedAt,
	}
}

func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Stream:   s.name,
		State:    s.state,
		Mode:     s.mode,
		Policy:   s.policy,
		Interval: s.sched.Interval(),
		Version:  s.version,
		Items:    s.forest.Len(),
		Pending:  len(s.pending),
		Poll:     s.sched.Stats(),
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Stream) tick(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	s.tickSeq++
	seq := s.tickSeq
	src := s.source
	var after merge.Watermark
	if s.mode == ModeAppend {
		after = s.merger.Watermark()
	}
	s.mu.Unlock()

	if src == nil {
		return fmt.Errorf("%s: no source", s.name)
	}
	items, err := src.Fetch(ctx, after)

	s.mu.Lock()
	defer s.mu.Unlock()
	stale := gen != s.gen || s.closed
	if err != nil {
		if !stale {
			s.lastErr = err
		}
		return fmt.Errorf("fetch %s: %w", s.name, err)
	}
	if stale {
		return nil
	}
	if seq < s.appliedSeq {
		return nil
	}
	s.appliedSeq = seq
	s.lastErr = nil
	s.fetchedAt = s.clock.Now()

	switch s.mode {
	case ModeAppend:
		// Append replaces known rows in place, so in-flight edits and
		// likes are put back on top of what was just merged.
		s.merger.Append(&s.forest, items)
		s.overlayLocked(&s.forest, seq)
	default:
		fresh := thread.Reconcile(items, s.policy)
		thread.CarryFlags(s.forest, fresh)
		s.overlayLocked(&fresh, seq)
		s.forest = fresh
	}
	s.prunePendingLocked(seq)
	s.publishLocked()
	return nil
}

func (s *Stream) overlayLocked(f *thread.Forest, seq uint64) {
	applied := false
	for _, p := range s.pending {
		if p.covers(seq) {
			p.reapply(f, s.policy)
			applied = true
		}
	}
	if applied {
		f.Sort(s.policy)
	}
}

func (s *Stream) prunePendingLocked(seq uint64) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.covers(seq) {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = nil
	}
	s.pending = kept
}

func (s *Stream) publishLocked() {
	s.version++
	if s.closed {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Submit applies a to the collection immediately and then writes it.
// The local change is not reverted when the write fails; the returned
// *WriteError carries a message for the user.
func (s *Stream) Submit(ctx context.Context, a Action) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	w, changed, err := s.applyLocked(a)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if changed {
		s.publishLocked()
	}
	if a.Kind == ActionFlag || !changed || s.writer == nil {
		s.mu.Unlock()
		return nil
	}
	entry := &pendingWrite{write: w}
	s.pending = append(s.pending, entry)
	writer := s.writer
	s.mu.Unlock()

	stored, werr := writer.Write(ctx, w)

	s.mu.Lock()
	entry.resolved = true
	entry.resolvedAt = s.tickSeq
	if a.Kind == ActionAdd {
		s.settleAddLocked(entry, stored, werr)
	}
	s.publishLocked()
	s.mu.Unlock()

	if werr != nil {
		log.Printf("syncer: %s: %s %s failed: %v", s.name, a.Kind, w.Item.ID, werr)
		return &WriteError{
			Action:  a.Kind,
			ID:      w.Item.ID,
			Message: userMessage(a.Kind, w.Item.Kind),
			Err:     werr,
		}
	}
	return nil
}

// settleAddLocked clears the pending mark of an added item, swapping in
// the stored version when there is one.
func (s *Stream) settleAddLocked(entry *pendingWrite, stored *item.Item, werr error) {
	id := entry.write.Item.ID
	settled := entry.write.Item.Clone()
	if werr == nil && stored != nil {
		settled = stored.Clone()
		for name, on := range entry.write.Item.Flags {
			if _, set := settled.Flags[name]; !set {
				settled.SetFlag(name, on)
			}
		}
	}
	delete(settled.Flags, item.FlagPending)
	if werr != nil {
		settled.SetFlag(item.FlagFailed, true)
	}
	entry.write.Item = settled

	node, ok := s.forest.Find(id)
	if !ok {
		return
	}
	counters := node.Item.Counters
	node.Item = settled.Clone()
	for name, value := range counters {
		if _, set := node.Item.Counters[name]; !set {
			node.Item.SetCounter(name, value)
		}
	}
}

func (s *Stream) applyLocked(a Action) (Write, bool, error) {
	switch a.Kind {
	case ActionAdd:
		it := a.Item.Clone()
		if it.ID == "" {
			it.ID = util.NewID(strings.ToLower(string(it.Kind)))
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = s.clock.Now().UTC()
		}
		if it.AuthorID == "" {
			it.AuthorID = a.UserID
		}
		it.SetFlag(item.FlagPending, true)
		if !s.forest.Add(it, s.policy) {
			return Write{}, false, fmt.Errorf("%w: %s", ErrDuplicateItem, it.ID)
		}
		a.Item = it
		return Write{Action: a, Item: it}, true, nil

	case ActionEdit:
		if a.Patch.Empty() {
			return Write{}, false, fmt.Errorf("%w: empty edit", ErrInvalidAction)
		}
		if !s.forest.Update(a.ID, a.Patch) {
			return Write{}, false, fmt.Errorf("%w: %s", ErrUnknownItem, a.ID)
		}
		node, _ := s.forest.Find(a.ID)
		return Write{Action: a, Item: node.Item.Clone()}, true, nil

	case ActionDelete:
		removed, ok := s.forest.Remove(a.ID)
		if !ok {
			return Write{}, false, fmt.Errorf("%w: %s", ErrUnknownItem, a.ID)
		}
		subtree := thread.Forest{removed}
		if s.mode == ModeAppend {
			for _, id := range subtree.IDs() {
				s.merger.Exclude(id)
			}
		}
		return Write{Action: a, Item: removed.Item.Clone(), Removed: subtree.IDs()}, true, nil

	case ActionLike, ActionUnlike:
		node, ok := s.forest.Find(a.ID)
		if !ok {
			return Write{}, false, fmt.Errorf("%w: %s", ErrUnknownItem, a.ID)
		}
		changed := setLiked(s.forest, a.ID, a.Kind == ActionLike)
		return Write{Action: a, Item: node.Item.Clone()}, changed, nil

	case ActionFlag:
		if a.Flag == "" || a.Flag == item.FlagPending {
			return Write{}, false, fmt.Errorf("%w: flag %q", ErrInvalidAction, a.Flag)
		}
		if !s.forest.SetFlag(a.ID, a.Flag, a.On) {
			return Write{}, false, fmt.Errorf("%w: %s", ErrUnknownItem, a.ID)
		}
		return Write{Action: a}, true, nil

	default:
		return Write{}, false, fmt.Errorf("%w: %q", ErrInvalidAction, a.Kind)
	}
}
