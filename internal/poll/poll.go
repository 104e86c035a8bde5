// Package poll runs a fetch routine on a fixed interval while enabled.
package poll

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"murmur/api/internal/clock"
)

// FetchFunc is one polling tick. Errors are logged and swallowed.
type FetchFunc func(ctx context.Context) error

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithName sets the label used in log lines.
func WithName(name string) Option {
	return func(s *Scheduler) { s.name = name }
}

// WithSkipOverlap drops a tick when the previous one has not finished.
func WithSkipOverlap() Option {
	return func(s *Scheduler) { s.skipOverlap = true }
}

// Stats are cumulative tick counters.
type Stats struct {
	Ticks    int64 `json:"ticks"`
	Failures int64 `json:"failures"`
	Skipped  int64 `json:"skipped"`
}

// Scheduler invokes the current fetch routine immediately when enabled
// and then every interval. It holds at most one pending timer and owns
// no fetched data.
type Scheduler struct {
	clock       clock.Clock
	interval    time.Duration
	name        string
	skipOverlap bool

	mu       sync.Mutex
	fetch    FetchFunc
	ctx      context.Context
	started  bool
	runID    uint64
	enabled  bool
	gen      uint64
	timer    clock.Timer
	inFlight int
	release  func() bool
	wg       sync.WaitGroup

	ticks    atomic.Int64
	failures atomic.Int64
	skipped  atomic.Int64
}

func New(fetch FetchFunc, interval time.Duration, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	s := &Scheduler{
		clock:    clock.Real(),
		interval: interval,
		name:     "scheduler",
		fetch:    fetch,
		ctx:      context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the scheduler to ctx and, when enabled, runs the first
// fetch right away. Cancelling ctx stops the scheduler.
func (s *Scheduler) Start(ctx context.Context, enabled bool) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.SetEnabled(enabled)
		return
	}
	s.started = true
	s.runID++
	run := s.runID
	s.enabled = false
	s.ctx = ctx
	// A late cancellation of an earlier run's ctx must not stop this one.
	s.release = context.AfterFunc(ctx, func() { s.stopRun(run) })
	s.mu.Unlock()

	s.SetEnabled(enabled)
}

// SetEnabled turns polling on or off. Turning it on fetches immediately
// and restarts the cadence; turning it off cancels the pending timer.
// Before Start, or after Stop, it does nothing: Start decides.
func (s *Scheduler) SetEnabled(on bool) {
	s.mu.Lock()
	if !s.started || on == s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = on
	s.gen++
	s.stopTimerLocked()
	gen := s.gen
	s.mu.Unlock()

	if on {
		s.clock.AfterFunc(0, func() { s.tick(gen) })
	}
}

// Enabled reports whether ticks are currently scheduled.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetFetch replaces the fetch routine. The next tick uses fn; the
// cadence is unchanged.
func (s *Scheduler) SetFetch(fn FetchFunc) {
	s.mu.Lock()
	s.fetch = fn
	s.mu.Unlock()
}

func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Stop cancels the pending timer. Fetches already running complete; use
// Wait to block on them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopLocked()
}

func (s *Scheduler) stopRun(run uint64) {
	s.mu.Lock()
	if run != s.runID {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
}

// stopLocked releases s.mu.
func (s *Scheduler) stopLocked() {
	s.started = false
	s.enabled = false
	s.gen++
	s.stopTimerLocked()
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
}

// Wait blocks until no fetch is running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:    s.ticks.Load(),
		Failures: s.failures.Load(),
		Skipped:  s.skipped.Load(),
	}
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	if !s.enabled || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(gen) })
	if s.skipOverlap && s.inFlight > 0 {
		s.mu.Unlock()
		s.skipped.Add(1)
		return
	}
	s.inFlight++
	s.wg.Add(1)
	fetch, ctx := s.fetch, s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.ticks.Add(1)
	if err := s.run(ctx, fetch); err != nil {
		s.failures.Add(1)
		log.Printf("poll: %s: %v", s.name, err)
	}
}

func (s *Scheduler) run(ctx context.Context, fetch FetchFunc) (err error) {
	if fetch == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	if err := fetch(ctx); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	return nil
}
