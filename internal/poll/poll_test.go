package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"murmur/api/internal/clock"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func counter(n *atomic.Int32) FetchFunc {
	return func(context.Context) error {
		n.Add(1)
		return nil
	}
}

func TestSchedulerFetchesImmediatelyThenOnInterval(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(counter(&calls), time.Second, WithClock(fc))
	s.Start(context.Background(), true)
	defer s.Stop()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls after start = %d, want 1", got)
	}
	fc.Advance(1500 * time.Millisecond)
	if got := calls.Load(); got < 2 {
		t.Fatalf("calls after 1500ms = %d, want >= 2", got)
	}
	fc.Advance(3 * time.Second)
	if got := calls.Load(); got != 5 {
		t.Fatalf("calls after 4500ms = %d, want 5", got)
	}
	if fc.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", fc.Pending())
	}
}

func TestSchedulerStartDisabled(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(counter(&calls), time.Second, WithClock(fc))
	s.Start(context.Background(), false)
	defer s.Stop()

	fc.Advance(5 * time.Second)
	if calls.Load() != 0 || s.Enabled() {
		t.Fatalf("disabled scheduler fetched %d times", calls.Load())
	}

	s.SetEnabled(true)
	if calls.Load() != 1 || !s.Enabled() {
		t.Fatalf("enable did not fetch immediately: %d", calls.Load())
	}
}

func TestSchedulerDisableStopsTicks(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(counter(&calls), time.Second, WithClock(fc))
	s.Start(context.Background(), true)
	defer s.Stop()

	fc.Advance(time.Second)
	s.SetEnabled(false)
	before := calls.Load()
	fc.Advance(10 * time.Second)
	if got := calls.Load(); got != before {
		t.Fatalf("calls after disable = %d, want %d", got, before)
	}
	if fc.Pending() != 0 {
		t.Fatalf("pending timers after disable = %d", fc.Pending())
	}

	s.SetEnabled(true)
	fc.Advance(time.Second)
	if got := calls.Load(); got != before+2 {
		t.Fatalf("calls after re-enable = %d, want %d", got, before+2)
	}
	if fc.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", fc.Pending())
	}
}

func TestSchedulerUsesLatestFetch(t *testing.T) {
	fc := clock.Fake(epoch)
	var first, second atomic.Int32
	s := New(counter(&first), time.Second, WithClock(fc))
	s.Start(context.Background(), true)
	defer s.Stop()

	fc.Advance(400 * time.Millisecond)
	s.SetFetch(counter(&second))
	fc.Advance(600 * time.Millisecond)

	if first.Load() != 1 {
		t.Fatalf("old routine calls = %d, want 1", first.Load())
	}
	if second.Load() != 1 {
		t.Fatalf("new routine calls = %d, want 1 on the unchanged cadence", second.Load())
	}
}

func TestSchedulerSwallowsErrorsAndPanics(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(func(context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("decode blew up")
		}
		return nil
	}, time.Second, WithClock(fc), WithName("test"))
	s.Start(context.Background(), true)
	defer s.Stop()

	fc.Advance(3 * time.Second)
	if got := calls.Load(); got != 4 {
		t.Fatalf("calls = %d, want 4", got)
	}
	stats := s.Stats()
	if stats.Ticks != 4 || stats.Failures != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestSchedulerOverlap(t *testing.T) {
	tests := []struct {
		name        string
		opts        []Option
		wantCalls   int32
		wantSkipped int64
	}{
		{name: "overlapping ticks run", wantCalls: 2},
		{name: "skip overlap", opts: []Option{WithSkipOverlap()}, wantCalls: 1, wantSkipped: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clock.Fake(epoch)
			var calls atomic.Int32
			fetch := func(context.Context) error {
				// The first fetch is slow: the next tick comes due
				// before it returns.
				if calls.Add(1) == 1 {
					fc.Advance(time.Second)
				}
				return nil
			}
			s := New(fetch, time.Second, append(tt.opts, WithClock(fc))...)
			s.Start(context.Background(), true)
			defer s.Stop()

			if got := calls.Load(); got != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tt.wantCalls)
			}
			if got := s.Stats().Skipped; got != tt.wantSkipped {
				t.Fatalf("skipped = %d, want %d", got, tt.wantSkipped)
			}
		})
	}
}

func TestSchedulerStopCancelsTimer(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(counter(&calls), time.Second, WithClock(fc))
	s.Start(context.Background(), true)
	s.Stop()
	s.Wait()

	fc.Advance(5 * time.Second)
	if calls.Load() != 1 {
		t.Fatalf("calls after stop = %d", calls.Load())
	}
	if s.Enabled() {
		t.Fatal("stopped scheduler reports enabled")
	}
}

func TestSchedulerStopsWithContext(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := New(counter(&calls), 10*time.Millisecond)
	s.Start(ctx, true)
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for s.Enabled() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still enabled after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Wait()
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != settled {
		t.Fatal("scheduler kept ticking after context cancel")
	}
}

func TestSchedulerStartDecidesEnabledState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *Scheduler)
	}{
		{name: "enabled before start", setup: func(s *Scheduler) {
			s.SetEnabled(true)
		}},
		{name: "enabled after stop", setup: func(s *Scheduler) {
			s.Start(context.Background(), true)
			s.Stop()
			s.SetEnabled(true)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := clock.Fake(epoch)
			var calls atomic.Int32
			s := New(counter(&calls), time.Second, WithClock(fc))
			defer s.Stop()

			tt.setup(s)
			before := calls.Load()
			if s.Enabled() || fc.Pending() != 0 {
				t.Fatalf("not started yet: enabled=%v pending=%d", s.Enabled(), fc.Pending())
			}

			s.Start(context.Background(), true)
			if got := calls.Load(); got != before+1 {
				t.Fatalf("calls after start = %d, want %d", got, before+1)
			}
			if !s.Enabled() || fc.Pending() != 1 {
				t.Fatalf("after start: enabled=%v pending=%d", s.Enabled(), fc.Pending())
			}
			fc.Advance(2 * time.Second)
			if got := calls.Load(); got != before+3 {
				t.Fatalf("calls after 2s = %d, want %d", got, before+3)
			}
		})
	}
}

func TestSchedulerEarlierContextDoesNotStopRestart(t *testing.T) {
	fc := clock.Fake(epoch)
	var calls atomic.Int32
	s := New(counter(&calls), time.Second, WithClock(fc))
	defer s.Stop()

	first, cancel := context.WithCancel(context.Background())
	s.Start(first, true)
	s.Stop()
	s.Start(context.Background(), true)
	cancel()
	time.Sleep(20 * time.Millisecond)

	if !s.Enabled() {
		t.Fatal("cancelling the first run's context stopped the second run")
	}
	before := calls.Load()
	fc.Advance(time.Second)
	if calls.Load() != before+1 {
		t.Fatalf("calls = %d, want %d", calls.Load(), before+1)
	}
}
