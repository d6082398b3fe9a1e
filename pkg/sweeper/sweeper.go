// Package sweeper runs a periodic cleanup function on its own goroutine with an
// explicit Start/Stop lifecycle.
//
// A Sweeper is owned by the store it cleans: the store's constructor (or the
// service wrapping it) calls Start, and its shutdown path calls Stop. After Stop
// returns the sweep function is never invoked again.
//
// Performance Characteristics:
//   - One goroutine and one time.Ticker per Sweeper
//   - Sweep cost is whatever fn costs; fn runs serially, never concurrently with itself
package sweeper

import (
	"sync"
	"time"
)

// SweepFunc removes expired state as of now and returns how many items it removed.
type SweepFunc func(now time.Time) int

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source passed to the sweep function.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithOnSweep registers a callback invoked after every tick-driven sweep.
func WithOnSweep(fn func(name string, removed int)) Option {
	return func(s *Sweeper) {
		s.onSweep = fn
	}
}

// Sweeper periodically invokes a SweepFunc.
type Sweeper struct {
	name     string
	interval time.Duration
	fn       SweepFunc
	now      func() time.Time
	onSweep  func(name string, removed int)

	mu       sync.Mutex // serializes fn between ticks and SweepNow
	stateMu  sync.Mutex
	started  bool
	stopped  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a stopped Sweeper. interval must be positive.
func New(name string, interval time.Duration, fn SweepFunc, opts ...Option) *Sweeper {
	if interval <= 0 {
		panic("sweeper: interval must be positive")
	}
	if fn == nil {
		panic("sweeper: fn cannot be nil")
	}

	s := &Sweeper{
		name:     name,
		interval: interval,
		fn:       fn,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the sweeper's name.
func (s *Sweeper) Name() string {
	return s.name
}

// Interval returns the configured tick interval.
func (s *Sweeper) Interval() time.Duration {
	return s.interval
}

// Start launches the background goroutine. Calling Start more than once, or
// after Stop, has no effect.
func (s *Sweeper) Start() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.run()
}

// Stop halts the background goroutine and waits for an in-progress sweep to
// finish. It is safe to call Stop multiple times and before Start.
func (s *Sweeper) Stop() {
	s.stateMu.Lock()
	if s.stopped {
		s.stateMu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopChan)
	s.stateMu.Unlock()

	s.wg.Wait()
}

// Running reports whether the background goroutine has been started and not stopped.
func (s *Sweeper) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.started && !s.stopped
}

// SweepNow runs the sweep function synchronously and returns its result.
func (s *Sweeper) SweepNow() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fn(s.now())
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			// Stop may have raced with the tick.
			select {
			case <-s.stopChan:
				return
			default:
			}

			removed := s.SweepNow()
			if s.onSweep != nil {
				s.onSweep(s.name, removed)
			}
		}
	}
}
