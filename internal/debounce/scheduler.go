// Package debounce coalesces bursts of keyed events into one delayed action with a bounded maximum wait.
package debounce

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry struct {
	windowStart time.Time
	timer       *clock.Timer
	action      func()
	seq         uint64
}

// Scheduler holds at most one pending entry per key. All map mutations happen under mu;
// actions always run outside of it.
type Scheduler struct {
	clock   clock.Clock
	delay   time.Duration
	maxWait time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
}

// New returns a Scheduler. delay <= 0 disables coalescing: Schedule then runs actions synchronously.
func New(clk clock.Clock, delay, maxWait time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		clock:   clk,
		delay:   delay,
		maxWait: maxWait,
		entries: make(map[string]*entry),
	}
}

// Schedule arranges for action to run once key has been quiet for the configured delay.
// Every call re-arms the timer, unless the key's window has been open for maxWait or longer,
// in which case action runs immediately on the caller's goroutine. The most recent action wins.
func (s *Scheduler) Schedule(key string, action func()) {
	if s.delay <= 0 {
		action()
		return
	}

	now := s.clock.Now()
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{windowStart: now}
		s.entries[key] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	if ok && s.maxWait > 0 && now.Sub(e.windowStart) >= s.maxWait {
		delete(s.entries, key)
		s.mu.Unlock()
		action()
		return
	}
	s.seq++
	seq := s.seq
	e.seq = seq
	e.action = action
	e.timer = s.clock.AfterFunc(s.delay, func() { s.fire(key, seq) })
	s.mu.Unlock()
}

// fire runs the entry armed with seq. A timer that lost a race with a re-arm finds a newer seq and does nothing.
func (s *Scheduler) fire(key string, seq uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()
	e.action()
}

// Pending reports whether key has an armed entry.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Flush cancels every pending timer and runs the pending actions now. Used on shutdown.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	pending := make([]func(), 0, len(s.entries))
	for key, e := range s.entries {
		e.timer.Stop()
		pending = append(pending, e.action)
		delete(s.entries, key)
	}
	s.mu.Unlock()
	for _, action := range pending {
		action()
	}
}

// Stop cancels every pending timer without running the actions.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
