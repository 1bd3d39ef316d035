package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests of
// replenishment loops and TTL expiry.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake constructs a Fake clock starting at the provided time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward and fires any ticker or After channel
// whose deadline has passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	tickers := append([]*fakeTicker(nil), f.tickers...)
	f.mu.Unlock()

	for _, t := range tickers {
		t.maybeFire(now)
	}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	t := &fakeTicker{
		clock:    f,
		interval: d,
		ch:       make(chan time.Time, 1),
	}
	f.mu.Lock()
	t.next = f.now.Add(d)
	f.tickers = append(f.tickers, t)
	f.mu.Unlock()
	return t
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	deadline := f.now.Add(d)
	f.mu.Unlock()
	go func() {
		for {
			f.mu.Lock()
			reached := !f.now.Before(deadline)
			now := f.now
			f.mu.Unlock()
			if reached {
				ch <- now
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	return ch
}

// Sleep is a no-op on the fake clock; callers that need to observe elapsed
// time should call Advance explicitly instead.
func (f *Fake) Sleep(time.Duration) {}

type fakeTicker struct {
	clock    *Fake
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
	mu       sync.Mutex
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) maybeFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	for !now.Before(t.next) {
		select {
		case t.ch <- t.next:
		default:
		}
		t.next = t.next.Add(t.interval)
	}
}
