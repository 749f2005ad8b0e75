package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual clock. Callbacks scheduled with AfterFunc run on the
// goroutine that calls Advance, in deadline order.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*fakeTimer

	// IgnoreStop keeps stopped timers armed so tests can observe what a
	// late callback does after its owner has moved on.
	IgnoreStop bool
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	seq      uint64
	fn       func()
	fired    bool
	stopped  bool
}

// NewFake returns a virtual clock starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn at Now()+d
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.seq++
	t := &fakeTimer{
		clock:    f,
		deadline: f.now.Add(d),
		seq:      f.seq,
		fn:       fn,
	}
	f.pending = append(f.pending, t)
	return t
}

// Pending returns the number of armed timers
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.pending {
		if !t.fired && (!t.stopped || f.IgnoreStop) {
			n++
		}
	}
	return n
}

// Advance moves virtual time forward by d, firing every timer that falls due,
// including timers scheduled by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.next(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	if f.now.Before(target) {
		f.now = target
	}
	f.mu.Unlock()
}

// next pops the earliest due timer and moves the clock to its deadline
func (f *Fake) next(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := f.pending[:0]
	for _, t := range f.pending {
		if t.fired || (t.stopped && !f.IgnoreStop) {
			continue
		}
		live = append(live, t)
	}
	f.pending = live

	sort.SliceStable(f.pending, func(i, j int) bool {
		a, b := f.pending[i], f.pending[j]
		if a.deadline.Equal(b.deadline) {
			return a.seq < b.seq
		}
		return a.deadline.Before(b.deadline)
	})

	if len(f.pending) == 0 || f.pending[0].deadline.After(target) {
		return nil
	}

	t := f.pending[0]
	f.pending = f.pending[1:]
	t.fired = true
	if t.deadline.After(f.now) {
		f.now = t.deadline
	}
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
