package session

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the renewal task needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Renewal is a cancellable one-shot task. At most one timer is outstanding:
// Arm replaces the previous one and a superseded timer that already started
// running is ignored via the generation counter.
type Renewal struct {
	mu    sync.Mutex
	after AfterFunc
	fn    func()
	timer Timer
	gen   uint64
	delay time.Duration
}

func NewRenewal(after AfterFunc, fn func()) *Renewal {
	if after == nil {
		after = realAfterFunc
	}
	return &Renewal{after: after, fn: fn}
}

// Arm schedules the task d from now, cancelling any earlier arming.
func (r *Renewal) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	gen := r.gen
	r.delay = d
	r.timer = r.after(d, func() { r.expire(gen) })
}

// Cancel disarms the task. Safe to call when nothing is armed.
func (r *Renewal) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
}

// Fire disarms and runs the task now on the calling goroutine.
func (r *Renewal) Fire() {
	r.Cancel()
	r.fn()
}

// Armed reports the delay of the outstanding timer, if any.
func (r *Renewal) Armed() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay, r.timer != nil
}

func (r *Renewal) expire(gen uint64) {
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.mu.Unlock()
	r.fn()
}

func (r *Renewal) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.delay = 0
}
