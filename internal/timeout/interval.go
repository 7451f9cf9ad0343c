package timeout

import (
	"context"
	"sync"
)

// Interval keeps a schedule armed across fires by starting a new Timeout
// each time the previous one fires.
type Interval struct {
	job   Func
	sched Schedule
	opts  []Option

	mu      sync.Mutex
	cur     *Timeout
	stopped bool
	fires   uint64
}

// Every runs job at every occurrence of sched until the schedule is
// exhausted or Clear is called. The same MinDelay and MaxDelay rules as
// Start apply to each occurrence.
func Every(job Func, sched Schedule, opts ...Option) *Interval {
	iv := &Interval{job: job, sched: sched, opts: append([]Option(nil), opts...)}
	if job == nil || sched == nil {
		iv.stopped = true
		return iv
	}
	iv.mu.Lock()
	iv.cur = Start(iv.dispatch, sched, iv.opts...)
	iv.mu.Unlock()
	return iv
}

// dispatch arms the following occurrence before running job, so a slow
// job does not push the next fire back.
func (iv *Interval) dispatch(ctx context.Context) {
	iv.mu.Lock()
	if iv.stopped {
		iv.mu.Unlock()
		return
	}
	iv.fires++
	iv.cur = Start(iv.dispatch, iv.sched, iv.opts...)
	iv.mu.Unlock()

	iv.job(ctx)
}

// IsDone reports whether no further occurrence is armed.
func (iv *Interval) IsDone() bool {
	if iv == nil {
		return true
	}
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.stopped || iv.cur.IsDone()
}

// Fires returns how many occurrences have been dispatched.
func (iv *Interval) Fires() uint64 {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.fires
}

// Clear stops the interval. Idempotent.
func (iv *Interval) Clear() {
	if iv == nil {
		return
	}
	iv.mu.Lock()
	iv.stopped = true
	cur := iv.cur
	iv.mu.Unlock()
	cur.Clear()
}
