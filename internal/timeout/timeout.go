package timeout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"laterd/internal/civil"
	"laterd/internal/eventbus"
	logx "laterd/pkg/logx"
)

// Func is the callback armed by Start. The context carries the timezone
// (TimezoneFrom) and the targeted occurrence (OccurrenceFrom).
type Func func(ctx context.Context)

// Timeout is the lifecycle of one Start call.
//
// It is done when no platform timer is pending: never armed, schedule
// exhausted, callback dispatched, or cleared.
type Timeout struct {
	job   Func
	sched Schedule
	opt   options

	// civil source for timezone mode, defaulting to one driven by opt.clock.
	civil CivilSource
	// cfail throttles warnings when the civil source keeps failing.
	cfail logx.Logger

	mu      sync.Mutex
	handle  Handle
	gen     uint64 // bumped on every arm; stale timer callbacks compare against it
	cleared bool
}

// Start arms job for the next occurrence of sched.
//
// A nil job (or nil schedule) yields a Timeout that is already done and
// never touches the clock. The returned Timeout fires job at most once.
func Start(job Func, sched Schedule, opts ...Option) *Timeout {
	o := buildOptions(opts)
	t := &Timeout{job: job, sched: sched, opt: o}
	if job == nil {
		return t
	}
	if sched == nil {
		o.log.Warn("start without schedule; nothing armed")
		return t
	}
	if o.tz != "" {
		t.civil = o.civil
		if t.civil == nil {
			t.civil = civil.NewSource(civil.WithNow(o.clock.Now))
		}
		t.cfail = o.log.Every(time.Minute, 1)
	}

	t.mu.Lock()
	t.stepLocked()
	t.mu.Unlock()
	return t
}

// IsDone reports whether no timer is pending.
func (t *Timeout) IsDone() bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle == nil
}

// Clear cancels the pending timer, if any. After Clear the callback never
// runs and nothing is re-armed. Safe to call repeatedly or after firing.
func (t *Timeout) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	h := t.handle
	t.handle = nil
	t.cleared = true
	t.gen++
	t.mu.Unlock()

	if h == nil {
		return
	}
	h.Stop()
	t.opt.log.Debug("timeout cleared")
	t.publish(eventbus.TimeoutCleared, nil)
}

// now computes the reference instant handed to the schedule.
func (t *Timeout) now() time.Time {
	if t.opt.tz == "" {
		return t.opt.clock.Now()
	}
	c, err := t.civil.CivilNow(t.opt.tz)
	if err != nil {
		t.cfail.Warn("civil time unavailable; using platform clock",
			logx.String("tz", t.opt.tz), logx.Err(err))
		return t.opt.clock.Now()
	}
	return c.AsUTC()
}

// stepLocked is the re-arm step: recompute now, ask for two occurrences and
// arm either the callback or another step. Call with t.mu held.
func (t *Timeout) stepLocked() {
	now := t.now()
	next := t.sched.Next(2, now)
	if len(next) == 0 {
		t.handle = nil
		t.opt.log.Debug("schedule exhausted", logx.Time("now", now))
		t.publish(eventbus.TimeoutExhausted, eventbus.Timing{Now: now})
		return
	}

	target := next[0]
	diff := target.Sub(now)
	// Too close to fire meaningfully: aim at the occurrence after it.
	if diff < MinDelay {
		if len(next) > 1 {
			target = next[1]
			diff = target.Sub(now)
		} else {
			target = now.Add(MinDelay)
			diff = MinDelay
		}
	}

	t.gen++
	gen := t.gen
	if diff < MaxDelay {
		t.handle = t.opt.clock.AfterFunc(diff, func() { t.fire(gen, target) })
		t.opt.log.Debug("timeout armed",
			logx.Time("now", now), logx.Time("next", target), logx.Duration("delay", diff))
		t.publish(eventbus.TimeoutArmed, eventbus.Timing{Now: now, Next: target, Delay: diff})
		return
	}

	t.handle = t.opt.clock.AfterFunc(MaxDelay, func() { t.rearm(gen) })
	t.opt.log.Debug("occurrence beyond max delay; re-arming",
		logx.Time("now", now), logx.Time("next", target), logx.Duration("remaining", diff))
	t.publish(eventbus.TimeoutRearmed, eventbus.Timing{Now: now, Delay: MaxDelay})
}

// rearm is the target of a max-delay timer.
func (t *Timeout) rearm(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cleared || gen != t.gen {
		return
	}
	t.stepLocked()
}

func (t *Timeout) fire(gen uint64, occurrence time.Time) {
	t.mu.Lock()
	if t.cleared || gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.handle = nil
	t.mu.Unlock()

	t.publish(eventbus.TimeoutFired, eventbus.Timing{Next: occurrence})

	ctx := context.WithValue(context.Background(), occurrenceKey, occurrence)
	if t.opt.tz != "" {
		ctx = context.WithValue(ctx, tzKey, t.opt.tz)
	}
	t.run(ctx)
}

func (t *Timeout) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.opt.log.Error("callback panic",
				logx.String("panic", fmt.Sprint(r)), logx.Stack(string(debug.Stack())))
		}
	}()
	t.job(ctx)
}

func (t *Timeout) publish(typ string, data any) {
	if t.opt.bus == nil {
		return
	}
	t.opt.bus.Publish(eventbus.Event{Type: typ, Source: t.opt.name, Time: t.opt.clock.Now(), Data: data})
}
