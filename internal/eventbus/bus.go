package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal about a timeout or job lifecycle.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; slow subscribers drop events.
//
// Source names the emitter (a timeout or job name), Data carries a small
// payload such as a Timing value.
type Event struct {
	Type   string
	Source string
	Time   time.Time
	Data   any
}

// Event types published by internal/timeout and internal/runner.
const (
	TimeoutArmed     = "timeout.armed"
	TimeoutRearmed   = "timeout.rearmed"
	TimeoutFired     = "timeout.fired"
	TimeoutExhausted = "timeout.exhausted"
	TimeoutCleared   = "timeout.cleared"

	JobFinished = "job.finished"
)

// Timing describes one arming decision.
type Timing struct {
	Now   time.Time     // reference instant handed to the schedule
	Next  time.Time     // occurrence the timer is aimed at (zero for self re-arm)
	Delay time.Duration // delay handed to the platform timer
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a subscriber. prefix filters by Type ("" = all).
	Subscribe(prefix string, buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]sub{}}
}

type sub struct {
	prefix string
	ch     chan Event
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.prefix == "" || strings.HasPrefix(e.Type, s.prefix) {
			chs = append(chs, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// A concurrent unsubscribe may close the channel; recover from that send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(prefix string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
