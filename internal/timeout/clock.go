package timeout

import (
	"context"
	"time"

	"laterd/internal/civil"
	logx "laterd/pkg/logx"
)

const (
	// MaxDelay is the longest delay a single platform timer may be armed for
	// (2^31-1 milliseconds, ~24.8 days).
	MaxDelay = 2147483647 * time.Millisecond

	// MinDelay is the shortest delay an occurrence may fire after.
	MinDelay = time.Second
)

// Schedule yields future occurrences.
//
// Next returns up to count instants strictly after ref, ascending. An empty
// result means the schedule is exhausted.
type Schedule interface {
	Next(count int, ref time.Time) []time.Time
}

// CivilSource reports the wall-clock reading of a named zone.
type CivilSource interface {
	CivilNow(tz string) (civil.Time, error)
}

// Handle is one armed platform timer.
type Handle interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped a pending timer; stopping twice is a no-op.
	Stop() bool
}

// Clock is the platform timer primitive.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// SystemClock is the process clock backed by time.AfterFunc. It clamps
// delays above MaxDelay without logging; see NewSystemClock.
var SystemClock Clock = systemClock{}

// NewSystemClock returns the process clock. A delay above MaxDelay is
// clamped to MaxDelay and reported on log.
func NewSystemClock(log logx.Logger) Clock { return systemClock{log: log} }

type systemClock struct {
	log logx.Logger
}

func (systemClock) Now() time.Time { return time.Now() }

func (c systemClock) AfterFunc(d time.Duration, f func()) Handle {
	if d > MaxDelay {
		c.log.Warn("timer delay clamped", logx.Duration("requested", d), logx.Duration("max", MaxDelay))
		d = MaxDelay
	}
	return time.AfterFunc(d, f)
}

type ctxKey int

const (
	tzKey ctxKey = iota
	occurrenceKey
)

// TimezoneFrom returns the timezone the firing Timeout was started with.
// Callbacks that start a follow-up Timeout pass it back via WithTimezone.
func TimezoneFrom(ctx context.Context) (string, bool) {
	tz, ok := ctx.Value(tzKey).(string)
	return tz, ok && tz != ""
}

// OccurrenceFrom returns the occurrence a callback was armed for. In
// timezone mode the instant lives in the zone-naive (civil-as-UTC) space.
func OccurrenceFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(occurrenceKey).(time.Time)
	return t, ok
}
