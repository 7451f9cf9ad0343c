package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// epoch anchors intervals without a start, so occurrences do not drift with
// the reference instant.
var epoch = time.Unix(0, 0).UTC()

// parser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule evaluates a parsed schedule string in zone-naive time: every
// instant is handled in UTC, so a caller that feeds it a civil reading
// re-read as UTC gets occurrences on that zone's wall clock.
//
// A Schedule is immutable and safe for concurrent use.
type Schedule struct {
	raw    string
	parsed Parsed
	cron   cron.Schedule

	start  time.Time // bounds the schedule and anchors Limit counting; zero = unbounded
	anchor time.Time // intervals tick at anchor + k*every
	until time.Time // no occurrences after this instant; zero = unbounded
	limit int       // at most this many occurrences after start; 0 = unbounded
}

type Option func(*Schedule)

// WithStart anchors the schedule: no occurrence precedes start, and
// intervals tick at start + k*every. Without it intervals tick on the Unix
// epoch grid.
func WithStart(t time.Time) Option {
	return func(s *Schedule) { s.start = t.UTC() }
}

// WithUntil ends the schedule after t (inclusive).
func WithUntil(t time.Time) Option {
	return func(s *Schedule) { s.until = t.UTC() }
}

// WithLimit caps the number of occurrences counted from WithStart.
func WithLimit(n int) Option {
	return func(s *Schedule) {
		if n > 0 {
			s.limit = n
		}
	}
}

// Compile parses raw and returns a Schedule ready for Next queries.
func Compile(raw string, opts ...Option) (*Schedule, error) {
	p, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	s := &Schedule{raw: strings.TrimSpace(raw), parsed: p}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}

	switch p.Kind {
	case KindCron:
		up := strings.ToUpper(p.Cron)
		if strings.HasPrefix(up, "TZ=") || strings.HasPrefix(up, "CRON_TZ=") {
			return nil, fmt.Errorf("schedule %q: put the zone in the timezone setting, not in the cron expression", raw)
		}
		if strings.HasPrefix(up, "@EVERY") {
			return nil, fmt.Errorf("schedule %q: @every is an interval, drop the cron: prefix", raw)
		}
		cs, err := parser.Parse(p.Cron)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", raw, err)
		}
		s.cron = cs
	case KindInterval:
		s.anchor = s.start
		if s.anchor.IsZero() {
			s.anchor = epoch
		}
	case KindOnce:
		if !s.start.IsZero() && p.At.Before(s.start) {
			return nil, fmt.Errorf("schedule %q: at precedes start", raw)
		}
	}
	if s.limit > 0 && s.start.IsZero() {
		return nil, fmt.Errorf("schedule %q: limit requires a start", raw)
	}
	return s, nil
}

// MustCompile is Compile for static schedules; it panics on error.
func MustCompile(raw string, opts ...Option) *Schedule {
	s, err := Compile(raw, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schedule) String() string { return s.raw }

func (s *Schedule) Kind() Kind { return s.parsed.Kind }

// Next returns up to count occurrences strictly after ref, ascending.
// An empty result means the schedule is exhausted.
func (s *Schedule) Next(count int, ref time.Time) []time.Time {
	if count <= 0 {
		return nil
	}
	ref = ref.UTC()
	out := make([]time.Time, 0, count)

	if s.limit > 0 {
		// Walk occurrences from start; at most limit steps.
		t := s.start.Add(-time.Nanosecond)
		for i := 0; i < s.limit && len(out) < count; i++ {
			t = s.after(t)
			if t.IsZero() || s.pastUntil(t) {
				break
			}
			if t.After(ref) {
				out = append(out, t)
			}
		}
		return out
	}

	t := ref
	if !s.start.IsZero() && t.Before(s.start) {
		t = s.start.Add(-time.Nanosecond)
	}
	for len(out) < count {
		t = s.after(t)
		if t.IsZero() || s.pastUntil(t) {
			break
		}
		out = append(out, t)
	}
	return out
}

// after returns the first occurrence strictly after t, or zero.
func (s *Schedule) after(t time.Time) time.Time {
	switch s.parsed.Kind {
	case KindOnce:
		if s.parsed.At.After(t) {
			return s.parsed.At
		}
		return time.Time{}
	case KindInterval:
		if t.Before(s.anchor) {
			return s.anchor
		}
		k := t.Sub(s.anchor)/s.parsed.Every + 1
		return s.anchor.Add(k * s.parsed.Every)
	default:
		return s.cron.Next(t)
	}
}

func (s *Schedule) pastUntil(t time.Time) bool {
	return !s.until.IsZero() && t.After(s.until)
}

// Preview formats the next n occurrences after from, for logs and the CLI.
func Preview(s interface {
	Next(int, time.Time) []time.Time
}, n int, from time.Time) []string {
	if s == nil || n <= 0 {
		return nil
	}
	next := s.Next(n, from)
	out := make([]string, 0, len(next))
	for _, t := range next {
		out = append(out, t.Format("2006-01-02 15:04:05"))
	}
	return out
}
