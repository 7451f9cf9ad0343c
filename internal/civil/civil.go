// Package civil reads wall-clock time in IANA time zones.
//
// A Time is what a clock on the wall in that zone shows: calendar date and
// time of day with no UTC offset attached.
package civil

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // hosts without /usr/share/zoneinfo
)

var ErrUnknownZone = errors.New("unknown time zone")

// Time is a civil (wall-clock) reading, second precision.
type Time struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// Of returns the civil reading of t in t's own location.
func Of(t time.Time) Time {
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return Time{Year: y, Month: mo, Day: d, Hour: h, Minute: mi, Second: s}
}

// AsUTC reinterprets the reading as if it were a UTC instant.
// This is the zone-naive instant space schedules are evaluated in.
func (c Time) AsUTC() time.Time {
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
}

func (c Time) String() string {
	return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d", c.Year, int(c.Month), c.Day, c.Hour, c.Minute, c.Second)
}

// Source produces civil "now" readings for named zones.
// The zero value is not usable; use NewSource.
type Source struct {
	now func() time.Time

	mu   sync.Mutex
	locs map[string]*time.Location
}

type Option func(*Source)

// WithNow overrides the platform clock (tests, fake clocks).
func WithNow(now func() time.Time) Option {
	return func(s *Source) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSource(opts ...Option) *Source {
	s := &Source{now: time.Now, locs: map[string]*time.Location{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CivilNow returns the wall-clock reading for tz at the current instant.
func (s *Source) CivilNow(tz string) (Time, error) {
	loc, err := s.Location(tz)
	if err != nil {
		return Time{}, err
	}
	return Of(s.now().In(loc)), nil
}

// Location resolves and caches an IANA zone name.
func (s *Source) Location(tz string) (*time.Location, error) {
	name := strings.TrimSpace(tz)
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownZone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc, ok := s.locs[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrUnknownZone, name, err)
	}
	s.locs[name] = loc
	return loc, nil
}
