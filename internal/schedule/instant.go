package schedule

import (
	"fmt"
	"strings"
	"time"
)

// ParseInstant reads a bound (start/until) into the zone-naive space.
//
// Readings without an offset are wall-clock time and kept as is. Readings
// with an offset are converted to loc's wall clock first; a nil loc means
// the schedule runs on platform time and the instant is simply made UTC.
func ParseInstant(raw string, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return time.Time{}, fmt.Errorf("time required")
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		if loc == nil {
			return t.UTC(), nil
		}
		w := t.In(loc)
		return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC), nil
	}
	for _, layout := range atLayouts[1:] {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use 2006-01-02T15:04:05 or RFC3339)", v)
}
