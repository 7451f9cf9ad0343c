package timeout

import (
	"strings"

	"laterd/internal/eventbus"
	logx "laterd/pkg/logx"
)

type options struct {
	name  string
	tz    string
	clock Clock
	civil CivilSource
	log   logx.Logger
	bus   eventbus.Bus
}

type Option func(*options)

// WithTimezone evaluates the schedule against the zone's wall-clock time.
func WithTimezone(tz string) Option {
	return func(o *options) { o.tz = strings.TrimSpace(tz) }
}

// WithClock replaces the platform timer primitive.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithCivilSource replaces the wall-clock source used in timezone mode.
func WithCivilSource(src CivilSource) Option {
	return func(o *options) {
		if src != nil {
			o.civil = src
		}
	}
}

func WithLogger(l logx.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithBus publishes lifecycle events (eventbus.Timeout*).
func WithBus(b eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithName tags logs and events.
func WithName(name string) Option {
	return func(o *options) { o.name = strings.TrimSpace(name) }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	if o.name != "" {
		o.log = o.log.With(logx.String("timeout", o.name))
	}
	if o.clock == nil {
		o.clock = NewSystemClock(o.log)
	}
	return o
}
