package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     Kind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron"},
		{name: "cron with seconds", raw: "0 30 9 * * 1-5", kind: KindCron, source: "cron"},
		{name: "descriptor", raw: "@daily", kind: KindCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron"},
		{name: "duration", raw: "10m", kind: KindInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "Every: 2h", kind: KindInterval, source: "duration", duration: 2 * time.Hour},
		{name: "every descriptor", raw: "@every 55m", kind: KindInterval, source: "descriptor", duration: 55 * time.Minute},
		{name: "sub-second", raw: "1500ms", kind: KindInterval, source: "duration", duration: 1500 * time.Millisecond},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "at", raw: "at:2026-05-01T09:00:00", kind: KindOnce, source: "at"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseAt(t *testing.T) {
	t.Parallel()
	naive, err := Parse("at:2026-05-01 09:00")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, time.May, 1, 9, 0, 0, 0, time.UTC); !naive.At.Equal(want) {
		t.Fatalf("At = %v, want %v", naive.At, want)
	}

	offset, err := Parse("at:2026-05-01T09:00:00+07:00")
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2026, time.May, 1, 2, 0, 0, 0, time.UTC); !offset.At.Equal(want) {
		t.Fatalf("At = %v, want %v", offset.At, want)
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"not-a-schedule", "0s", "interval:", "cron:", "at:tomorrow", "00:75", "@every soon"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("Parse(%q): expected error", raw)
		}
	}
	if _, err := Parse("   "); !errors.Is(err, ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmpty", err)
	}
}
