package civil

import (
	"errors"
	"testing"
	"time"
)

func TestCivilNowInZone(t *testing.T) {
	t.Parallel()
	instant := time.Date(2026, time.January, 15, 12, 30, 45, 900_000_000, time.UTC)
	src := NewSource(WithNow(func() time.Time { return instant }))

	tests := []struct {
		tz   string
		want Time
	}{
		{tz: "UTC", want: Time{2026, time.January, 15, 12, 30, 45}},
		{tz: "Asia/Jakarta", want: Time{2026, time.January, 15, 19, 30, 45}},
		{tz: "America/New_York", want: Time{2026, time.January, 15, 7, 30, 45}},
		{tz: "Pacific/Kiritimati", want: Time{2026, time.January, 16, 2, 30, 45}},
	}
	for _, tt := range tests {
		got, err := src.CivilNow(tt.tz)
		if err != nil {
			t.Fatalf("CivilNow(%q) error: %v", tt.tz, err)
		}
		if got != tt.want {
			t.Fatalf("CivilNow(%q) = %v, want %v", tt.tz, got, tt.want)
		}
	}
}

func TestAsUTCDropsOffsetAndSubseconds(t *testing.T) {
	t.Parallel()
	c := Time{2026, time.March, 1, 9, 0, 5}
	got := c.AsUTC()
	want := time.Date(2026, time.March, 1, 9, 0, 5, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("AsUTC() = %v, want %v", got, want)
	}
	if c.String() != "2026-03-01T09:00:05" {
		t.Fatalf("String() = %s", c.String())
	}
}

func TestUnknownZone(t *testing.T) {
	t.Parallel()
	src := NewSource()
	if _, err := src.CivilNow("Mars/Olympus_Mons"); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("err = %v, want ErrUnknownZone", err)
	}
	if _, err := src.CivilNow("  "); !errors.Is(err, ErrUnknownZone) {
		t.Fatalf("err = %v, want ErrUnknownZone", err)
	}
}
