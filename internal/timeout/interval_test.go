package timeout_test

import (
	"context"
	"testing"
	"time"

	"laterd/internal/timeout"
)

func TestEveryFiresEachOccurrenceUntilExhausted(t *testing.T) {
	clock, rec := setup()
	iv := timeout.Every(rec.job, occurrences(10*time.Second, 20*time.Second, 30*time.Second), timeout.WithClock(clock))

	clock.Advance(time.Minute)
	got := rec.fired()
	if len(got) != 3 {
		t.Fatalf("fired %d times, want 3", len(got))
	}
	for i, want := range []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second} {
		if !got[i].Equal(base.Add(want)) {
			t.Fatalf("fire %d at %v, want +%v", i, got[i], want)
		}
	}
	if iv.Fires() != 3 {
		t.Fatalf("Fires() = %d", iv.Fires())
	}
	if !iv.IsDone() {
		t.Fatal("interval should be done once the schedule is exhausted")
	}
}

func TestEveryClearStopsFurtherFires(t *testing.T) {
	clock, rec := setup()
	iv := timeout.Every(rec.job, occurrences(10*time.Second, 20*time.Second, 30*time.Second), timeout.WithClock(clock))

	clock.Advance(15 * time.Second)
	iv.Clear()
	iv.Clear()
	clock.Advance(time.Minute)
	if n := len(rec.fired()); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if !iv.IsDone() || clock.Pending() != 0 {
		t.Fatal("expected nothing armed after Clear")
	}
}

func TestEveryClearFromCallback(t *testing.T) {
	clock, _ := setup()
	var iv *timeout.Interval
	n := 0
	iv = timeout.Every(func(context.Context) {
		n++
		iv.Clear()
	}, occurrences(10*time.Second, 20*time.Second), timeout.WithClock(clock))

	clock.Advance(time.Minute)
	if n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
	if !iv.IsDone() {
		t.Fatal("expected done")
	}
}

func TestEveryNilJob(t *testing.T) {
	iv := timeout.Every(nil, occurrences(time.Second))
	if !iv.IsDone() {
		t.Fatal("nil job should be done")
	}
	iv.Clear()
}
