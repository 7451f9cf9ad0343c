package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"laterd/internal/config"
	"laterd/internal/runner"
	"laterd/internal/storage"
	"laterd/internal/timeout/testutil"
)

const baseConfig = `
logging: { level: error, console: true }
scheduler: { default_timeout: 30s }
storage: { driver: file, path: %STORE% }
jobs:
  - name: tick
    schedule: every:1m
    command: ["echo", "tick"]
  - name: off
    schedule: every:1m
    command: ["echo", "off"]
    disabled: true
`

type execLog struct {
	mu   sync.Mutex
	jobs []string
}

func (l *execLog) run(_ context.Context, inv runner.Invocation) runner.Result {
	l.mu.Lock()
	l.jobs = append(l.jobs, inv.Job)
	l.mu.Unlock()
	return runner.Result{}
}

func (l *execLog) count(job string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, j := range l.jobs {
		if j == job {
			n++
		}
	}
	return n
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	body = strings.ReplaceAll(body, "%STORE%", filepath.Join(filepath.Dir(path), "store"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func jobNames(s runner.Snapshot) string {
	names := make([]string, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		names = append(names, j.Name)
	}
	return strings.Join(names, ",")
}

func stubNotify(t *testing.T) *[]string {
	t.Helper()
	var mu sync.Mutex
	var states []string
	prev := sdNotify
	sdNotify = func(_ bool, state string) (bool, error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
		return true, nil
	}
	t.Cleanup(func() { sdNotify = prev })
	return &states
}

func TestAppLifecycle(t *testing.T) {
	states := stubNotify(t)
	path := filepath.Join(t.TempDir(), "laterd.yaml")
	writeConfig(t, path, baseConfig)

	clock := testutil.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	ex := &execLog{}
	a, err := NewApp(path, WithRunnerOptions(runner.WithClock(clock), runner.WithExec(ex.run)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if got := jobNames(a.Snapshot()); got != "tick" {
		t.Fatalf("jobs = %q, want tick", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if n := ex.count("tick"); n != 2 {
		t.Fatalf("tick fired %d times, want 2", n)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
	if got := strings.Join(*states, ","); got != "READY=1,STOPPING=1" {
		t.Fatalf("systemd states = %q", got)
	}
	if a.Err() != nil {
		t.Fatalf("Err = %v", a.Err())
	}
}

func TestAppApplyConfig(t *testing.T) {
	stubNotify(t)
	path := filepath.Join(t.TempDir(), "laterd.yaml")
	writeConfig(t, path, baseConfig)

	clock := testutil.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	ex := &execLog{}
	a, err := NewApp(path, WithRunnerOptions(runner.WithClock(clock), runner.WithExec(ex.run)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	old := a.cfgm.Get()
	next, err := config.Decode(path, []byte(`
logging: { level: error, console: true }
scheduler: { timezone: Asia/Tokyo }
jobs:
  - name: off
    schedule: every:1m
    command: ["echo", "off"]
`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	a.applyConfig(old, next)

	snap := a.Snapshot()
	if got := jobNames(snap); got != "off" {
		t.Fatalf("jobs = %q, want off", got)
	}
	if snap.Timezone != "Asia/Tokyo" {
		t.Fatalf("tz = %q", snap.Timezone)
	}
	clock.Advance(time.Minute)
	if ex.count("off") != 1 || ex.count("tick") != 0 {
		t.Fatalf("fires: off=%d tick=%d", ex.count("off"), ex.count("tick"))
	}
}

func TestAppReloadFromFile(t *testing.T) {
	stubNotify(t)
	path := filepath.Join(t.TempDir(), "laterd.yaml")
	writeConfig(t, path, baseConfig)

	clock := testutil.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	a, err := NewApp(path, WithRunnerOptions(runner.WithClock(clock), runner.WithExec((&execLog{}).run)))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })

	writeConfig(t, path, strings.Replace(baseConfig, "disabled: true", "disabled: false", 1))
	if _, err := a.cfgm.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for jobNames(a.Snapshot()) != "off,tick" {
		if time.Now().After(deadline) {
			t.Fatalf("jobs = %q after reload", jobNames(a.Snapshot()))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "laterd.yaml")
	writeConfig(t, path, `
jobs:
  - name: bad
    schedule: "not a schedule"
    command: ["true"]
`)
	if _, err := NewApp(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		st      *config.StorageConfig
		enabled bool
		driver  string
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", st: &config.StorageConfig{Driver: "none"}},
		{name: "file default path", st: &config.StorageConfig{Driver: "file"}, enabled: true, driver: "file"},
		{name: "sqlite", st: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "2s"}, enabled: true, driver: "sqlite"},
		{name: "sqlite without path", st: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "bad busy timeout", st: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "soon"}, wantErr: true},
		{name: "unknown", st: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tt.st})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if enabled != tt.enabled || sc.Driver != tt.driver {
				t.Fatalf("got (%+v, %v)", sc, enabled)
			}
		})
	}
}

func TestMapJobsSkipsDisabled(t *testing.T) {
	t.Parallel()
	jobs, err := mapJobs(&config.Config{Jobs: []config.JobConfig{
		{Name: " a ", Schedule: "1m", Command: []string{"true"}, Timeout: "5s"},
		{Name: "b", Schedule: "1m", Command: []string{"true"}, Disabled: true},
	}})
	if err != nil {
		t.Fatalf("mapJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "a" || jobs[0].Timeout != 5*time.Second {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "laterd.yaml")
	writeConfig(t, path, baseConfig)
	snap, err := Check(path)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if snap.Started || jobNames(snap) != "tick" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Jobs[0].Next.IsZero() {
		t.Fatal("next occurrence missing")
	}
}

func TestHistoryDisabledStorage(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "laterd.json")
	if err := os.WriteFile(path, []byte(`{"jobs": []}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := History(context.Background(), path, "tick", 5); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
