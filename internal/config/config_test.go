package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: Asia/Jakarta
  default_timeout: 5m
storage:
  driver: file
  path: ./store/laterd
jobs:
  - name: backup
    schedule: "0 2 * * *"
    command: ["/usr/local/bin/backup", "--full"]
  - name: report
    schedule: "at:2026-05-01T09:00:00"
    timezone: Europe/Berlin
    command: ["report"]
    once: true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("laterd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Scheduler.Timezone != "Asia/Jakarta" || len(cfg.Jobs) != 2 || cfg.Jobs[0].Command[1] != "--full" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	js := `{"logging":{"level":"info"},"scheduler":{},"jobs":[{"name":"a","schedule":"10m","command":["true"]}]}`
	if _, err := Decode("laterd.json", []byte(js)); err != nil {
		t.Fatalf("Decode json: %v", err)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()
	if _, err := Decode("x.json", []byte(`{"jobs":[],"telegram":{}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("x.json", []byte(`{"jobs":[]}{"jobs":[]}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Scheduler: SchedulerConfig{Timezone: "Nowhere/Town", DefaultTimeout: "-1s"},
		Storage:   &StorageConfig{Driver: "redis"},
		Jobs: []JobConfig{
			{Name: "a", Schedule: "bogus", Command: []string{"x"}},
			{Name: "a", Schedule: "10m"},
			{Name: "", Schedule: "10m", Command: []string{"x"}, Limit: 3},
		},
	}
	err := Validate(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"scheduler.timezone", "scheduler.default_timeout", "storage.driver",
		"jobs[a].schedule", "duplicate job", "jobs[a].command", "jobs[2].name", "limit: requires start",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestDiffJobs(t *testing.T) {
	t.Parallel()
	old := []JobConfig{{Name: "a", Schedule: "10m"}, {Name: "b", Schedule: "1h"}}
	cur := []JobConfig{{Name: "a", Schedule: "15m"}, {Name: "c", Schedule: "1h"}}
	ch := DiffJobs(old, cur)
	if len(ch.Added) != 1 || ch.Added[0] != "c" || len(ch.Removed) != 1 || ch.Removed[0] != "b" || len(ch.Changed) != 1 || ch.Changed[0] != "a" {
		t.Fatalf("DiffJobs = %+v", ch)
	}
	if !DiffJobs(old, old).Empty() {
		t.Fatal("identical job lists should not differ")
	}

	sections, _ := SummarizeConfigChange(&Config{Jobs: old}, &Config{Jobs: cur, Logging: LoggingConfig{Level: "debug"}})
	if strings.Join(sections, ",") != "logging,jobs" {
		t.Fatalf("sections = %v", sections)
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "laterd.yaml", sampleYAML)

	m := NewConfigManager(path)
	m.SetValidator(Validate)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	published, err := m.Reload(context.Background())
	if err != nil || published {
		t.Fatalf("unchanged reload = %v, %v", published, err)
	}

	writeFile(t, dir, "laterd.yaml", strings.Replace(sampleYAML, "0 2 * * *", "0 3 * * *", 1))
	published, err = m.Reload(context.Background())
	if err != nil || !published {
		t.Fatalf("changed reload = %v, %v", published, err)
	}
	select {
	case got := <-sub:
		if got.Jobs[0].Schedule != "0 3 * * *" {
			t.Fatalf("published schedule = %q", got.Jobs[0].Schedule)
		}
	default:
		t.Fatal("expected published config")
	}

	writeFile(t, dir, "laterd.yaml", strings.Replace(sampleYAML, "0 2 * * *", "nonsense", 1))
	if _, err := m.Reload(context.Background()); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
	if m.Get().Jobs[0].Schedule != "0 3 * * *" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestManagerWatchPublishesChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "laterd.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to start before writing.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, dir, "laterd.yaml", strings.Replace(sampleYAML, "level: debug", "level: warn", 1))

	select {
	case got := <-sub:
		if got.Logging.Level != "warn" {
			t.Fatalf("level = %q", got.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish the change")
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDuration("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDuration("x", "90s", 0); err != nil || d != 90*time.Second {
		t.Fatalf("90s = %v, %v", d, err)
	}
	if _, err := ParseDuration("x", "-1s", 0); err == nil {
		t.Fatal("expected negative error")
	}
}
