package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "laterd/pkg/logx"
)

var t0 = time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)

func rec(job string, i int) FireRecord {
	return FireRecord{
		ID:         fmt.Sprintf("%s-%d", job, i),
		Job:        job,
		Schedule:   "0 9 * * *",
		Occurrence: t0.Add(time.Duration(i) * 24 * time.Hour),
		StartedAt:  t0.Add(time.Duration(i)*24*time.Hour + 500*time.Millisecond),
		TookMS:     12,
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := st.AppendFire(ctx, rec("backup", i)); err != nil {
			t.Fatalf("AppendFire: %v", err)
		}
	}
	failed := rec("report", 0)
	failed.ExitCode = 2
	failed.Error = "exit status 2"
	if err := st.AppendFire(ctx, failed); err != nil {
		t.Fatalf("AppendFire: %v", err)
	}
	if err := st.AppendFire(ctx, FireRecord{}); err == nil {
		t.Fatal("expected error for record without job")
	}

	hist, err := st.History(ctx, "backup", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].ID != "backup-4" || hist[1].ID != "backup-3" {
		t.Fatalf("History = %+v, want newest first", hist)
	}
	if !hist[0].Occurrence.Equal(rec("backup", 4).Occurrence) {
		t.Fatalf("Occurrence = %v", hist[0].Occurrence)
	}

	last, err := st.Last(ctx)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(last) != 2 || last["backup"].ID != "backup-4" {
		t.Fatalf("Last = %+v", last)
	}
	if r := last["report"]; r.OK() || r.ExitCode != 2 {
		t.Fatalf("report record = %+v", r)
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laterd.db")
	st, err := Open(Config{Driver: "file", Path: path, KeepPerJob: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen: history is replayed and trimmed to KeepPerJob.
	st, err = Open(Config{Driver: "file", Path: path, KeepPerJob: 3}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	hist, err := st.History(context.Background(), "backup", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 || hist[0].ID != "backup-4" {
		t.Fatalf("replayed history = %+v", hist)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "laterd.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	if st != nil || err != nil {
		t.Fatalf("disabled store = %v, %v", st, err)
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}
