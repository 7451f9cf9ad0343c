package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	KeepPerJob  int           // history entries retained per job; 0 means 50
}

// FireRecord is one dispatched occurrence of a job.
// Keep it compact and schema-stable.
type FireRecord struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Schedule   string    `json:"schedule"`
	Timezone   string    `json:"tz,omitempty"`
	Occurrence time.Time `json:"occurrence"`
	StartedAt  time.Time `json:"started_at"`
	TookMS     int64     `json:"took_ms"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the run succeeded.
func (r FireRecord) OK() bool { return r.Error == "" && r.ExitCode == 0 }

func keepPerJob(cfg Config) int {
	if cfg.KeepPerJob > 0 {
		return cfg.KeepPerJob
	}
	return 50
}
