package config

// Config is the laterd configuration file (JSON or YAML).
//
// Example (YAML):
//
//	logging: { level: info, console: true }
//	scheduler: { timezone: Asia/Jakarta, default_timeout: 5m }
//	storage: { driver: sqlite, path: ./laterd.sqlite }
//	jobs:
//	  - name: backup
//	    schedule: "0 2 * * *"
//	    command: ["/usr/local/bin/backup", "--full"]
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Ops       *OpsConfig      `json:"ops,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig holds defaults applied to every job.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	// Timezone is the IANA zone jobs are evaluated in when they don't set one.
	// Empty means platform time (UTC instants).
	Timezone string `json:"timezone,omitempty"`

	// DefaultTimeout bounds a job's command. "0s" or empty disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	// FailureLogEvery rate-limits failure warnings per job (default "1m").
	FailureLogEvery string `json:"failure_log_every,omitempty"`
}

// StorageConfig controls fire history persistence.
//
//	"storage": { "driver": "file", "path": "./laterd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	KeepPerJob  int    `json:"keep_per_job,omitempty"`
}

// OpsConfig controls the local operator endpoint (/healthz, /jobs, pprof).
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6061
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// JobConfig is one scheduled command.
type JobConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Timezone string   `json:"timezone,omitempty"`
	Command  []string `json:"command"`
	Timeout  string   `json:"timeout,omitempty"`

	// Once fires the job for the next occurrence only.
	Once bool `json:"once,omitempty"`

	// Optional bounds. Start/Until accept RFC3339 or "2006-01-02T15:04:05"
	// (zone-naive, read in the job's timezone).
	Start string `json:"start,omitempty"`
	Until string `json:"until,omitempty"`
	Limit int    `json:"limit,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}
