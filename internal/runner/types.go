package runner

import (
	"context"
	"time"

	"laterd/internal/storage"
)

// Config holds defaults applied to jobs that don't set their own.
type Config struct {
	Timezone        string        // IANA zone; empty = platform time
	DefaultTimeout  time.Duration // 0 = no timeout
	FailureLogEvery time.Duration // rate limit for failure warnings per job; 0 = 1m
}

// Job is one scheduled command.
type Job struct {
	Name     string
	Schedule string
	Timezone string // overrides Config.Timezone
	Command  []string
	Timeout  time.Duration // overrides Config.DefaultTimeout

	// Once arms only the next occurrence.
	Once bool

	// Optional bounds, see schedule.ParseInstant.
	Start string
	Until string
	Limit int
}

// Invocation is what an Exec receives for one fire.
type Invocation struct {
	Job        string
	Argv       []string
	Occurrence time.Time
	Timezone   string
}

// Result is the outcome of one command run.
type Result struct {
	ExitCode int
	Output   string // tail of combined output
	Err      error
}

// Exec runs a command. The default is CommandExec.
type Exec func(ctx context.Context, inv Invocation) Result

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string
	Schedule string
	Timezone string
	Once     bool
	Next     time.Time // zero when exhausted; before Start, what Start would arm
	Done     bool
	Running  bool
	Fires    uint64
	Last     *storage.FireRecord
}

// Snapshot is a point-in-time view of the runner.
type Snapshot struct {
	Started  bool
	Timezone string
	Jobs     []JobInfo
}
