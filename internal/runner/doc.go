// Package runner keeps named jobs armed on their schedules.
//
// Each job is a command plus a schedule string. The runner compiles the
// schedule, arms it through internal/timeout (one Timeout for once-jobs, an
// Interval otherwise), runs the command when an occurrence fires and
// records the outcome in storage.
//
// Jobs are upserted by name; Apply swaps service defaults (timezone,
// timeout) and re-arms every job.
package runner
