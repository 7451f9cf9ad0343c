package app

import (
	"fmt"
	"strings"
	"time"

	"laterd/internal/config"
	"laterd/internal/observability/ops"
	"laterd/internal/runner"
	"laterd/internal/storage"
	logx "laterd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapRunnerConfig(cfg *config.Config) (runner.Config, error) {
	def, err := config.ParseDuration("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0)
	if err != nil {
		return runner.Config{}, err
	}
	every, err := config.ParseDuration("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery, time.Minute)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		Timezone:        strings.TrimSpace(cfg.Scheduler.Timezone),
		DefaultTimeout:  def,
		FailureLogEvery: every,
	}, nil
}

// mapJobs converts enabled jobs. Disabled jobs are left out so the runner
// unschedules them on reload.
func mapJobs(cfg *config.Config) ([]runner.Job, error) {
	out := make([]runner.Job, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		name := strings.TrimSpace(j.Name)
		to, err := config.ParseDuration("jobs["+name+"].timeout", j.Timeout, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, runner.Job{
			Name:     name,
			Schedule: j.Schedule,
			Timezone: strings.TrimSpace(j.Timezone),
			Command:  append([]string(nil), j.Command...),
			Timeout:  to,
			Once:     j.Once,
			Start:    j.Start,
			Until:    j.Until,
			Limit:    j.Limit,
		})
	}
	return out, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			path = "./laterd_store"
		}
		return storage.Config{Driver: "file", Path: path, KeepPerJob: sc.KeepPerJob}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, KeepPerJob: sc.KeepPerJob}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	if cfg == nil || cfg.Ops == nil {
		return ops.Config{}
	}
	o := cfg.Ops
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
}
