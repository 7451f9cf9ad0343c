package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"laterd/internal/civil"
	"laterd/internal/schedule"
)

var zones = civil.NewSource()

// Validate checks a config before it is committed. It is suitable as the
// ConfigManager validator.
func Validate(ctx context.Context, cfg *Config) error {
	_ = ctx
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := zones.Location(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if _, err := ParseDuration("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDuration("scheduler.failure_log_every", cfg.Scheduler.FailureLogEvery, time.Minute); err != nil {
		errs = append(errs, err)
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDuration("storage.busy_timeout", st.BusyTimeout, 0); err != nil {
			errs = append(errs, err)
		}
	}

	if ops := cfg.Ops; ops != nil && strings.TrimSpace(ops.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(ops.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("ops.addr: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else {
			if seen[name] {
				errs = append(errs, fmt.Errorf("%s.name: duplicate job %q", path, name))
			}
			seen[name] = true
			path = fmt.Sprintf("jobs[%s]", name)
		}
		if _, err := schedule.Parse(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
		}
		if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
			errs = append(errs, fmt.Errorf("%s.command: required", path))
		}
		if tz := strings.TrimSpace(j.Timezone); tz != "" {
			if _, err := zones.Location(tz); err != nil {
				errs = append(errs, fmt.Errorf("%s.timezone: %w", path, err))
			}
		}
		if _, err := ParseDuration(path+".timeout", j.Timeout, 0); err != nil {
			errs = append(errs, err)
		}
		for field, raw := range map[string]string{"start": j.Start, "until": j.Until} {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			if _, err := schedule.ParseInstant(raw, nil); err != nil {
				errs = append(errs, fmt.Errorf("%s.%s: %w", path, field, err))
			}
		}
		if j.Limit < 0 {
			errs = append(errs, fmt.Errorf("%s.limit: must be >= 0", path))
		}
		if j.Limit > 0 && strings.TrimSpace(j.Start) == "" {
			errs = append(errs, fmt.Errorf("%s.limit: requires start", path))
		}
	}
	return errors.Join(errs...)
}
