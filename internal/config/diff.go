package config

import (
	"reflect"
	"sort"
	"strings"

	logx "laterd/pkg/logx"
)

// JobChanges lists job names added, removed or modified between two configs.
type JobChanges struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c JobChanges) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// DiffJobs compares job lists by name.
func DiffJobs(oldJobs, newJobs []JobConfig) JobChanges {
	oldBy := map[string]JobConfig{}
	for _, j := range oldJobs {
		oldBy[strings.TrimSpace(j.Name)] = j
	}
	newBy := map[string]JobConfig{}
	for _, j := range newJobs {
		newBy[strings.TrimSpace(j.Name)] = j
	}

	var ch JobChanges
	for name, nj := range newBy {
		oj, ok := oldBy[name]
		switch {
		case !ok:
			ch.Added = append(ch.Added, name)
		case !reflect.DeepEqual(oj, nj):
			ch.Changed = append(ch.Changed, name)
		}
	}
	for name := range oldBy {
		if _, ok := newBy[name]; !ok {
			ch.Removed = append(ch.Removed, name)
		}
	}
	sort.Strings(ch.Added)
	sort.Strings(ch.Removed)
	sort.Strings(ch.Changed)
	return ch
}

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) structured attrs for logging the reload.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.default_timeout", strings.TrimSpace(newCfg.Scheduler.DefaultTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		enabled := newCfg.Ops != nil && newCfg.Ops.Enabled
		attrs = append(attrs, logx.Bool("ops.enabled", enabled))
	}

	if jc := DiffJobs(oldCfg.Jobs, newCfg.Jobs); !jc.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.total", len(newCfg.Jobs)),
			logx.Any("jobs.added", jc.Added),
			logx.Any("jobs.removed", jc.Removed),
			logx.Any("jobs.changed", jc.Changed),
		)
	}
	return changed, attrs
}
