package app

import (
	"context"
	"fmt"
	"os"

	"laterd/internal/config"
	"laterd/internal/runner"
	"laterd/internal/storage"
	logx "laterd/pkg/logx"
)

// cliLogger reports problems from one-shot CLI commands on stderr, keeping
// stdout for their output.
func cliLogger() logx.Logger { return logx.NewConsole("warn", os.Stderr) }

// Check validates the config file and returns the jobs it would schedule,
// with their next occurrences, without arming anything.
func Check(cfgPath string) (runner.Snapshot, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return runner.Snapshot{}, err
	}
	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		return runner.Snapshot{}, err
	}
	jobs, err := mapJobs(cfg)
	if err != nil {
		return runner.Snapshot{}, err
	}
	rn := runner.New(rcfg, cliLogger().With(logx.String("comp", "runner")), nil, nil)
	if err := rn.Sync(jobs); err != nil {
		return runner.Snapshot{}, err
	}
	return rn.Snapshot(), nil
}

// History reads the newest fire records of a job from the configured store.
func History(ctx context.Context, cfgPath, job string, limit int) ([]storage.FireRecord, error) {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("history: %w", storage.ErrDisabled)
	}
	st, err := storage.Open(sc, cliLogger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.History(ctx, job, limit)
}
