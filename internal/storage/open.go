package storage

import (
	"context"
	"errors"
	"strings"

	logx "laterd/pkg/logx"
)

// Store is the persistence API used by the runner.
type Store interface {
	AppendFire(ctx context.Context, r FireRecord) error
	// History returns up to limit records for job, newest first.
	History(ctx context.Context, job string, limit int) ([]FireRecord, error)
	// Last returns the newest record of every job.
	Last(ctx context.Context) (map[string]FireRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
