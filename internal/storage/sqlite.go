package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "laterd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// tsLayout is fixed-width so text ordering matches time ordering.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, keep: keepPerJob(cfg), pruneEvery: 200}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendFire(ctx context.Context, r FireRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(r.Job) == "" {
		return errors.New("fire record without job")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fires(id, job, schedule, tz, occurrence, started_at, took_ms, exit_code, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Job, r.Schedule, nullStr(r.Timezone),
		r.Occurrence.UTC().Format(tsLayout), r.StartedAt.UTC().Format(tsLayout),
		r.TookMS, r.ExitCode, nullStr(r.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("fire history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) History(ctx context.Context, job string, limit int) ([]FireRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, schedule, tz, occurrence, started_at, took_ms, exit_code, err
		 FROM fires WHERE job = ? ORDER BY started_at DESC LIMIT ?`, strings.TrimSpace(job), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFires(rows)
}

func (s *sqliteStore) Last(ctx context.Context) (map[string]FireRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.job, f.schedule, f.tz, f.occurrence, f.started_at, f.took_ms, f.exit_code, f.err
		 FROM fires f
		 JOIN (SELECT job, MAX(started_at) AS m FROM fires GROUP BY job) l
		   ON f.job = l.job AND f.started_at = l.m`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs, err := scanFires(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]FireRecord, len(recs))
	for _, r := range recs {
		out[r.Job] = r
	}
	return out, nil
}

// prune keeps the newest keep rows per job.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fires WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY job ORDER BY started_at DESC) AS rn FROM fires
			) WHERE rn > ?
		)`, s.keep)
	return err
}

func scanFires(rows *sql.Rows) ([]FireRecord, error) {
	var out []FireRecord
	for rows.Next() {
		var (
			r          FireRecord
			tz, errStr sql.NullString
			occ, start string
		)
		if err := rows.Scan(&r.ID, &r.Job, &r.Schedule, &tz, &occ, &start, &r.TookMS, &r.ExitCode, &errStr); err != nil {
			return nil, err
		}
		r.Timezone = tz.String
		r.Error = errStr.String
		r.Occurrence, _ = time.Parse(tsLayout, occ)
		r.StartedAt, _ = time.Parse(tsLayout, start)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
