package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	logx "laterd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Records are appended to <prefix>.fires.jsonl. The journal is replayed on
// open and periodically compacted so it keeps at most keep records per job.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	path    string
	journal *os.File
	keep    int
	byJob   map[string][]FireRecord // oldest first, len <= keep
	writes  int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	journalPath := filepath.Join(dir, base) + ".fires.jsonl"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: journalPath, keep: keepPerJob(cfg), byJob: map[string][]FireRecord{}}
	if err := s.replay(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("fire journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) AppendFire(ctx context.Context, r FireRecord) error {
	_ = ctx
	if strings.TrimSpace(r.Job) == "" {
		return errors.New("fire record without job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("fire journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.addLocked(r)
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("fire journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) History(ctx context.Context, job string, limit int) ([]FireRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byJob[strings.TrimSpace(job)]
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	out := make([]FireRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

func (s *fileStore) Last(ctx context.Context) (map[string]FireRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]FireRecord, len(s.byJob))
	for job, recs := range s.byJob {
		if len(recs) > 0 {
			out[job] = recs[len(recs)-1]
		}
	}
	return out, nil
}

func (s *fileStore) addLocked(r FireRecord) {
	recs := append(s.byJob[r.Job], r)
	if len(recs) > s.keep {
		recs = append([]FireRecord(nil), recs[len(recs)-s.keep:]...)
	}
	s.byJob[r.Job] = recs
}

func (s *fileStore) replay() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r FireRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Job == "" {
			continue
		}
		s.addLocked(r)
	}
	return sc.Err()
}

// compactLocked rewrites the journal with only the retained records.
func (s *fileStore) compactLocked() error {
	var all []FireRecord
	for _, recs := range s.byJob {
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.Before(all[j].StartedAt) })

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range all {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.journal.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.journal, err = os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	return err
}
