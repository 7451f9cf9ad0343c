package logx

import (
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultFilePath = "./laterd.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig

	// Out receives console output; nil means stdout.
	Out io.Writer
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./laterd.log
}

// Service owns the process sinks. Loggers it hands out pick up every Apply.
type Service struct {
	mu       sync.Mutex
	file     *os.File
	filePath string

	root atomic.Pointer[zerolog.Logger]
}

// NewService applies cfg and returns the service and its root logger.
func NewService(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

// Apply rebuilds the sinks from cfg. The log file stays open across calls
// that keep its path; a file that cannot be opened is reported through the
// remaining sinks.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	var fileErr error
	wantPath := ""
	if cfg.File.Enabled {
		wantPath = strings.TrimSpace(cfg.File.Path)
		if wantPath == "" {
			wantPath = defaultFilePath
		}
	}
	if s.file != nil && s.filePath != wantPath {
		_ = s.file.Close()
		s.file, s.filePath = nil, ""
	}
	if wantPath != "" && s.file == nil {
		f, err := os.OpenFile(wantPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fileErr = err
		} else {
			s.file, s.filePath = f, wantPath
		}
	}

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleWriter(out))
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
	s.root.Store(&zl)

	if fileErr != nil {
		zl.Warn().Err(fileErr).Str("path", wantPath).Msg("log file unavailable; console only")
	}
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file, s.filePath = nil, ""
	s.mu.Unlock()

	if f != nil {
		return f.Close()
	}
	return nil
}
