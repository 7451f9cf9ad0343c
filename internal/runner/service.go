package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"laterd/internal/civil"
	"laterd/internal/eventbus"
	"laterd/internal/schedule"
	"laterd/internal/storage"
	"laterd/internal/timeout"
	logx "laterd/pkg/logx"
)

// armed is what Start and Every both return.
type armed interface {
	IsDone() bool
	Clear()
}

type entry struct {
	job   Job
	tz    string
	sched *schedule.Schedule
	arm   armed

	failLog logx.Logger
	running atomic.Bool
	fires   atomic.Uint64

	mu   sync.Mutex
	last *storage.FireRecord
}

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	bus   eventbus.Bus
	store storage.Store
	clock timeout.Clock
	civil *civil.Source
	exec  Exec

	jobs    map[string]*entry
	started bool

	// runCtx bounds command runs; cancelled by Stop.
	runCtx    context.Context
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

type Option func(*Service)

// WithClock replaces the platform timer (tests).
func WithClock(c timeout.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithExec replaces CommandExec.
func WithExec(e Exec) Option {
	return func(s *Service) {
		if e != nil {
			s.exec = e
		}
	}
}

// New creates a stopped runner. bus and store may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		cfg:   cfg,
		bus:   bus,
		store: store,
		clock: timeout.NewSystemClock(log.With(logx.String("comp", "clock"))),
		exec:  CommandExec,
		jobs:  map[string]*entry{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.civil = civil.NewSource(civil.WithNow(s.clock.Now))
	return s
}

// Add registers or replaces a job by name. If the runner is started the job
// is armed immediately.
func (s *Service) Add(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("job name required")
	}
	if len(job.Command) == 0 {
		return fmt.Errorf("job %q: command required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.compileLocked(job)
	if err != nil {
		return err
	}
	if old, ok := s.jobs[job.Name]; ok {
		if old.arm != nil {
			old.arm.Clear()
		}
		e.last = old.lastRecord()
		e.fires.Store(old.fires.Load())
	}
	s.jobs[job.Name] = e
	if s.started {
		s.armLocked(e)
	}
	return nil
}

// Remove unschedules a job. It returns true if the job existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	if e.arm != nil {
		e.arm.Clear()
	}
	delete(s.jobs, name)
	s.log.Debug("job removed", logx.String("job", name))
	return true
}

// Sync replaces the whole job set: jobs not in the list are removed, the
// rest are upserted. Jobs with identical definitions keep their timers.
func (s *Service) Sync(jobs []Job) error {
	want := map[string]Job{}
	var errs []error
	for _, j := range jobs {
		j.Name = strings.TrimSpace(j.Name)
		want[j.Name] = j
	}

	s.mu.Lock()
	var stale []string
	for name := range s.jobs {
		if _, ok := want[name]; !ok {
			stale = append(stale, name)
		}
	}
	unchanged := map[string]bool{}
	for name, j := range want {
		if e, ok := s.jobs[name]; ok && sameJob(e.job, j) {
			unchanged[name] = true
		}
	}
	s.mu.Unlock()

	for _, name := range stale {
		s.Remove(name)
	}
	for name, j := range want {
		if unchanged[name] {
			continue
		}
		if err := s.Add(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply swaps defaults and re-arms every job: the reference "now" depends
// on the default timezone and the failure throttle on FailureLogEvery.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == cfg {
		return
	}
	s.cfg = cfg
	for name, e := range s.jobs {
		if e.arm != nil {
			e.arm.Clear()
		}
		ne, err := s.compileLocked(e.job)
		if err != nil {
			s.log.Error("job recompile failed; job dropped", logx.String("job", name), logx.Err(err))
			delete(s.jobs, name)
			continue
		}
		ne.last = e.lastRecord()
		ne.fires.Store(e.fires.Load())
		s.jobs[name] = ne
		if s.started {
			s.armLocked(ne)
		}
	}
	s.log.Info("defaults applied; jobs re-armed", logx.String("tz", cfg.Timezone), logx.Int("jobs", len(s.jobs)))
}

// Start arms every registered job.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true

	if s.store != nil {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		last, err := s.store.Last(lctx)
		cancel()
		if err != nil {
			s.log.Warn("fire history unavailable", logx.Err(err))
		}
		for name, r := range last {
			if e, ok := s.jobs[name]; ok {
				e.last = &r
			}
		}
	}

	for _, e := range s.jobs {
		s.armLocked(e)
	}
	s.log.Info("runner started", logx.String("tz", s.cfg.Timezone), logx.Int("jobs", len(s.jobs)))
}

// Stop clears every timer and waits for running commands until ctx is done,
// then cancels them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	for _, e := range s.jobs {
		if e.arm != nil {
			e.arm.Clear()
			e.arm = nil
		}
	}
	cancel := s.runCancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; cancelling running jobs")
	}
	cancel()
	<-done
	s.log.Info("runner stopped", logx.Duration("took", time.Since(start)))
}

// compileLocked resolves the job's timezone and compiles its schedule.
func (s *Service) compileLocked(job Job) (*entry, error) {
	tz := strings.TrimSpace(job.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(s.cfg.Timezone)
	}
	var loc *time.Location
	if tz != "" {
		l, err := s.civil.Location(tz)
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", job.Name, err)
		}
		loc = l
	}

	var opts []schedule.Option
	if strings.TrimSpace(job.Start) != "" {
		t, err := schedule.ParseInstant(job.Start, loc)
		if err != nil {
			return nil, fmt.Errorf("job %q start: %w", job.Name, err)
		}
		opts = append(opts, schedule.WithStart(t))
	}
	if strings.TrimSpace(job.Until) != "" {
		t, err := schedule.ParseInstant(job.Until, loc)
		if err != nil {
			return nil, fmt.Errorf("job %q until: %w", job.Name, err)
		}
		opts = append(opts, schedule.WithUntil(t))
	}
	if job.Limit > 0 {
		opts = append(opts, schedule.WithLimit(job.Limit))
	}
	sched, err := schedule.Compile(job.Schedule, opts...)
	if err != nil {
		return nil, fmt.Errorf("job %q: %w", job.Name, err)
	}
	return &entry{job: job, tz: tz, sched: sched, failLog: s.failLogger(job.Name)}, nil
}

func (s *Service) failLogger(name string) logx.Logger {
	every := s.cfg.FailureLogEvery
	if every <= 0 {
		every = time.Minute
	}
	return s.log.With(logx.String("job", name)).Every(every, 1)
}

func (s *Service) armLocked(e *entry) {
	opts := []timeout.Option{
		timeout.WithName(e.job.Name),
		timeout.WithClock(s.clock),
		timeout.WithCivilSource(s.civil),
		timeout.WithLogger(s.log),
		timeout.WithTimezone(e.tz),
	}
	if s.bus != nil {
		opts = append(opts, timeout.WithBus(s.bus))
	}
	fn := func(ctx context.Context) { s.fire(ctx, e) }
	if e.job.Once {
		e.arm = timeout.Start(fn, e.sched, opts...)
	} else {
		e.arm = timeout.Every(fn, e.sched, opts...)
	}

	if e.arm.IsDone() {
		s.log.Info("job has no upcoming occurrence", logx.String("job", e.job.Name), logx.String("schedule", e.job.Schedule))
		return
	}
	if s.log.Enabled(logx.LevelDebug) {
		next := schedule.Preview(e.sched, 3, s.refNow(e.tz))
		s.log.Debug("job armed",
			logx.String("job", e.job.Name),
			logx.String("schedule", e.job.Schedule),
			logx.String("tz", e.tz),
			logx.String("next", strings.Join(next, ", ")))
	}
}

// refNow is the reference instant the schedule sees for tz.
func (s *Service) refNow(tz string) time.Time {
	if tz == "" {
		return s.clock.Now()
	}
	c, err := s.civil.CivilNow(tz)
	if err != nil {
		return s.clock.Now()
	}
	return c.AsUTC()
}

// fire runs on the timer goroutine for one occurrence.
func (s *Service) fire(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		e.failLog.Warn("previous run still in progress; occurrence skipped")
		return
	}
	defer e.running.Store(false)

	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	runCtx := s.runCtx
	limit := e.job.Timeout
	if limit <= 0 {
		limit = s.cfg.DefaultTimeout
	}
	s.runWG.Add(1)
	s.mu.Unlock()
	defer s.runWG.Done()

	if limit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, limit)
		defer cancel()
	}

	occ, _ := timeout.OccurrenceFrom(ctx)
	tz, _ := timeout.TimezoneFrom(ctx)
	e.fires.Add(1)

	started := s.clock.Now()
	res := s.exec(runCtx, Invocation{Job: e.job.Name, Argv: e.job.Command, Occurrence: occ, Timezone: tz})
	took := s.clock.Now().Sub(started)

	rec := storage.FireRecord{
		ID:         uuid.NewString(),
		Job:        e.job.Name,
		Schedule:   e.job.Schedule,
		Timezone:   tz,
		Occurrence: occ,
		StartedAt:  started,
		TookMS:     took.Milliseconds(),
		ExitCode:   res.ExitCode,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	e.setLast(rec)

	if rec.OK() {
		s.log.Info("job finished", logx.String("job", e.job.Name), logx.Time("occurrence", occ), logx.Duration("took", took))
	} else {
		e.failLog.Warn("job failed",
			logx.Int("exit_code", rec.ExitCode), logx.String("err", rec.Error), logx.String("output", res.Output))
	}

	if s.store != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.store.AppendFire(sctx, rec); err != nil {
			s.log.Warn("fire record not persisted", logx.String("job", e.job.Name), logx.Err(err))
		}
		cancel()
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Source: e.job.Name, Time: s.clock.Now(), Data: rec})
	}
}

// Snapshot reports every job, sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Started: s.started, Timezone: s.cfg.Timezone}
	for _, e := range s.jobs {
		info := JobInfo{
			Name:     e.job.Name,
			Schedule: e.job.Schedule,
			Timezone: e.tz,
			Once:     e.job.Once,
			Done:     e.arm == nil || e.arm.IsDone(),
			Running:  e.running.Load(),
			Fires:    e.fires.Load(),
			Last:     e.lastRecord(),
		}
		// A stopped runner reports what Start would arm.
		if e.arm == nil || !e.arm.IsDone() {
			if next := e.sched.Next(1, s.refNow(e.tz)); len(next) > 0 {
				info.Next = next[0]
			}
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool { return snap.Jobs[i].Name < snap.Jobs[j].Name })
	return snap
}

func (e *entry) setLast(r storage.FireRecord) {
	e.mu.Lock()
	e.last = &r
	e.mu.Unlock()
}

func (e *entry) lastRecord() *storage.FireRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	r := *e.last
	return &r
}

func sameJob(a, b Job) bool {
	if a.Name != b.Name || a.Schedule != b.Schedule || a.Timezone != b.Timezone ||
		a.Timeout != b.Timeout || a.Once != b.Once || a.Start != b.Start ||
		a.Until != b.Until || a.Limit != b.Limit || len(a.Command) != len(b.Command) {
		return false
	}
	for i := range a.Command {
		if a.Command[i] != b.Command[i] {
			return false
		}
	}
	return true
}
