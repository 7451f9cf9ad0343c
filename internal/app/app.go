package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"laterd/internal/config"
	"laterd/internal/eventbus"
	"laterd/internal/observability/ops"
	"laterd/internal/runner"
	"laterd/internal/runtime/supervisor"
	"laterd/internal/storage"
	logx "laterd/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	runner     *runner.Service
	runnerOpts []runner.Option
	ops        *ops.Server
}

type Option func(*App)

// WithRunnerOptions passes options (clock, exec) through to the runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(a *App) { a.runnerOpts = append(a.runnerOpts, opts...) }
}

// NewApp loads and validates the config and wires every component. Nothing
// is armed until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	a := &App{cfgPath: cfgPath}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rcfg, err := mapRunnerConfig(cfg)
	if err != nil {
		a.closeEarly(logSvc, store)
		return nil, err
	}
	jobs, err := mapJobs(cfg)
	if err != nil {
		a.closeEarly(logSvc, store)
		return nil, err
	}
	rn := runner.New(rcfg, log.With(logx.String("comp", "runner")), bus, store, a.runnerOpts...)
	if err := rn.Sync(jobs); err != nil {
		a.closeEarly(logSvc, store)
		return nil, err
	}

	a.cfgm = cfgm
	a.log = log
	a.logs = logSvc
	a.bus = bus
	a.store = store
	a.runner = rn
	a.ops = ops.New(mapOpsConfig(cfg), rn.Snapshot, log.With(logx.String("comp", "ops")))
	return a, nil
}

func (a *App) closeEarly(logs *logx.Service, store storage.Store) {
	if store != nil {
		_ = store.Close()
	}
	_ = logs.Close()
}

// Snapshot reports the runner state.
func (a *App) Snapshot() runner.Snapshot { return a.runner.Snapshot() }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	a.runner.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	// Lifecycle events at debug level; schedules with short intervals are noisy.
	events, unsub := a.bus.Subscribe("", 128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.String("source", e.Source)}
				if tm, ok := e.Data.(eventbus.Timing); ok {
					if !tm.Next.IsZero() {
						fields = append(fields, logx.Time("next", tm.Next))
					}
					if tm.Delay > 0 {
						fields = append(fields, logx.Duration("delay", tm.Delay))
					}
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	notify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// applyConfig pushes a committed config into the running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	rcfg, err := mapRunnerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.runner.Apply(rcfg)
	}

	jobs, err := mapJobs(newCfg)
	if err != nil {
		a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
	} else if err := a.runner.Sync(jobs); err != nil {
		a.log.Warn("some jobs were not scheduled", logx.Err(err))
	}

	if a.sup != nil {
		a.ops.Reconfigure(a.sup.Context(), mapOpsConfig(newCfg))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notify(a.log, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component can't stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("runner", 10*time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}
