// Package app wires the syncd daemon: config, storage, job bodies, the
// scheduler and its observers, all run under one supervisor.
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/jonboulle/clockwork"

	"syncd/internal/alarm"
	"syncd/internal/config"
	"syncd/internal/eventbus"
	"syncd/internal/jobconfig"
	"syncd/internal/jobs"
	"syncd/internal/netwatch"
	"syncd/internal/power"
	"syncd/internal/registry"
	"syncd/internal/retrystate"
	"syncd/internal/runtime/supervisor"
	"syncd/internal/scheduler"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

type App struct {
	cfgm  *config.Manager
	clock clockwork.Clock
	durs  config.Durations

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg     *registry.Registry
	configs *jobconfig.Store
	retry   *retrystate.Store

	alarm *alarm.Local
	net   *netwatch.Watcher
	power *power.Watcher // nil unless power.enabled
	sched *scheduler.Scheduler

	sup *supervisor.Supervisor
}

type Option func(*App)

// WithClock replaces the wall clock (tests).
func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(a)
	}

	// Logging starts on the console and is re-applied once the file is read.
	logSvc, log := logx.New(logx.Config{Level: "info", Console: true})
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))

	a.cfgm = config.NewManager(cfgPath, log)
	cfg, err := a.cfgm.Load()
	if err != nil {
		return a.abort(err)
	}
	logSvc.Apply(cfg.Logging.Logx())

	if a.durs, err = cfg.Durations(); err != nil {
		return a.abort(err)
	}
	sc, err := cfg.Storage.Store()
	if err != nil {
		return a.abort(err)
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return a.abort(err)
	}
	a.store = st
	a.configs = jobconfig.NewStore(st)
	a.retry = retrystate.NewStore(st)
	a.log.Info("storage opened", logx.String("driver", orMemory(sc.Driver)))

	if a.reg, err = buildRegistry(cfg, log.With(logx.String("comp", "jobs"))); err != nil {
		return a.abort(err)
	}

	a.bus = eventbus.New(eventbus.WithClock(a.clock))
	a.alarm = alarm.NewLocal(a.clock, log.With(logx.String("comp", "alarm")))

	netLog := log.With(logx.String("comp", "netwatch"))
	probe := netwatch.NewProbe(cfg.Network.Targets, a.durs.NetworkTimeout, netLog)
	a.net = netwatch.NewWatcher(a.clock, probe, a.durs.NetworkPoll, netLog)

	var powerObs scheduler.Observer
	if cfg.Power.Enabled {
		root := strings.TrimSpace(cfg.Power.Path)
		if root == "" {
			root = power.DefaultPath
		}
		a.power = power.NewWatcher(a.clock, power.Sysfs{Root: root}, a.durs.PowerPoll, log.With(logx.String("comp", "power")))
		connected, err := a.retry.PowerConnected(context.Background())
		if err != nil {
			return a.abort(err)
		}
		a.power.Seed(connected)
		powerObs = a.power
	}

	a.sched, err = scheduler.New(context.Background(), scheduler.Options{
		Registry:     a.reg,
		Store:        st,
		Alarm:        a.alarm,
		Reachability: probe,
		Network:      a.net,
		Power:        powerObs,
		Clock:        a.clock,
		Policy:       retrystate.Policy{Base: a.durs.BaseRetry, MinCap: a.durs.MinRetryCap},
		Bus:          a.bus,
		Log:          log,
	})
	if err != nil {
		return a.abort(err)
	}
	a.alarm.OnFire(a.sched.Fire)
	a.net.OnRestored(a.sched.NotifyNetworkRestored)
	if a.power != nil {
		a.power.OnChange(a.sched.NotifyPowerChanged)
	}
	return a, nil
}

func buildRegistry(cfg *config.Config, log logx.Logger) (*registry.Registry, error) {
	bodies, err := jobs.FromConfig(cfg.Jobs, log)
	if err != nil {
		return nil, err
	}
	decls := make([]registry.Declaration, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		decls = append(decls, j.Declaration())
	}
	defs, err := registry.Bind(decls, bodies)
	if err != nil {
		return nil, err
	}
	return registry.New(defs...)
}

func (a *App) abort(err error) (*App, error) {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil, err
}

func orMemory(driver string) string {
	if strings.TrimSpace(driver) == "" {
		return "memory"
	}
	return driver
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the scheduler actor and observers, applies file overrides
// and starts scheduling unless the config or the last command says otherwise.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	cfg := a.cfgm.Get()

	// The actor is not running yet, so overrides go straight to the store.
	if err := a.syncOverrides(ctx, nil, cfg); err != nil {
		a.sup.Cancel()
		return err
	}

	a.sup.Go("scheduler", a.sched.Run)
	a.sup.Go("alarm", func(c context.Context) error { return a.alarm.Run(c, a.durs.AlarmSweep) })
	a.sup.GoRestart("netwatch", a.net.Run)
	if a.power != nil {
		a.sup.GoRestart("power", a.power.Run)
	}

	events, unsubscribe := a.bus.Subscribe(64)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsubscribe()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	start, reason, err := a.shouldStart(ctx, cfg)
	if err != nil {
		a.sup.Cancel()
		return err
	}
	if start {
		if err := a.sched.Start(ctx); err != nil {
			a.sup.Cancel()
			return err
		}
	} else {
		a.log.Info("scheduler not started", logx.String("reason", reason))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, cfg, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("jobs", len(cfg.Jobs)), logx.Bool("scheduling", start))
	return nil
}

const keySchedulerEnabled = "app/scheduler_enabled"

// shouldStart decides whether boot issues Start. A scheduler.enabled flip
// made while the daemon was down counts as the latest command; otherwise
// the persisted autostart flag (cleared by Stop) decides.
func (a *App) shouldStart(ctx context.Context, cfg *config.Config) (bool, string, error) {
	enabled := cfg.Scheduler.IsEnabled()
	seen, ok, err := storage.GetBool(ctx, a.store, keySchedulerEnabled)
	if err != nil {
		return false, "", err
	}
	if err := storage.PutBool(ctx, a.store, keySchedulerEnabled, enabled); err != nil {
		return false, "", err
	}
	if !enabled {
		return false, "disabled in config", nil
	}
	if ok && !seen {
		return true, "", nil
	}
	autostart, err := a.retry.Autostart(ctx)
	if err != nil {
		return false, "", err
	}
	if !autostart {
		return false, "stopped by last command", nil
	}
	return true, "", nil
}
