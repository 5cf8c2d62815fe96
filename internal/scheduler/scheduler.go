package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"syncd/internal/alarm"
	"syncd/internal/eventbus"
	"syncd/internal/jitter"
	"syncd/internal/jobconfig"
	"syncd/internal/registry"
	"syncd/internal/retrystate"
	logx "syncd/pkg/logx"
)

const commandBuffer = 64

type command struct {
	op    string
	fn    func(ctx context.Context) error
	reply chan error
}

type Scheduler struct {
	reg     *registry.Registry
	configs *jobconfig.Store
	retry   *retrystate.Store
	policy  retrystate.Policy

	alarm   Alarm
	reach   Reachability
	network Observer
	power   Observer
	boot    Observer
	jitter  Jitter
	clock   clockwork.Clock
	bus     eventbus.Bus
	log     logx.Logger

	cmds chan command
	done chan struct{}
	runs sync.Once

	offlineWarn rate.Sometimes

	// mu guards everything below; the actor is the only writer except for
	// sealed/EditDefaultConfig.
	mu             sync.RWMutex
	sealed         bool
	started        bool
	suspended      bool
	powerConnected bool
	suspensions    uint64
	jobs           map[string]*JobState
}

// New builds a scheduler. It loads the persisted power state and, unless
// opts.Jitter is set, the per-install jitter seed. Call Run to process
// commands.
func New(ctx context.Context, opts Options) (*Scheduler, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("%w: registry is required", jobconfig.ErrInvalidConfig)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", jobconfig.ErrInvalidConfig)
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	policy := opts.Policy
	if policy.Base <= 0 || policy.MinCap <= 0 {
		policy = retrystate.DefaultPolicy()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	log := opts.Log.With(logx.String("comp", "scheduler"))

	s := &Scheduler{
		reg:         opts.Registry,
		configs:     jobconfig.NewStore(opts.Store),
		retry:       retrystate.NewStore(opts.Store),
		policy:      policy,
		alarm:       opts.Alarm,
		reach:       opts.Reachability,
		network:     orNop(opts.Network),
		power:       orNop(opts.Power),
		boot:        orNop(opts.Boot),
		jitter:      opts.Jitter,
		clock:       clock,
		bus:         bus,
		log:         log,
		cmds:        make(chan command, commandBuffer),
		done:        make(chan struct{}),
		offlineWarn: rate.Sometimes{First: 1, Interval: 10 * time.Minute},
		jobs:        map[string]*JobState{},
	}
	if s.reach == nil {
		s.reach = alwaysReachable{}
	}
	if s.alarm == nil {
		local := alarm.NewLocal(clock, log.With(logx.String("comp", "alarm")))
		local.OnFire(s.Fire)
		s.alarm = local
	}
	if s.jitter == nil {
		seed, err := jitter.LoadOrCreateSeed(ctx, opts.Store)
		if err != nil {
			return nil, err
		}
		s.jitter = jitter.New(seed)
	}

	for _, name := range s.reg.Names() {
		def, _ := s.reg.Lookup(name)
		if err := s.configs.SetDefault(name, def.Defaults...); err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		s.jobs[name] = &JobState{Name: name}
	}

	connected, err := s.retry.PowerConnected(ctx)
	if err != nil {
		return nil, err
	}
	s.powerConnected = connected
	for _, name := range s.reg.Names() {
		cfg, err := s.configs.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		s.jobs[name].State = restingState(cfg)
	}
	return s, nil
}

func orNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

type alwaysReachable struct{}

func (alwaysReachable) IsReachable(context.Context) bool { return true }

// Run processes commands until ctx is done. It may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	first := false
	s.runs.Do(func() { first = true })
	if !first {
		return errors.New("scheduler: Run called twice")
	}
	defer close(s.done)
	s.log.Debug("scheduler actor started", logx.Int("jobs", s.reg.Len()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-s.cmds:
			err := c.fn(ctx)
			if c.reply != nil {
				c.reply <- err
			} else if err != nil {
				s.log.Error("command failed", logx.String("op", c.op), logx.Err(err))
			}
		}
	}
}

// do runs fn on the actor and waits for its result.
func (s *Scheduler) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	c := command{op: op, fn: fn, reply: make(chan error, 1)}
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// post queues fn without waiting. Errors are logged by the actor.
func (s *Scheduler) post(op string, fn func(ctx context.Context) error) {
	select {
	case s.cmds <- command{op: op, fn: fn}:
	case <-s.done:
	}
}

// Start persists autostart, cancels every pending alarm, arms each enabled
// periodic job and enables the power and boot observers. It seals default
// configs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.sealed = true
	s.mu.Unlock()
	return s.do(ctx, "start", s.handleStart)
}

// Stop clears autostart, cancels every alarm and disables all observers.
// Other persisted state is kept.
func (s *Scheduler) Stop(ctx context.Context) error {
	return s.do(ctx, "stop", s.handleStop)
}

// RunNow runs the job immediately if it is enabled and the network is up.
// A failing body is not an error here; it schedules a retry.
func (s *Scheduler) RunNow(ctx context.Context, job string) error {
	return s.do(ctx, "run_now", func(ctx context.Context) error { return s.handleRunNow(ctx, job) })
}

// RunSoon replaces the job's alarm with one at now plus a jitter offset.
func (s *Scheduler) RunSoon(ctx context.Context, job string) error {
	return s.do(ctx, "run_soon", func(ctx context.Context) error { return s.handleRunSoon(ctx, job) })
}

// ConfigChanged re-arms the job from its current config.
func (s *Scheduler) ConfigChanged(ctx context.Context, job string) error {
	return s.do(ctx, "config_changed", func(ctx context.Context) error { return s.handleConfigChanged(ctx, job) })
}

// NetworkRestored ends a suspension: the network observer is disabled and
// every enabled job is re-armed.
func (s *Scheduler) NetworkRestored(ctx context.Context) error {
	return s.do(ctx, "network_restored", s.handleNetworkRestored)
}

// PowerChanged persists the power state and re-arms jobs with the matching
// wake mode.
func (s *Scheduler) PowerChanged(ctx context.Context, connected bool) error {
	return s.do(ctx, "power_changed", func(ctx context.Context) error { return s.handlePowerChanged(ctx, connected) })
}

// Fire is the alarm callback. It queues RunNow without waiting.
func (s *Scheduler) Fire(job string) {
	s.post("fire", func(ctx context.Context) error { return s.handleRunNow(ctx, job) })
}

// NotifyNetworkRestored is the network observer callback.
func (s *Scheduler) NotifyNetworkRestored() {
	s.post("network_restored", s.handleNetworkRestored)
}

// NotifyPowerChanged is the power observer callback.
func (s *Scheduler) NotifyPowerChanged(connected bool) {
	s.post("power_changed", func(ctx context.Context) error { return s.handlePowerChanged(ctx, connected) })
}

func (s *Scheduler) GetConfig(ctx context.Context, job string) (JobConfig, error) {
	var out JobConfig
	err := s.do(ctx, "get_config", func(ctx context.Context) error {
		if _, err := s.reg.Lookup(job); err != nil {
			return err
		}
		cfg, err := s.configs.Get(ctx, job)
		out = cfg
		return err
	})
	return out, err
}

// EditConfig persists an override and applies it at once.
func (s *Scheduler) EditConfig(ctx context.Context, job string, edits ...Edit) error {
	return s.do(ctx, "edit_config", func(ctx context.Context) error {
		if _, err := s.reg.Lookup(job); err != nil {
			return err
		}
		if err := s.configs.SetOverride(ctx, job, edits...); err != nil {
			return err
		}
		s.log.Info("config edited", logx.String("job", job), logx.Any("edits", editStrings(edits)))
		return s.handleConfigChanged(ctx, job)
	})
}

// ResetConfig drops the persisted override and applies the default.
func (s *Scheduler) ResetConfig(ctx context.Context, job string) error {
	return s.do(ctx, "reset_config", func(ctx context.Context) error {
		if _, err := s.reg.Lookup(job); err != nil {
			return err
		}
		if err := s.configs.ClearOverride(ctx, job); err != nil {
			return err
		}
		return s.handleConfigChanged(ctx, job)
	})
}

// EditDefaultConfig changes a job's in-memory default. It must be called
// before Start.
func (s *Scheduler) EditDefaultConfig(job string, edits ...Edit) error {
	if _, err := s.reg.Lookup(job); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed {
		return fmt.Errorf("%w: job %q", ErrDefaultsSealed, job)
	}
	return s.configs.SetDefault(job, edits...)
}

// Snapshot returns a copy of the scheduler's state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Started:        s.started,
		Suspended:      s.suspended,
		PowerConnected: s.powerConnected,
		Suspensions:    s.suspensions,
		Jobs:           make([]JobState, 0, len(s.jobs)),
	}
	for _, name := range s.reg.Names() {
		out.Jobs = append(out.Jobs, *s.jobs[name])
	}
	return out
}

// JobSnapshot returns the state of one job.
func (s *Scheduler) JobSnapshot(job string) (JobState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[job]
	if !ok {
		return JobState{}, fmt.Errorf("%w: %q", ErrJobNotRegistered, job)
	}
	return *st, nil
}

func editStrings(edits []Edit) []string {
	out := make([]string, len(edits))
	for i, e := range edits {
		out[i] = e.String()
	}
	return out
}
