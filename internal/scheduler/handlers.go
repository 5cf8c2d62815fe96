package scheduler

import (
	"context"
	"fmt"
	"time"

	"syncd/internal/alarm"
	"syncd/internal/eventbus"
	"syncd/internal/eventcalc"
	"syncd/internal/jobconfig"
	"syncd/internal/registry"
	logx "syncd/pkg/logx"
)

// Everything in this file runs on the actor goroutine.

func restingState(cfg jobconfig.Config) State {
	if !cfg.Enabled {
		return Disabled
	}
	return Idle
}

// resolveAll reads every job's config up front so a persistence failure
// aborts the command before any alarm is touched.
func (s *Scheduler) resolveAll(ctx context.Context) (map[string]jobconfig.Config, error) {
	out := make(map[string]jobconfig.Config, s.reg.Len())
	for _, name := range s.reg.Names() {
		cfg, err := s.configs.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = cfg
	}
	return out, nil
}

func (s *Scheduler) handleStart(ctx context.Context) error {
	cfgs, err := s.resolveAll(ctx)
	if err != nil {
		return err
	}
	connected, err := s.retry.PowerConnected(ctx)
	if err != nil {
		return err
	}
	if err := s.retry.SetAutostart(ctx, true); err != nil {
		return err
	}

	s.cancelAll()
	s.mu.Lock()
	s.powerConnected = connected
	s.started = true
	s.suspended = false
	s.mu.Unlock()

	armed := 0
	for _, name := range s.reg.Names() {
		if s.armNormal(name, cfgs[name]) {
			armed++
		}
	}
	s.power.Enable()
	s.boot.Enable()
	s.log.Info("scheduler started", logx.Int("jobs", s.reg.Len()), logx.Int("armed", armed), logx.Bool("power_connected", connected))
	return nil
}

func (s *Scheduler) handleStop(ctx context.Context) error {
	// Autostart is cleared first so a failed write leaves the scheduler running.
	if err := s.retry.SetAutostart(ctx, false); err != nil {
		return err
	}
	s.cancelAll()
	s.network.Disable()
	s.power.Disable()
	s.boot.Disable()

	s.mu.Lock()
	s.started = false
	s.suspended = false
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) handleRunNow(ctx context.Context, job string) error {
	def, err := s.reg.Lookup(job)
	if err != nil {
		return err
	}
	cfg, err := s.configs.Get(ctx, job)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		s.log.Debug("run skipped; job disabled", logx.String("job", job))
		return nil
	}
	if !s.reach.IsReachable(ctx) {
		s.suspend(job)
		return nil
	}
	if s.isSuspended() {
		// The network is back before the observer noticed.
		if err := s.handleNetworkRestored(ctx); err != nil {
			return err
		}
	}
	last, err := s.retry.LastBackoff(ctx, job)
	if err != nil {
		return err
	}

	// The pending alarm stays until the outcome is persisted; arming
	// afterwards replaces it.
	startedAt := s.clock.Now()
	var prev JobState
	s.setState(job, func(st *JobState) {
		prev = *st
		st.State = Running
		st.FireAt = time.Time{}
		st.Runs++
		st.LastRunAt = startedAt
	})
	// restore undoes Running when the outcome could not be persisted. A
	// fired alarm is gone, so the job goes back on its normal schedule.
	restore := func() {
		if !prev.FireAt.After(startedAt) {
			s.armNormal(job, cfg)
			return
		}
		s.setState(job, func(st *JobState) {
			st.State, st.FireAt = prev.State, prev.FireAt
		})
	}

	runErr := runBody(ctx, def.Job)
	took := s.clock.Since(startedAt)

	if runErr == nil {
		if err := s.retry.Reset(ctx, job); err != nil {
			restore()
			return err
		}
		s.setState(job, func(st *JobState) {
			st.Successes++
			st.Backoff = 0
			st.LastErr = ""
		})
		s.log.Info("sync succeeded", logx.String("job", job), logx.Duration("took", took))
		s.bus.Publish(eventbus.Event{Type: eventbus.JobSucceeded, Data: eventbus.JobEvent{Job: job}})
		s.armNormal(job, cfg)
		return nil
	}

	next := s.policy.Next(last, cfg.Every)
	if err := s.retry.SetBackoff(ctx, job, next); err != nil {
		restore()
		return err
	}
	s.setState(job, func(st *JobState) {
		st.Failures++
		st.LastErr = runErr.Error()
	})
	at := s.arm(job, cfg, next, BackoffScheduled, next)
	s.log.Warn("sync failed; retry scheduled", logx.String("job", job), logx.Err(runErr), logx.Duration("backoff", next), logx.Time("fire_at", at))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, Data: eventbus.JobEvent{Job: job, FireAt: at, Backoff: next, Err: runErr.Error()}})
	return nil
}

// runBody calls the job, turning a panic into a failure.
func runBody(ctx context.Context, job registry.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Sync(ctx)
}

func (s *Scheduler) suspend(job string) {
	s.cancelAll()
	s.network.Enable()
	s.mu.Lock()
	s.suspended = true
	s.suspensions++
	s.mu.Unlock()

	s.offlineWarn.Do(func() {
		s.log.Warn("network unreachable; all jobs suspended until it returns", logx.String("job", job))
	})
	s.log.Debug("suspended", logx.String("job", job))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobSuspended, Data: eventbus.JobEvent{Job: job}})
}

func (s *Scheduler) handleRunSoon(ctx context.Context, job string) error {
	if _, err := s.reg.Lookup(job); err != nil {
		return err
	}
	cfg, err := s.configs.Get(ctx, job)
	if err != nil {
		return err
	}
	s.alarm.Cancel(job)
	if !cfg.Enabled {
		s.setState(job, func(st *JobState) { st.State = Disabled; st.FireAt = time.Time{} })
		return nil
	}
	s.arm(job, cfg, 0, Scheduled, 0)
	return nil
}

func (s *Scheduler) handleConfigChanged(ctx context.Context, job string) error {
	if _, err := s.reg.Lookup(job); err != nil {
		return err
	}
	cfg, err := s.configs.Get(ctx, job)
	if err != nil {
		return err
	}
	s.alarm.Cancel(job)
	s.armNormal(job, cfg)
	return nil
}

func (s *Scheduler) handleNetworkRestored(ctx context.Context) error {
	cfgs, err := s.resolveAll(ctx)
	if err != nil {
		return err
	}
	s.network.Disable()
	s.mu.Lock()
	s.suspended = false
	s.mu.Unlock()

	armed := 0
	for _, name := range s.reg.Names() {
		s.alarm.Cancel(name)
		if s.armNormal(name, cfgs[name]) {
			armed++
		}
	}
	s.log.Info("network restored; jobs re-armed", logx.Int("armed", armed))
	s.bus.Publish(eventbus.Event{Type: eventbus.NetworkRestored})
	return nil
}

func (s *Scheduler) handlePowerChanged(ctx context.Context, connected bool) error {
	cfgs, err := s.resolveAll(ctx)
	if err != nil {
		return err
	}
	if err := s.retry.SetPowerConnected(ctx, connected); err != nil {
		return err
	}
	s.mu.Lock()
	s.powerConnected = connected
	suspended := s.suspended
	s.mu.Unlock()

	s.log.Info("power changed", logx.Bool("connected", connected))
	s.bus.Publish(eventbus.Event{Type: eventbus.PowerChanged, Data: eventbus.PowerEvent{Connected: connected}})
	if suspended {
		s.rearmPending(connected)
		return nil
	}
	for _, name := range s.reg.Names() {
		s.alarm.Cancel(name)
		s.armNormal(name, cfgs[name])
	}
	return nil
}

// rearmPending moves every alarm armed during a suspension to the new wake
// mode, keeping its fire time. Unarmed jobs wait for the network.
func (s *Scheduler) rearmPending(wake bool) {
	mode := alarm.NoWake
	if wake {
		mode = alarm.Wake
	}
	for _, name := range s.reg.Names() {
		s.mu.Lock()
		st := s.jobs[name]
		pending := (st.State == Scheduled || st.State == BackoffScheduled) && !st.FireAt.IsZero()
		at := st.FireAt
		if pending {
			st.Wake = wake
		}
		s.mu.Unlock()
		if pending {
			s.alarm.Arm(name, at, mode)
		}
	}
}

func (s *Scheduler) isSuspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suspended
}

// armNormal arms the regular aligned schedule, or leaves the job unarmed when
// it is disabled or manual-only. It reports whether an alarm was armed.
func (s *Scheduler) armNormal(job string, cfg jobconfig.Config) bool {
	if !cfg.Enabled || cfg.Every <= 0 {
		s.alarm.Cancel(job)
		s.setState(job, func(st *JobState) {
			st.State = restingState(cfg)
			st.FireAt = time.Time{}
		})
		return false
	}
	s.arm(job, cfg, cfg.Every, Scheduled, 0)
	return true
}

// arm sets the job's alarm at NextEvent(now, span) plus jitter in
// [0, cfg.Range). span 0 means now plus jitter.
func (s *Scheduler) arm(job string, cfg jobconfig.Config, span time.Duration, state State, backoff time.Duration) time.Time {
	now := s.clock.Now()
	at := eventcalc.NextEvent(now, span).Add(s.jitter.Offset(0, cfg.Range))

	s.mu.RLock()
	wake := s.powerConnected
	s.mu.RUnlock()
	mode := alarm.NoWake
	if wake {
		mode = alarm.Wake
	}

	s.alarm.Arm(job, at, mode)
	s.setState(job, func(st *JobState) {
		st.State = state
		st.FireAt = at
		st.Backoff = backoff
		st.Wake = wake
	})

	if s.log.Enabled(logx.LevelDebug) && span > 0 {
		s.log.Debug("job armed", logx.String("job", job), logx.Time("fire_at", at),
			logx.String("mode", mode.String()), logx.String("aligned", eventcalc.Preview(eventcalc.Every(span), now, 3)))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, Data: eventbus.JobEvent{Job: job, FireAt: at, Backoff: backoff, Wake: wake}})
	return at
}

func (s *Scheduler) cancelAll() {
	for _, name := range s.reg.Names() {
		s.alarm.Cancel(name)
	}
	s.mu.Lock()
	for _, st := range s.jobs {
		if st.State != Disabled {
			st.State = Idle
		}
		st.FireAt = time.Time{}
	}
	s.mu.Unlock()
}

func (s *Scheduler) setState(job string, fn func(st *JobState)) {
	s.mu.Lock()
	if st, ok := s.jobs[job]; ok {
		fn(st)
	}
	s.mu.Unlock()
}
