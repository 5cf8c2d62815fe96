package app

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"syncd/internal/config"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

// reloadLoop applies each committed config on top of the last applied one.
func (a *App) reloadLoop(ctx context.Context, last *config.Config, sub <-chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest queued config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			if next == nil {
				continue
			}
			if err := a.apply(ctx, last, next); err != nil {
				a.log.Error("config reload failed", logx.Err(err))
				continue
			}
			last = next
		}
	}
}

// apply moves the running daemon from prev to next. Sections that are only
// read at boot are reported, not applied.
func (a *App) apply(ctx context.Context, prev, next *config.Config) error {
	a.logs.Apply(next.Logging.Logx())

	if changed := restartSections(prev, next); len(changed) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(changed, ",")))
	}

	if err := a.syncOverrides(ctx, prev, next); err != nil {
		return err
	}

	was, now := prev.Scheduler.IsEnabled(), next.Scheduler.IsEnabled()
	if was == now {
		return nil
	}
	if err := a.persistEnabled(ctx, now); err != nil {
		return err
	}
	if now {
		a.log.Info("scheduler enabled by config")
		return a.sched.Start(ctx)
	}
	a.log.Info("scheduler disabled by config")
	return a.sched.Stop(ctx)
}

func (a *App) persistEnabled(ctx context.Context, enabled bool) error {
	return storage.PutBool(ctx, a.store, keySchedulerEnabled, enabled)
}

func restartSections(prev, next *config.Config) []string {
	var out []string
	if !reflect.DeepEqual(prev.Storage, next.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(prev.Jobs, next.Jobs) {
		out = append(out, "jobs")
	}
	if !reflect.DeepEqual(prev.Network, next.Network) {
		out = append(out, "network")
	}
	if !reflect.DeepEqual(prev.Power, next.Power) {
		out = append(out, "power")
	}
	p, n := prev.Scheduler, next.Scheduler
	if p.BaseRetry != n.BaseRetry || p.MinRetryCap != n.MinRetryCap || p.AlarmSweep != n.AlarmSweep {
		out = append(out, "scheduler.timing")
	}
	return out
}

// syncOverrides makes the persisted overrides match next.Overrides. A nil
// prev means boot: every registered job is reconciled. While the scheduler
// is started, edits go through it so alarms follow; otherwise they are
// written to the store and picked up by the next Start.
func (a *App) syncOverrides(ctx context.Context, prev, next *config.Config) error {
	var names []string
	if prev == nil {
		names = a.reg.Names()
	} else {
		seen := map[string]struct{}{}
		for name := range prev.Overrides {
			seen[name] = struct{}{}
		}
		for name := range next.Overrides {
			seen[name] = struct{}{}
		}
		for name := range seen {
			if !reflect.DeepEqual(prev.Overrides[name], next.Overrides[name]) {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}

	live := prev != nil && a.sched.Snapshot().Started
	for _, name := range names {
		if _, err := a.reg.Lookup(name); err != nil {
			a.log.Warn("override for unregistered job ignored", logx.String("job", name))
			continue
		}
		o, ok := next.Overrides[name]
		edits, err := o.Edits(name)
		if err != nil {
			return err
		}
		if live {
			if err := a.sched.ResetConfig(ctx, name); err != nil {
				return err
			}
			if ok && len(edits) > 0 {
				if err := a.sched.EditConfig(ctx, name, edits...); err != nil {
					return err
				}
			}
			continue
		}
		if err := a.configs.ClearOverride(ctx, name); err != nil {
			return err
		}
		if ok && len(edits) > 0 {
			if err := a.configs.SetOverride(ctx, name, edits...); err != nil {
				return err
			}
		}
	}
	if len(names) > 0 && prev != nil {
		a.log.Info("overrides applied", logx.Any("jobs", names), logx.Bool("live", live))
	}
	return nil
}
