package netwatch

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "syncd/pkg/logx"
)

const DefaultPollInterval = 15 * time.Second

// Watcher is a one-shot network-restored observer. Once enabled it polls the
// probe; the first reachable result disables it and calls the restored hook.
type Watcher struct {
	clock    clockwork.Clock
	probe    Reachability
	interval time.Duration
	log      logx.Logger

	mu       sync.Mutex
	enabled  bool
	restored func()
}

func NewWatcher(clock clockwork.Clock, probe Reachability, interval time.Duration, log logx.Logger) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{clock: clock, probe: probe, interval: interval, log: log}
}

// OnRestored sets the hook called once per outage.
func (w *Watcher) OnRestored(fn func()) {
	w.mu.Lock()
	w.restored = fn
	w.mu.Unlock()
}

func (w *Watcher) Enable() {
	w.mu.Lock()
	if !w.enabled {
		w.log.Debug("network watch enabled")
	}
	w.enabled = true
	w.mu.Unlock()
}

func (w *Watcher) Disable() {
	w.mu.Lock()
	w.enabled = false
	w.mu.Unlock()
}

func (w *Watcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	t := w.clock.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	if !w.Enabled() {
		return
	}
	if !w.probe.IsReachable(ctx) {
		return
	}
	w.mu.Lock()
	if !w.enabled {
		w.mu.Unlock()
		return
	}
	w.enabled = false
	fn := w.restored
	w.mu.Unlock()

	w.log.Info("network restored")
	if fn != nil {
		fn()
	}
}
