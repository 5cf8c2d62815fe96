// Package alarm arms named one-shot timers that report back when they fire.
//
// Each name has at most one pending alarm; arming again replaces it. Timers are
// versioned so a callback from a replaced or cancelled timer is ignored.
package alarm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	logx "syncd/pkg/logx"
)

// Mode says whether an alarm should fire while the host is suspended.
type Mode int

const (
	// NoWake alarms fire on the monotonic timer only; time spent suspended
	// delays them.
	NoWake Mode = iota
	// Wake alarms also fire from the wall-clock sweep, so a resume after the
	// deadline fires them promptly.
	Wake
)

func (m Mode) String() string {
	if m == Wake {
		return "wake"
	}
	return "no_wake"
}

// DefaultSweepInterval is how often Run checks Wake alarms against the wall clock.
const DefaultSweepInterval = 30 * time.Second

// FireFunc receives the name of a fired alarm. It is called outside any lock.
type FireFunc func(name string)

// Pending describes one armed alarm.
type Pending struct {
	Name string    `json:"name"`
	At   time.Time `json:"at"`
	Mode Mode      `json:"mode"`
}

type entry struct {
	timer clockwork.Timer
	at    time.Time
	mode  Mode
	ver   uint64
}

// Local is the in-process alarm facility.
type Local struct {
	clock clockwork.Clock
	log   logx.Logger

	mu      sync.Mutex
	fire    FireFunc
	entries map[string]*entry
	ver     map[string]uint64

	lateWarn rate.Sometimes
}

func NewLocal(clock clockwork.Clock, log logx.Logger) *Local {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Local{
		clock:    clock,
		log:      log,
		entries:  map[string]*entry{},
		ver:      map[string]uint64{},
		lateWarn: rate.Sometimes{Interval: time.Minute},
	}
}

// OnFire sets the callback for fired alarms. Alarms firing before a callback
// is set are dropped.
func (l *Local) OnFire(fn FireFunc) {
	l.mu.Lock()
	l.fire = fn
	l.mu.Unlock()
}

// Arm schedules name to fire at at, replacing any pending alarm for name.
// A deadline in the past fires immediately.
func (l *Local) Arm(name string, at time.Time, mode Mode) {
	now := l.clock.Now()
	delay := at.Sub(now)
	if delay < 0 {
		l.lateWarn.Do(func() {
			l.log.Warn("alarm armed in the past; firing now", logx.String("job", name), logx.Duration("late", -delay))
		})
		delay = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked(name)
	ver := l.ver[name] + 1
	l.ver[name] = ver
	e := &entry{at: at, mode: mode, ver: ver}
	l.entries[name] = e
	e.timer = l.clock.AfterFunc(delay, func() { l.expire(name, ver) })
	l.log.Debug("alarm armed", logx.String("job", name), logx.Time("at", at), logx.String("mode", mode.String()))
}

// Cancel removes the pending alarm for name, if any.
func (l *Local) Cancel(name string) {
	l.mu.Lock()
	l.stopLocked(name)
	l.mu.Unlock()
}

// CancelAll removes every pending alarm.
func (l *Local) CancelAll() {
	l.mu.Lock()
	for name := range l.entries {
		l.stopLocked(name)
	}
	l.mu.Unlock()
}

// Next reports the pending alarm for name.
func (l *Local) Next(name string) (Pending, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[name]
	if !ok {
		return Pending{}, false
	}
	return Pending{Name: name, At: e.at, Mode: e.mode}, true
}

// Pending lists armed alarms ordered by deadline.
func (l *Local) Pending() []Pending {
	l.mu.Lock()
	out := make([]Pending, 0, len(l.entries))
	for name, e := range l.entries {
		out = append(out, Pending{Name: name, At: e.at, Mode: e.mode})
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Run sweeps Wake alarms until ctx is done. Monotonic timers stall while the
// host sleeps; the sweep compares deadlines against the wall clock instead.
func (l *Local) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultSweepInterval
	}
	t := l.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			l.sweep()
		}
	}
}

func (l *Local) sweep() {
	now := l.clock.Now().Round(0)
	l.mu.Lock()
	var due []string
	for name, e := range l.entries {
		if e.mode == Wake && !e.at.Round(0).After(now) {
			due = append(due, name)
		}
	}
	vers := make([]uint64, len(due))
	for i, name := range due {
		vers[i] = l.entries[name].ver
	}
	l.mu.Unlock()
	for i, name := range due {
		l.expire(name, vers[i])
	}
}

func (l *Local) expire(name string, ver uint64) {
	l.mu.Lock()
	e, ok := l.entries[name]
	if !ok || e.ver != ver {
		l.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(l.entries, name)
	fn := l.fire
	l.mu.Unlock()

	if fn == nil {
		l.log.Warn("alarm fired with no receiver", logx.String("job", name))
		return
	}
	fn(name)
}

func (l *Local) stopLocked(name string) {
	e, ok := l.entries[name]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(l.entries, name)
}
