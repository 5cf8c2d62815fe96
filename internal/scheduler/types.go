package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"syncd/internal/alarm"
	"syncd/internal/eventbus"
	"syncd/internal/jobconfig"
	"syncd/internal/registry"
	"syncd/internal/retrystate"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

var (
	// ErrDefaultsSealed is returned by EditDefaultConfig once Start has run.
	ErrDefaultsSealed = errors.New("default config is sealed after start")
	// ErrStopped is returned when the actor is no longer running.
	ErrStopped = errors.New("scheduler stopped")
)

// Re-exported so callers need only this package.
var (
	ErrInvalidConfig    = jobconfig.ErrInvalidConfig
	ErrJobNotRegistered = registry.ErrJobNotRegistered
	ErrPersistence      = storage.ErrPersistence
)

type (
	JobConfig = jobconfig.Config
	Edit      = jobconfig.Edit
)

// Alarm is the timer facility. Arming replaces any pending alarm for name.
type Alarm interface {
	Arm(name string, at time.Time, mode alarm.Mode)
	Cancel(name string)
}

// Reachability is a synchronous, point-in-time network check.
type Reachability interface {
	IsReachable(ctx context.Context) bool
}

// Observer is an external signal source that can be switched on and off.
type Observer interface {
	Enable()
	Disable()
}

// Jitter draws a random offset in [min, max).
type Jitter interface {
	Offset(min, max time.Duration) time.Duration
}

type nopObserver struct{}

func (nopObserver) Enable()  {}
func (nopObserver) Disable() {}

// State is the lifecycle position of one job.
type State int

const (
	Disabled State = iota
	// Idle: enabled with nothing armed (manual-only, stopped or suspended).
	Idle
	Scheduled
	Running
	BackoffScheduled
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case BackoffScheduled:
		return "backoff_scheduled"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// JobState is the scheduler-owned record of one job.
type JobState struct {
	Name    string        `json:"name"`
	State   State         `json:"state"`
	FireAt  time.Time     `json:"fire_at,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`
	Wake    bool          `json:"wake"`

	Runs      uint64    `json:"runs"`
	Successes uint64    `json:"successes"`
	Failures  uint64    `json:"failures"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastErr   string    `json:"last_err,omitempty"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Started        bool       `json:"started"`
	Suspended      bool       `json:"suspended"`
	PowerConnected bool       `json:"power_connected"`
	Suspensions    uint64     `json:"suspensions"`
	Jobs           []JobState `json:"jobs"`
}

// Options wires the scheduler. Registry and Store are required.
type Options struct {
	Registry *registry.Registry
	Store    storage.Store

	Alarm        Alarm
	Reachability Reachability
	Network      Observer
	Power        Observer
	// Boot is an optional platform hook; the autostart flag itself is
	// persisted by Start and Stop.
	Boot Observer

	// Jitter defaults to a source seeded from the persisted install seed.
	Jitter Jitter
	Clock  clockwork.Clock
	Policy retrystate.Policy
	Bus    eventbus.Bus
	Log    logx.Logger
}
