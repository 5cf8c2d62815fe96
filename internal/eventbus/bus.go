// Package eventbus fans scheduler events out to in-process subscribers.
//
// Publish never blocks; a subscriber whose buffer is full misses events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Event types published by the scheduler.
const (
	JobScheduled    = "job.scheduled"
	JobSucceeded    = "job.succeeded"
	JobFailed       = "job.failed"
	JobSuspended    = "job.suspended"
	NetworkRestored = "network.restored"
	PowerChanged    = "power.changed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// JobEvent is the Data of job.* events.
type JobEvent struct {
	Job     string        `json:"job"`
	FireAt  time.Time     `json:"fire_at,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`
	Wake    bool          `json:"wake,omitempty"`
	Err     string        `json:"err,omitempty"`
}

// PowerEvent is the Data of power.changed.
type PowerEvent struct {
	Connected bool `json:"connected"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

type Option func(*memBus)

// WithClock stamps events that arrive without a time.
func WithClock(c clockwork.Clock) Option {
	return func(b *memBus) { b.clock = c }
}

// New returns an in-memory bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{subs: map[uint64]chan Event{}, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	clock clockwork.Clock
	mu    sync.RWMutex
	subs  map[uint64]chan Event
	seq   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.clock.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
