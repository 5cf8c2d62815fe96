// Package power reports whether the host runs on external power and watches
// for transitions.
package power

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	logx "syncd/pkg/logx"
)

const (
	DefaultPath         = "/sys/class/power_supply"
	DefaultPollInterval = 30 * time.Second
)

// Reader reads the current power source.
type Reader interface {
	Connected() (bool, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func() (bool, error)

func (f ReaderFunc) Connected() (bool, error) { return f() }

// Sysfs reads the Linux power_supply class. Any non-battery supply reporting
// online=1 counts as connected. A host without non-battery supplies (a typical
// server) is treated as connected.
type Sysfs struct {
	Root string
}

func (s Sysfs) Connected() (bool, error) {
	root := s.Root
	if root == "" {
		root = DefaultPath
	}
	ents, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("read %s: %w", root, err)
	}
	sawSupply := false
	for _, ent := range ents {
		dir := filepath.Join(root, ent.Name())
		typ, _ := readTrim(filepath.Join(dir, "type"))
		if strings.EqualFold(typ, "Battery") {
			continue
		}
		online, err := readTrim(filepath.Join(dir, "online"))
		if err != nil {
			continue
		}
		sawSupply = true
		if online == "1" {
			return true, nil
		}
	}
	return !sawSupply, nil
}

func readTrim(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Watcher polls a Reader while enabled and reports transitions.
type Watcher struct {
	clock    clockwork.Clock
	reader   Reader
	interval time.Duration
	log      logx.Logger

	mu       sync.Mutex
	enabled  bool
	known    bool
	last     bool
	onChange func(connected bool)
}

func NewWatcher(clock clockwork.Clock, reader Reader, interval time.Duration, log logx.Logger) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{clock: clock, reader: reader, interval: interval, log: log}
}

// OnChange sets the transition hook.
func (w *Watcher) OnChange(fn func(connected bool)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Seed sets the last known state so only real transitions are reported.
func (w *Watcher) Seed(connected bool) {
	w.mu.Lock()
	w.known = true
	w.last = connected
	w.mu.Unlock()
}

// Enable starts reporting; the first poll compares against the seeded state.
func (w *Watcher) Enable() {
	w.mu.Lock()
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
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	if !w.Enabled() {
		return
	}
	connected, err := w.reader.Connected()
	if err != nil {
		w.log.Warn("power state read failed", logx.Err(err))
		return
	}
	w.mu.Lock()
	if !w.enabled || (w.known && w.last == connected) {
		w.mu.Unlock()
		return
	}
	w.known = true
	w.last = connected
	fn := w.onChange
	w.mu.Unlock()

	w.log.Info("power state changed", logx.Bool("connected", connected))
	if fn != nil {
		fn(connected)
	}
}
