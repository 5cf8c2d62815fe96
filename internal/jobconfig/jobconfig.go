// Package jobconfig resolves per-job settings: a persisted override wins over
// an in-memory default, which wins over the built-in default.
package jobconfig

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"syncd/internal/storage"
)

// Unit constants for EveryUnit / RangeUnit. Units are fixed spans, so
// EveryUnit(2, Day) is 48h regardless of calendar shifts.
const (
	Second = time.Second
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
)

const (
	DefaultEnabled = true
	DefaultEvery   = time.Duration(0)
	DefaultRange   = 5 * Minute

	// MinEvery is the smallest accepted non-zero interval.
	MinEvery = 5 * Second
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the effective configuration of one job.
// Every == 0 means the job never runs periodically (manual only).
type Config struct {
	Enabled bool          `json:"enabled"`
	Every   time.Duration `json:"every"`
	Range   time.Duration `json:"range"`
}

// Builtin returns the built-in default.
func Builtin() Config {
	return Config{Enabled: DefaultEnabled, Every: DefaultEvery, Range: DefaultRange}
}

type field int

const (
	fieldEnabled field = iota + 1
	fieldEvery
	fieldRange
)

// Edit changes one field. Build edits with Enable, Disable, Every, Range.
type Edit struct {
	field   field
	enabled bool
	span    time.Duration
}

func Enable(v bool) Edit { return Edit{field: fieldEnabled, enabled: v} }
func Disable() Edit      { return Enable(false) }

// Every sets the sync interval. 0 disables periodic runs; anything else below
// MinEvery is rejected when applied.
func Every(d time.Duration) Edit { return Edit{field: fieldEvery, span: d} }

func EveryUnit(n int64, unit time.Duration) Edit { return Every(time.Duration(n) * unit) }

// Range sets the jitter window added after each aligned fire time.
func Range(d time.Duration) Edit { return Edit{field: fieldRange, span: d} }

func RangeUnit(n int64, unit time.Duration) Edit { return Range(time.Duration(n) * unit) }

func (e Edit) String() string {
	switch e.field {
	case fieldEnabled:
		return fmt.Sprintf("enabled=%t", e.enabled)
	case fieldEvery:
		return fmt.Sprintf("every=%s", e.span)
	case fieldRange:
		return fmt.Sprintf("range=%s", e.span)
	default:
		return "noop"
	}
}

// Validate checks edits without applying them.
func Validate(edits ...Edit) error {
	for _, e := range edits {
		switch e.field {
		case fieldEnabled:
		case fieldEvery:
			if e.span < 0 || (e.span > 0 && e.span < MinEvery) {
				return fmt.Errorf("%w: interval %s is below the %s minimum", ErrInvalidConfig, e.span, MinEvery)
			}
		case fieldRange:
			if e.span < 0 {
				return fmt.Errorf("%w: range %s is negative", ErrInvalidConfig, e.span)
			}
		default:
			return fmt.Errorf("%w: empty edit", ErrInvalidConfig)
		}
	}
	return nil
}

// partial is a sparse config: only set fields are non-nil.
type partial struct {
	enabled *bool
	every   *time.Duration
	rng     *time.Duration
}

func (p *partial) apply(edits []Edit) {
	for _, e := range edits {
		e := e
		switch e.field {
		case fieldEnabled:
			p.enabled = &e.enabled
		case fieldEvery:
			p.every = &e.span
		case fieldRange:
			p.rng = &e.span
		}
	}
}

func keyEnabled(job string) string { return "job/" + job + "/enabled" }
func keyEvery(job string) string   { return "job/" + job + "/every_ms" }
func keyRange(job string) string   { return "job/" + job + "/range_ms" }

// Store resolves and edits job configs. Overrides are read from the backing
// store on every Get, so reads always see the latest committed write.
type Store struct {
	st storage.Store

	mu       sync.RWMutex
	defaults map[string]partial
}

func NewStore(st storage.Store) *Store {
	return &Store{st: st, defaults: map[string]partial{}}
}

// Get returns the effective config of job.
func (s *Store) Get(ctx context.Context, job string) (Config, error) {
	cfg := Builtin()

	s.mu.RLock()
	def := s.defaults[job]
	s.mu.RUnlock()
	if def.enabled != nil {
		cfg.Enabled = *def.enabled
	}
	if def.every != nil {
		cfg.Every = *def.every
	}
	if def.rng != nil {
		cfg.Range = *def.rng
	}

	if v, ok, err := storage.GetBool(ctx, s.st, keyEnabled(job)); err != nil {
		return Config{}, err
	} else if ok {
		cfg.Enabled = v
	}
	if v, ok, err := storage.GetInt64(ctx, s.st, keyEvery(job)); err != nil {
		return Config{}, err
	} else if ok {
		cfg.Every = time.Duration(v) * time.Millisecond
	}
	if v, ok, err := storage.GetInt64(ctx, s.st, keyRange(job)); err != nil {
		return Config{}, err
	} else if ok {
		cfg.Range = time.Duration(v) * time.Millisecond
	}
	return cfg, nil
}

// SetOverride persists the given fields in one commit. Nothing is written if
// any edit is invalid.
func (s *Store) SetOverride(ctx context.Context, job string, edits ...Edit) error {
	if err := Validate(edits...); err != nil {
		return err
	}
	var p partial
	p.apply(edits)

	kv := make(map[string]string, 3)
	if p.enabled != nil {
		kv[keyEnabled(job)] = storage.FormatBool(*p.enabled)
	}
	if p.every != nil {
		kv[keyEvery(job)] = storage.FormatInt64(p.every.Milliseconds())
	}
	if p.rng != nil {
		kv[keyRange(job)] = storage.FormatInt64(p.rng.Milliseconds())
	}
	if len(kv) == 0 {
		return nil
	}
	return s.st.PutMany(ctx, kv)
}

// ClearOverride drops every persisted field of job, falling back to defaults.
func (s *Store) ClearOverride(ctx context.Context, job string) error {
	return s.st.Delete(ctx, keyEnabled(job), keyEvery(job), keyRange(job))
}

// SetDefault updates the in-memory default layer. Nothing is persisted.
func (s *Store) SetDefault(job string, edits ...Edit) error {
	if err := Validate(edits...); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.defaults[job]
	p.apply(edits)
	s.defaults[job] = p
	return nil
}
