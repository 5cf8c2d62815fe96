// Package retrystate persists per-job backoff spans and the small amount of
// global state (power, autostart) the scheduler needs across restarts.
package retrystate

import (
	"context"
	"time"

	"syncd/internal/storage"
)

const (
	DefaultBaseRetry   = 500 * time.Millisecond
	DefaultMinRetryCap = 5 * time.Second
)

const (
	keyPower     = "global/power_connected"
	keyAutostart = "global/autostart"
)

func keyBackoff(job string) string { return "job/" + job + "/backoff_ms" }

// Policy is exponential backoff with a ceiling of max(job interval, MinCap).
type Policy struct {
	Base   time.Duration
	MinCap time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Base: DefaultBaseRetry, MinCap: DefaultMinRetryCap}
}

// Cap is the largest backoff a job with the given interval may reach.
func (p Policy) Cap(every time.Duration) time.Duration {
	if every < p.MinCap {
		return p.MinCap
	}
	return every
}

// Next returns the backoff that follows last (0 = no active backoff).
func (p Policy) Next(last, every time.Duration) time.Duration {
	ceiling := p.Cap(every)
	next := p.Base
	if last > 0 {
		next = last * 2
	}
	if next > ceiling {
		next = ceiling
	}
	return next
}

// Store reads and writes retry and global state.
type Store struct {
	st storage.Store
}

func NewStore(st storage.Store) *Store { return &Store{st: st} }

// LastBackoff returns the persisted backoff of job, 0 if none.
func (s *Store) LastBackoff(ctx context.Context, job string) (time.Duration, error) {
	ms, _, err := storage.GetInt64(ctx, s.st, keyBackoff(job))
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (s *Store) SetBackoff(ctx context.Context, job string, d time.Duration) error {
	return storage.PutInt64(ctx, s.st, keyBackoff(job), d.Milliseconds())
}

// Reset clears the backoff of job after a successful run.
func (s *Store) Reset(ctx context.Context, job string) error {
	return s.SetBackoff(ctx, job, 0)
}

// PowerConnected returns the last observed charging state (false if never seen).
func (s *Store) PowerConnected(ctx context.Context) (bool, error) {
	v, _, err := storage.GetBool(ctx, s.st, keyPower)
	return v, err
}

func (s *Store) SetPowerConnected(ctx context.Context, v bool) error {
	return storage.PutBool(ctx, s.st, keyPower, v)
}

// Autostart reports whether the scheduler should start on boot. Defaults to true.
func (s *Store) Autostart(ctx context.Context) (bool, error) {
	v, ok, err := storage.GetBool(ctx, s.st, keyAutostart)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return v, nil
}

func (s *Store) SetAutostart(ctx context.Context, v bool) error {
	return storage.PutBool(ctx, s.st, keyAutostart, v)
}
