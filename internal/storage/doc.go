// Package storage provides the durable key/value layer the scheduler persists into.
//
// It holds:
//   - per-job config overrides (enabled / interval / range)
//   - per-job retry state (last backoff span)
//   - global state (jitter seed, install id, power state, autostart flag)
//
// Every driver error is wrapped in ErrPersistence so callers can refuse to
// continue with an unpersisted state change.
package storage
