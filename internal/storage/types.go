package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPersistence marks any failure of the backing store.
	ErrPersistence = errors.New("persistence failure")
	// ErrClosed is returned (wrapped in ErrPersistence) after Close.
	ErrClosed = errors.New("store closed")
)

// Store is the minimal persistence API used by the config and retry stores.
//
// Writes are committed before the call returns. PutMany and Delete are atomic:
// either every key is applied or none is.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Put(ctx context.Context, key, value string) error
	PutMany(ctx context.Context, kv map[string]string) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": process-local map (tests, ephemeral runs)
//   - "file": JSON-lines journal + snapshot next to Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable via DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
