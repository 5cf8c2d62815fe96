package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	logx "syncd/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "memory".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "memory":
		st = NewMemory()
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "postgres", "postgresql":
		st, err = openPostgres(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver: %s", ErrPersistence, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrPersistence, driver, err)
	}
	return checked{inner: st}, nil
}

// checked wraps every driver error in ErrPersistence.
type checked struct{ inner Store }

func (c checked) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.inner.Get(ctx, key)
	return v, ok, wrap("get "+key, err)
}

func (c checked) Put(ctx context.Context, key, value string) error {
	return wrap("put "+key, c.inner.Put(ctx, key, value))
}

func (c checked) PutMany(ctx context.Context, kv map[string]string) error {
	return wrap("put batch", c.inner.PutMany(ctx, kv))
}

func (c checked) Delete(ctx context.Context, keys ...string) error {
	return wrap("delete", c.inner.Delete(ctx, keys...))
}

func (c checked) Close() error { return wrap("close", c.inner.Close()) }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// ---- typed helpers ----

func GetInt64(ctx context.Context, s Store, key string) (int64, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: key %s: %v", ErrPersistence, key, err)
	}
	return v, true, nil
}

func PutInt64(ctx context.Context, s Store, key string, v int64) error {
	return s.Put(ctx, key, FormatInt64(v))
}

func GetBool(ctx context.Context, s Store, key string) (bool, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, false, err
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, false, fmt.Errorf("%w: key %s: %v", ErrPersistence, key, err)
	}
	return v, true, nil
}

func PutBool(ctx context.Context, s Store, key string, v bool) error {
	return s.Put(ctx, key, FormatBool(v))
}

func FormatInt64(v int64) string { return strconv.FormatInt(v, 10) }
func FormatBool(v bool) string   { return strconv.FormatBool(v) }
