package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. It survives nothing but is handy for tests
// and for running without a configured backend.
type Memory struct {
	mu     sync.RWMutex
	m      map[string]string
	closed bool
}

func NewMemory() *Memory { return &Memory{m: map[string]string{}} }

func (s *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *Memory) Put(ctx context.Context, key, value string) error {
	return s.PutMany(ctx, map[string]string{key: value})
}

func (s *Memory) PutMany(ctx context.Context, kv map[string]string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range kv {
		s.m[k] = v
	}
	return nil
}

func (s *Memory) Delete(ctx context.Context, keys ...string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.m, k)
	}
	return nil
}

func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
