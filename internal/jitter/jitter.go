// Package jitter draws the randomized offsets that spread job fire times.
//
// A Source is seeded once per install, so the same device keeps the same
// statistical jitter behavior for its lifetime, while an advancing counter
// keeps successive draws from collapsing to one value.
package jitter

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"syncd/internal/storage"
)

const (
	keySeed      = "global/jitter_seed"
	keyInstallID = "global/install_id"

	// PCG stream selector; any odd constant works.
	streamMix = 0x9e3779b97f4a7c15
)

// At is the pure draw: the counter-th offset of seed's stream, in [min, max).
// If max <= min it returns min.
func At(seed int64, counter uint64, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	rng := rand.New(rand.NewPCG(uint64(seed), counter^streamMix))
	return min + time.Duration(rng.Int64N(int64(max-min)))
}

// Source hands out successive draws of one seed. Safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	seed    int64
	counter uint64
}

func New(seed int64) *Source { return &Source{seed: seed} }

func (s *Source) Seed() int64 { return s.seed }

// Draws reports how many offsets were handed out.
func (s *Source) Draws() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

func (s *Source) Offset(min, max time.Duration) time.Duration {
	s.mu.Lock()
	n := s.counter
	s.counter++
	s.mu.Unlock()
	return At(s.seed, n, min, max)
}

// Fixed always returns the same offset, clamped into [min, max). Tests use it
// to make fire times exact.
type Fixed time.Duration

func (f Fixed) Offset(min, max time.Duration) time.Duration {
	d := time.Duration(f)
	if max <= min || d < min {
		return min
	}
	if d >= max {
		return max - 1
	}
	return d
}

// Func adapts a plain function.
type Func func(min, max time.Duration) time.Duration

func (f Func) Offset(min, max time.Duration) time.Duration { return f(min, max) }

// LoadOrCreateSeed returns the persisted per-install seed, creating it on
// first use from a random install id. A stored seed is never replaced.
func LoadOrCreateSeed(ctx context.Context, st storage.Store) (int64, error) {
	seed, ok, err := storage.GetInt64(ctx, st, keySeed)
	if err != nil {
		return 0, err
	}
	if ok && seed != 0 {
		return seed, nil
	}

	id, ok, err := st.Get(ctx, keyInstallID)
	if err != nil {
		return 0, err
	}
	if !ok || id == "" {
		id = uuid.NewString()
	}
	seed = SeedFromID(id)
	if err := st.PutMany(ctx, map[string]string{
		keyInstallID: id,
		keySeed:      storage.FormatInt64(seed),
	}); err != nil {
		return 0, fmt.Errorf("persist jitter seed: %w", err)
	}
	return seed, nil
}

// SeedFromID derives a non-zero seed from an install id.
func SeedFromID(id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum64()
	if u, err := uuid.Parse(id); err == nil {
		sum ^= binary.BigEndian.Uint64(u[8:])
	}
	if sum == 0 {
		sum = streamMix
	}
	return int64(sum)
}
