// Package registry holds the host-declared jobs. It is built once at startup
// and never mutated afterwards, so lookups are safe from any goroutine.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"syncd/internal/jobconfig"
)

var ErrJobNotRegistered = errors.New("job not registered")

// Job is the opaque work a listener performs. It runs with the network known
// to be reachable; a non-nil error triggers the retry policy.
type Job interface {
	Sync(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

func (f JobFunc) Sync(ctx context.Context) error { return f(ctx) }

// Definition binds a name to a body and its default config edits.
type Definition struct {
	Name     string
	Job      Job
	Defaults []jobconfig.Edit
}

type Registry struct {
	defs  map[string]Definition
	names []string
}

// New validates defs and builds the registry. Any malformed definition fails
// the whole build.
func New(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for i, d := range defs {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: job #%d has no name", jobconfig.ErrInvalidConfig, i)
		}
		if name != d.Name {
			return nil, fmt.Errorf("%w: job %q has surrounding whitespace", jobconfig.ErrInvalidConfig, d.Name)
		}
		if d.Job == nil {
			return nil, fmt.Errorf("%w: job %q has no body", jobconfig.ErrInvalidConfig, name)
		}
		if _, dup := r.defs[name]; dup {
			return nil, fmt.Errorf("%w: job %q declared twice", jobconfig.ErrInvalidConfig, name)
		}
		if err := jobconfig.Validate(d.Defaults...); err != nil {
			return nil, fmt.Errorf("job %q: %w", name, err)
		}
		d.Defaults = append([]jobconfig.Edit(nil), d.Defaults...)
		r.defs[name] = d
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrJobNotRegistered, name)
	}
	return d, nil
}

// Names returns every job name, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Len() int { return len(r.names) }
