package scheduler

import "context"

// Handle binds one job name to the scheduler, for hosts that pass a single
// listener around.
type Handle struct {
	s    *Scheduler
	name string
}

// Handle returns the handle for a registered job.
func (s *Scheduler) Handle(job string) (*Handle, error) {
	if _, err := s.reg.Lookup(job); err != nil {
		return nil, err
	}
	return &Handle{s: s, name: job}, nil
}

func (h *Handle) Name() string { return h.name }

// Sync runs the job now.
func (h *Handle) Sync(ctx context.Context) error { return h.s.RunNow(ctx, h.name) }

// SyncInexact runs the job within its jitter range.
func (h *Handle) SyncInexact(ctx context.Context) error { return h.s.RunSoon(ctx, h.name) }

func (h *Handle) Config(ctx context.Context) (JobConfig, error) { return h.s.GetConfig(ctx, h.name) }

func (h *Handle) Edit(ctx context.Context, edits ...Edit) error {
	return h.s.EditConfig(ctx, h.name, edits...)
}

// EditDefault changes the in-memory default; only valid before Start.
func (h *Handle) EditDefault(edits ...Edit) error { return h.s.EditDefaultConfig(h.name, edits...) }

func (h *Handle) State() (JobState, error) { return h.s.JobSnapshot(h.name) }
