package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"syncd/internal/jobconfig"
	logx "syncd/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./syncd.db
  busy_timeout: 2s
scheduler:
  base_retry: 250ms
network:
  targets: ["example.com:443"]
  timeout: 2s
power:
  enabled: true
jobs:
  - name: feed
    every: 15 minutes
    range: 2 minutes
    url: https://example.com/feed
    timeout: 30s
  - name: backup
    every: 1h
    command: ["/usr/bin/true"]
overrides:
  feed:
    every: 30 minutes
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("syncd.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage.Driver != "sqlite" || len(cfg.Jobs) != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Scheduler.IsEnabled() {
		t.Fatalf("scheduler should default to enabled")
	}
	d, err := cfg.Durations()
	if err != nil {
		t.Fatalf("Durations: %v", err)
	}
	if d.BaseRetry != 250*time.Millisecond || d.MinRetryCap != 5*time.Second || d.NetworkTimeout != 2*time.Second {
		t.Fatalf("durations = %+v", d)
	}
	sc, err := cfg.Storage.Store()
	if err != nil || sc.BusyTimeout != 2*time.Second {
		t.Fatalf("storage = %+v, %v", sc, err)
	}
	edits, err := cfg.Overrides["feed"].Edits("feed")
	if err != nil || len(edits) != 1 {
		t.Fatalf("override edits = %v, %v", edits, err)
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	raw := `{"jobs":[{"name":"a","every":"300000","command":["true"]}],"scheduler":{"enabled":false}}`
	cfg, err := Decode("syncd.json", []byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Scheduler.IsEnabled() {
		t.Fatalf("scheduler.enabled=false ignored")
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		invalid bool
	}{
		{name: "unknown field", raw: `{"bogus": 1}`},
		{name: "trailing data", raw: `{} {}`},
		{name: "bad level", raw: `{"logging":{"level":"loud"}}`, invalid: true},
		{name: "bad driver", raw: `{"storage":{"driver":"redis"}}`, invalid: true},
		{name: "job without body", raw: `{"jobs":[{"name":"a"}]}`, invalid: true},
		{name: "job with both bodies", raw: `{"jobs":[{"name":"a","command":["x"],"url":"http://h/"}]}`, invalid: true},
		{name: "job without name", raw: `{"jobs":[{"command":["x"]}]}`, invalid: true},
		{name: "duplicate job", raw: `{"jobs":[{"name":"a","command":["x"]},{"name":"a","command":["y"]}]}`, invalid: true},
		{name: "sub-minimum every", raw: `{"jobs":[{"name":"a","every":"2 seconds","command":["x"]}]}`, invalid: true},
		{name: "override for unknown job", raw: `{"overrides":{"ghost":{"every":"1h"}}}`, invalid: true},
		{name: "bad duration", raw: `{"network":{"timeout":"soon"}}`, invalid: true},
		{name: "bad target", raw: `{"network":{"targets":["nohostport"]}}`, invalid: true},
		{name: "file log without path", raw: `{"logging":{"file":{"enabled":true}}}`, invalid: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("syncd.json", []byte(tt.raw))
			if err == nil {
				t.Fatalf("Decode accepted %s", tt.raw)
			}
			if tt.invalid && !errors.Is(err, jobconfig.ErrInvalidConfig) {
				t.Fatalf("Decode = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "3s", time.Minute); err != nil || d != 3*time.Second {
		t.Fatalf("3s = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil || !strings.Contains(err.Error(), "x:") {
		t.Fatalf("negative = %v", err)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "syncd.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("logging:\n  level: info\n")

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	// Let the watcher register before writing.
	time.Sleep(200 * time.Millisecond)

	write("logging:\n  level: [broken\n")
	select {
	case cfg := <-ch:
		t.Fatalf("broken config published: %+v", cfg)
	case <-time.After(600 * time.Millisecond):
	}

	write("logging:\n  level: debug\n")
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("config change not published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatalf("Get not updated")
	}
}
