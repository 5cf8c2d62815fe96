package config

import (
	"time"

	"syncd/internal/jobconfig"
	"syncd/internal/registry"
	"syncd/internal/storage"
	logx "syncd/pkg/logx"
)

// Config is the daemon's file configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s"); job spans additionally
// accept "15 minutes" or a bare millisecond count.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Network   NetworkConfig   `json:"network"`
	Power     PowerConfig     `json:"power"`
	Jobs      []JobConfig     `json:"jobs" validate:"dive"`

	// Overrides are operator edits persisted through the scheduler. Removing
	// an entry resets that job to its declared defaults.
	Overrides map[string]OverrideConfig `json:"overrides,omitempty" validate:"dive"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// StorageConfig selects the persistence driver.
//
//	"storage": { "driver": "sqlite", "path": "./syncd.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=memory file sqlite sqlite3 postgres postgresql"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

func (c StorageConfig) Store() (storage.Config, error) {
	bt, err := ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, DSN: c.DSN, BusyTimeout: bt}, nil
}

// SchedulerConfig controls the engine. Enabled defaults to true.
type SchedulerConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	BaseRetry   string `json:"base_retry,omitempty"`
	MinRetryCap string `json:"min_retry_cap,omitempty"`
	AlarmSweep  string `json:"alarm_sweep,omitempty"`
}

func (c SchedulerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// NetworkConfig configures the reachability probe. Targets are host:port.
type NetworkConfig struct {
	Targets      []string `json:"targets,omitempty" validate:"dive,hostname_port"`
	Timeout      string   `json:"timeout,omitempty"`
	PollInterval string   `json:"poll_interval,omitempty"`
}

type PowerConfig struct {
	Enabled      bool   `json:"enabled"`
	Path         string `json:"path,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// JobConfig declares one job. The body is either a command or an HTTP GET.
type JobConfig struct {
	Name    string   `json:"name" validate:"required"`
	Enabled *bool    `json:"enabled,omitempty"`
	Every   string   `json:"every,omitempty"`
	Range   string   `json:"range,omitempty"`
	Command []string `json:"command,omitempty" validate:"required_without=URL,excluded_with=URL"`
	URL     string   `json:"url,omitempty" validate:"omitempty,http_url"`
	Timeout string   `json:"timeout,omitempty"`
}

func (j JobConfig) Declaration() registry.Declaration {
	return registry.Declaration{Name: j.Name, Enabled: j.Enabled, Every: j.Every, Range: j.Range}
}

// OverrideConfig is a partial job config; unset fields keep their default.
type OverrideConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty"`
	Range   string `json:"range,omitempty"`
}

func (o OverrideConfig) Edits(job string) ([]jobconfig.Edit, error) {
	return registry.Declaration{Name: job, Enabled: o.Enabled, Every: o.Every, Range: o.Range}.Edits()
}

// Durations resolved with defaults applied.
type Durations struct {
	BaseRetry      time.Duration
	MinRetryCap    time.Duration
	AlarmSweep     time.Duration
	NetworkTimeout time.Duration
	NetworkPoll    time.Duration
	PowerPoll      time.Duration
}
