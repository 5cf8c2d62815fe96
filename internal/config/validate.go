package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"syncd/internal/alarm"
	"syncd/internal/jobconfig"
	"syncd/internal/netwatch"
	"syncd/internal/power"
	"syncd/internal/retrystate"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags, durations, job spans and cross references.
// Errors wrap jobconfig.ErrInvalidConfig.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", jobconfig.ErrInvalidConfig)
	}
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", jobconfig.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", jobconfig.ErrInvalidConfig, err)
	}

	if _, err := cfg.Durations(); err != nil {
		return fmt.Errorf("%w: %v", jobconfig.ErrInvalidConfig, err)
	}
	if _, err := cfg.Storage.Store(); err != nil {
		return fmt.Errorf("%w: %v", jobconfig.ErrInvalidConfig, err)
	}

	seen := make(map[string]struct{}, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		if _, dup := seen[j.Name]; dup {
			return fmt.Errorf("%w: jobs[%d]: duplicate name %q", jobconfig.ErrInvalidConfig, i, j.Name)
		}
		seen[j.Name] = struct{}{}
		if _, err := j.Declaration().Edits(); err != nil {
			return fmt.Errorf("jobs[%d]: %w", i, err)
		}
		if _, err := ParseDurationField(fmt.Sprintf("jobs[%d].timeout", i), j.Timeout); err != nil {
			return fmt.Errorf("%w: %v", jobconfig.ErrInvalidConfig, err)
		}
	}
	for name, o := range cfg.Overrides {
		if _, ok := seen[name]; !ok {
			return fmt.Errorf("%w: overrides.%s: no such job", jobconfig.ErrInvalidConfig, name)
		}
		if _, err := o.Edits(name); err != nil {
			return fmt.Errorf("overrides.%s: %w", name, err)
		}
	}
	return nil
}

// Durations resolves every timing knob, applying package defaults.
func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.BaseRetry, err = ParseDurationOrDefault("scheduler.base_retry", c.Scheduler.BaseRetry, retrystate.DefaultBaseRetry); err != nil {
		return Durations{}, err
	}
	if d.MinRetryCap, err = ParseDurationOrDefault("scheduler.min_retry_cap", c.Scheduler.MinRetryCap, retrystate.DefaultMinRetryCap); err != nil {
		return Durations{}, err
	}
	if d.AlarmSweep, err = ParseDurationOrDefault("scheduler.alarm_sweep", c.Scheduler.AlarmSweep, alarm.DefaultSweepInterval); err != nil {
		return Durations{}, err
	}
	if d.NetworkTimeout, err = ParseDurationOrDefault("network.timeout", c.Network.Timeout, netwatch.DefaultTimeout); err != nil {
		return Durations{}, err
	}
	if d.NetworkPoll, err = ParseDurationOrDefault("network.poll_interval", c.Network.PollInterval, netwatch.DefaultPollInterval); err != nil {
		return Durations{}, err
	}
	if d.PowerPoll, err = ParseDurationOrDefault("power.poll_interval", c.Power.PollInterval, power.DefaultPollInterval); err != nil {
		return Durations{}, err
	}
	return d, nil
}
