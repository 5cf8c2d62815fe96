package registry

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"syncd/internal/jobconfig"
)

// Declaration is the serializable form of a job: its name plus optional
// default settings. Spans accept "15 minutes", a bare millisecond count, or a
// Go duration ("90s").
type Declaration struct {
	Name    string `json:"name" validate:"required"`
	Enabled *bool  `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty"`
	Range   string `json:"range,omitempty"`
}

var reUnitSpan = regexp.MustCompile(`^(\d+) +(second|minute|hour|day|week)s?$`)

var spanUnits = map[string]time.Duration{
	"second": jobconfig.Second,
	"minute": jobconfig.Minute,
	"hour":   jobconfig.Hour,
	"day":    jobconfig.Day,
	"week":   jobconfig.Week,
}

// ParseSpan parses a declaration span.
func ParseSpan(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty span", jobconfig.ErrInvalidConfig)
	}
	if m := reUnitSpan.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: span %q: %v", jobconfig.ErrInvalidConfig, raw, err)
		}
		return scaleSpan(raw, n, spanUnits[m[2]])
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return scaleSpan(raw, ms, time.Millisecond)
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("%w: invalid span %q (use \"15 minutes\", milliseconds, or a duration like \"90s\")", jobconfig.ErrInvalidConfig, raw)
}

// scaleSpan returns n units, rejecting products that overflow a Duration.
func scaleSpan(raw string, n int64, unit time.Duration) (time.Duration, error) {
	if n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: span %q is too large", jobconfig.ErrInvalidConfig, raw)
	}
	return time.Duration(n) * unit, nil
}

// Edits converts the declared defaults into config edits.
func (d Declaration) Edits() ([]jobconfig.Edit, error) {
	var edits []jobconfig.Edit
	if d.Enabled != nil {
		edits = append(edits, jobconfig.Enable(*d.Enabled))
	}
	if strings.TrimSpace(d.Every) != "" {
		every, err := ParseSpan(d.Every)
		if err != nil {
			return nil, fmt.Errorf("job %q every: %w", d.Name, err)
		}
		edits = append(edits, jobconfig.Every(every))
	}
	if strings.TrimSpace(d.Range) != "" {
		rng, err := ParseSpan(d.Range)
		if err != nil {
			return nil, fmt.Errorf("job %q range: %w", d.Name, err)
		}
		edits = append(edits, jobconfig.Range(rng))
	}
	if err := jobconfig.Validate(edits...); err != nil {
		return nil, fmt.Errorf("job %q: %w", d.Name, err)
	}
	return edits, nil
}

// Bind pairs declarations with the host's body table. Every declaration must
// have a body; bodies without a declaration are ignored.
func Bind(decls []Declaration, bodies map[string]Job) ([]Definition, error) {
	defs := make([]Definition, 0, len(decls))
	for _, d := range decls {
		job, ok := bodies[d.Name]
		if !ok || job == nil {
			return nil, fmt.Errorf("%w: job %q has no registered body", jobconfig.ErrInvalidConfig, d.Name)
		}
		edits, err := d.Edits()
		if err != nil {
			return nil, err
		}
		defs = append(defs, Definition{Name: d.Name, Job: job, Defaults: edits})
	}
	return defs, nil
}
