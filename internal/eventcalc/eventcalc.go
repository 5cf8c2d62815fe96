// Package eventcalc computes epoch-aligned fire instants.
//
// Alignment is measured from the Unix epoch, not from the last run, so every
// device with a synchronized clock converges on the same base instants; jitter
// is what spreads them apart.
package eventcalc

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// NextEvent returns the smallest instant >= now that is an integer multiple of
// every since the Unix epoch. For every <= 0 it returns now unchanged.
func NextEvent(now time.Time, every time.Duration) time.Time {
	if every <= 0 {
		return now
	}
	n := now.UnixNano()
	e := int64(every)
	rem := n % e
	if rem < 0 {
		rem += e
	}
	if rem == 0 {
		return time.Unix(0, n).In(now.Location())
	}
	return time.Unix(0, n-rem+e).In(now.Location())
}

// Schedule is an aligned interval usable wherever a cron.Schedule is expected.
type Schedule struct {
	Every time.Duration
}

var _ cron.Schedule = Schedule{}

// Every returns the aligned schedule for d.
func Every(d time.Duration) Schedule { return Schedule{Every: d} }

// Next returns the first aligned instant strictly after t.
// A non-positive interval never fires (zero time), matching cron's contract.
func (s Schedule) Next(t time.Time) time.Time {
	if s.Every <= 0 {
		return time.Time{}
	}
	return NextEvent(t.Add(time.Nanosecond), s.Every)
}

// Preview renders the next n activations of sched after from, for debug logs.
func Preview(sched cron.Schedule, from time.Time, n int) string {
	if sched == nil || n <= 0 {
		return ""
	}
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05.000"))
	}
	return b.String()
}
