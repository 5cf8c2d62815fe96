package eventcalc

import (
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestNextEventAligned(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	intervals := []time.Duration{
		500 * time.Millisecond, 5 * time.Second, time.Minute, 90 * time.Minute, 24 * time.Hour, 7 * 24 * time.Hour,
	}
	for i := 0; i < 2000; i++ {
		now := time.Unix(0, rng.Int63n(int64(80*365*24*time.Hour)))
		every := intervals[i%len(intervals)]
		got := NextEvent(now, every)
		if got.Before(now) {
			t.Fatalf("NextEvent(%v, %v) = %v, before now", now, every, got)
		}
		if got.UnixNano()%int64(every) != 0 {
			t.Fatalf("NextEvent(%v, %v) = %v, not aligned", now, every, got)
		}
		if got.Sub(now) >= every {
			t.Fatalf("NextEvent(%v, %v) = %v, skipped a slot", now, every, got)
		}
	}
}

func TestNextEventCases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		now   time.Time
		every time.Duration
		want  time.Time
	}{
		{name: "exact boundary", now: time.UnixMilli(120000), every: time.Minute, want: time.UnixMilli(120000)},
		{name: "just after boundary", now: time.UnixMilli(120001), every: time.Minute, want: time.UnixMilli(180000)},
		{name: "sub-millisecond", now: time.Unix(0, 1), every: time.Millisecond, want: time.Unix(0, int64(time.Millisecond))},
		{name: "zero interval", now: time.UnixMilli(123456), every: 0, want: time.UnixMilli(123456)},
		{name: "before epoch", now: time.Unix(-90, 0), every: time.Minute, want: time.Unix(-60, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := NextEvent(tt.now, tt.every); !got.Equal(tt.want) {
				t.Fatalf("NextEvent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextEventDevicesConverge(t *testing.T) {
	t.Parallel()
	base := time.UnixMilli(1_700_000_000_000)
	a := NextEvent(base.Add(3*time.Second), time.Hour)
	b := NextEvent(base.Add(41*time.Minute), time.Hour)
	if !a.Equal(b) {
		t.Fatalf("devices diverged: %v vs %v", a, b)
	}
}

func TestSchedulePreview(t *testing.T) {
	t.Parallel()
	from := time.UnixMilli(60000).UTC()
	out := Preview(Every(time.Minute), from, 3)
	if got := strings.Count(out, ","); got != 2 {
		t.Fatalf("Preview = %q, want 3 entries", out)
	}
	if next := Every(time.Minute).Next(from); !next.Equal(time.UnixMilli(120000)) {
		t.Fatalf("Next = %v, want strictly after from", next)
	}
	if !Every(0).Next(from).IsZero() {
		t.Fatal("zero interval schedule should never fire")
	}
	if Preview(Every(0), from, 3) != "" {
		t.Fatal("zero interval preview should be empty")
	}
}

func TestPreviewStartsAtNextEvent(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 1, 12, 0, 7, 0, time.UTC)
	out := Preview(Every(time.Hour), now, 2)
	first := NextEvent(now, time.Hour).Format("2006-01-02 15:04:05.000")
	if want := first + ", 2024-03-01 14:00:00.000"; out != want {
		t.Fatalf("Preview = %q, want %q", out, want)
	}
}
