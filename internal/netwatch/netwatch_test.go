package netwatch

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	logx "syncd/pkg/logx"
)

func TestProbe(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	// Grab a free port and release it so nothing is listening there.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := dead.Addr().String()
	_ = dead.Close()

	ctx := context.Background()
	tests := []struct {
		name    string
		targets []string
		want    bool
	}{
		{name: "no targets", targets: nil, want: true},
		{name: "live", targets: []string{ln.Addr().String()}, want: true},
		{name: "dead", targets: []string{deadAddr}, want: false},
		{name: "dead then live", targets: []string{deadAddr, ln.Addr().String()}, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p := NewProbe(tt.targets, time.Second, logx.Nop())
			if got := p.IsReachable(ctx); got != tt.want {
				t.Fatalf("IsReachable = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProbeCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProbe([]string{"127.0.0.1:1"}, time.Second, logx.Nop())
	if p.IsReachable(ctx) {
		t.Fatalf("canceled probe reported reachable")
	}
}

func TestWatcherFiresOncePerOutage(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var up atomic.Bool
	probe := ProbeFunc(func(context.Context) bool { return up.Load() })

	w := NewWatcher(clk, probe, time.Second, logx.Nop())
	restored := make(chan struct{}, 4)
	w.OnRestored(func() { restored <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	bctx, bcancel := context.WithTimeout(ctx, 2*time.Second)
	defer bcancel()
	if err := clk.BlockUntilContext(bctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}

	// Disabled: reachable network is not reported.
	up.Store(true)
	w.poll(ctx)
	if len(restored) != 0 {
		t.Fatalf("disabled watcher reported restore")
	}

	up.Store(false)
	w.Enable()
	w.poll(ctx)
	if len(restored) != 0 || !w.Enabled() {
		t.Fatalf("restore reported while unreachable")
	}

	up.Store(true)
	clk.Advance(time.Second)
	select {
	case <-restored:
	case <-time.After(2 * time.Second):
		t.Fatalf("restore not reported")
	}
	if w.Enabled() {
		t.Fatalf("watcher still enabled after restore")
	}

	w.poll(ctx)
	if len(restored) != 0 {
		t.Fatalf("restore reported twice")
	}
}
