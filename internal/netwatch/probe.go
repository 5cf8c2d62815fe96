// Package netwatch answers "is the network reachable right now" and watches for
// it to come back after an outage.
package netwatch

import (
	"context"
	"net"
	"time"

	logx "syncd/pkg/logx"
)

const DefaultTimeout = 3 * time.Second

// Reachability is a point-in-time connectivity check.
type Reachability interface {
	IsReachable(ctx context.Context) bool
}

// ProbeFunc adapts a function to Reachability.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) IsReachable(ctx context.Context) bool { return f(ctx) }

// Always reports the network as reachable.
var Always = ProbeFunc(func(context.Context) bool { return true })

// Probe dials TCP targets ("host:port"); one successful connect is enough.
// With no targets the network is assumed reachable.
type Probe struct {
	targets []string
	timeout time.Duration
	log     logx.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

func NewProbe(targets []string, timeout time.Duration, log logx.Logger) *Probe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := &net.Dialer{Timeout: timeout}
	return &Probe{
		targets: append([]string(nil), targets...),
		timeout: timeout,
		log:     log,
		dial:    d.DialContext,
	}
}

func (p *Probe) IsReachable(ctx context.Context) bool {
	if len(p.targets) == 0 {
		return true
	}
	for _, addr := range p.targets {
		if ctx.Err() != nil {
			return false
		}
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		conn, err := p.dial(cctx, "tcp", addr)
		cancel()
		if err != nil {
			p.log.Debug("probe failed", logx.String("target", addr), logx.Err(err))
			continue
		}
		_ = conn.Close()
		return true
	}
	return false
}
