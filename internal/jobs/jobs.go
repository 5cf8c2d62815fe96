// Package jobs provides the job bodies the daemon can declare in its config:
// a local command or an HTTP GET.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"syncd/internal/config"
	"syncd/internal/registry"
	logx "syncd/pkg/logx"
)

const (
	DefaultTimeout = 5 * time.Minute
	outputTail     = 512
)

// Command runs Argv; a non-zero exit is a failed sync.
type Command struct {
	Argv    []string
	Timeout time.Duration
	Log     logx.Logger
}

func (c Command) Sync(ctx context.Context) error {
	if len(c.Argv) == 0 {
		return errors.New("command: empty argv")
	}
	ctx, cancel := context.WithTimeout(ctx, orDefault(c.Timeout))
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	start := time.Now()
	err := cmd.Run()
	c.Log.Debug("command finished", logx.String("cmd", c.Argv[0]), logx.Duration("took", time.Since(start)), logx.Int("output_bytes", out.Len()))
	if err != nil {
		if tail := tailOf(out.String()); tail != "" {
			return fmt.Errorf("command %s: %w: %s", c.Argv[0], err, tail)
		}
		return fmt.Errorf("command %s: %w", c.Argv[0], err)
	}
	return nil
}

// HTTP issues a GET; any 2xx status is success.
type HTTP struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
	Log     logx.Logger
}

func (h HTTP) Sync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, orDefault(h.Timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	req.Header.Set("User-Agent", "syncd")
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	h.Log.Debug("http sync finished", logx.String("url", h.URL), logx.Int("status", resp.StatusCode), logx.Int("bytes", len(body)))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("http get: status %d: %s", resp.StatusCode, tailOf(string(body)))
	}
	return nil
}

// FromConfig builds the body table for the declared jobs.
func FromConfig(decls []config.JobConfig, log logx.Logger) (map[string]registry.Job, error) {
	out := make(map[string]registry.Job, len(decls))
	for i, d := range decls {
		timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("jobs[%d].timeout", i), d.Timeout, DefaultTimeout)
		if err != nil {
			return nil, err
		}
		jl := log.With(logx.String("job", d.Name))
		switch {
		case len(d.Command) > 0:
			out[d.Name] = Command{Argv: append([]string(nil), d.Command...), Timeout: timeout, Log: jl}
		case d.URL != "":
			out[d.Name] = HTTP{URL: d.URL, Timeout: timeout, Log: jl}
		default:
			return nil, fmt.Errorf("jobs[%d] %q: no command or url", i, d.Name)
		}
	}
	return out, nil
}

func orDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

func tailOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
