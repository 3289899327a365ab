package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zsprackett/gtdash/internal/runner"
)

// Client runs tmux through a Runner so every call is bounded by its timeout.
type Client struct {
	runner *runner.Runner
	bin    string
}

func NewClient(r *runner.Runner, bin string) *Client {
	if bin == "" {
		bin = "tmux"
	}
	return &Client{runner: r, bin: bin}
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.runner.Run(ctx, "", c.bin, "-V")
	return err == nil
}

type CaptureOptions struct {
	StartLine int
	EndLine   int
	Join      bool
	EscapeSeq bool // adds -e flag for ANSI escape sequences
}

func (c *Client) CapturePane(ctx context.Context, target string, opts CaptureOptions) (string, error) {
	args := []string{"capture-pane", "-t", target, "-p",
		"-S", fmt.Sprintf("%d", opts.StartLine)}
	if opts.EndLine != 0 {
		args = append(args, "-E", fmt.Sprintf("%d", opts.EndLine))
	}
	if opts.Join {
		args = append(args, "-J")
	}
	if opts.EscapeSeq {
		args = append(args, "-e")
	}
	out, err := c.runner.Run(ctx, "", c.bin, args...)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

type SessionInfo struct {
	Name     string
	Activity int64
}

// ListSessions returns one entry per session with its latest window
// activity. A tmux without a running server yields an empty list.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	out, err := c.runner.Run(ctx, "", c.bin, "list-windows", "-a",
		"-F", "#{session_name}\t#{window_activity}")
	if err != nil {
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil // tmux not running
		}
		return nil, err
	}
	return parseSessions(string(out)), nil
}

func parseSessions(out string) []SessionInfo {
	var sessions []SessionInfo
	seen := map[string]int64{}
	var order []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		var ts int64
		fmt.Sscanf(parts[1], "%d", &ts)
		existing, ok := seen[parts[0]]
		if !ok {
			order = append(order, parts[0])
		}
		if !ok || ts > existing {
			seen[parts[0]] = ts
		}
	}
	for _, name := range order {
		sessions = append(sessions, SessionInfo{Name: name, Activity: seen[name]})
	}
	return sessions
}

func SessionExists(name string, sessions []SessionInfo) bool {
	for _, s := range sessions {
		if s.Name == name {
			return true
		}
	}
	return false
}

func IsSessionActive(name string, sessions []SessionInfo, threshold time.Duration) bool {
	for _, s := range sessions {
		if s.Name == name {
			return time.Since(time.Unix(s.Activity, 0)) < threshold
		}
	}
	return false
}
