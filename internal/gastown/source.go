package gastown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsprackett/gtdash/internal/runner"
)

// Source is the state a telemetry poller reads each tick.
type Source interface {
	Status(ctx context.Context) (*StatusResult, error)
	ReadyWork(ctx context.Context) ([]WorkItem, error)
	BlockedWork(ctx context.Context) ([]WorkItem, error)
}

// SourceConfig locates a town and the CLIs used to inspect it.
type SourceConfig struct {
	TownRoot string
	GTBin    string
	BDBin    string
	CacheTTL time.Duration
}

// CLISource implements Source by shelling out to gt and bd in the town root.
// Successful status results are cached for CacheTTL so REST handlers and
// pollers of the same town share one invocation.
type CLISource struct {
	cfg    SourceConfig
	runner *runner.Runner
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cached   *StatusResult
	cachedAt time.Time
}

func NewCLISource(cfg SourceConfig, r *runner.Runner, logger *slog.Logger) *CLISource {
	if cfg.GTBin == "" {
		cfg.GTBin = "gt"
	}
	if cfg.BDBin == "" {
		cfg.BDBin = "bd"
	}
	return &CLISource{cfg: cfg, runner: r, logger: logger, now: time.Now}
}

// TownRoot is the directory the CLIs run in.
func (s *CLISource) TownRoot() string {
	return s.cfg.TownRoot
}

func (s *CLISource) Status(ctx context.Context) (*StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.cfg.CacheTTL > 0 && s.now().Sub(s.cachedAt) < s.cfg.CacheTTL {
		return s.cached, nil
	}

	out, runErr := s.runner.Run(ctx, s.cfg.TownRoot, s.cfg.GTBin, "status", "--json")
	res, err := ParseStatus(out, runErr)
	if err != nil {
		return nil, err
	}
	if res.Status != nil {
		res.Status.FetchedAt = s.now()
	}
	s.cached = res
	s.cachedAt = s.now()
	return res, nil
}

// Invalidate drops the cached status so the next call hits the CLI.
func (s *CLISource) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *CLISource) ReadyWork(ctx context.Context) ([]WorkItem, error) {
	return s.workList(ctx, "ready")
}

func (s *CLISource) BlockedWork(ctx context.Context) ([]WorkItem, error) {
	return s.workList(ctx, "blocked")
}

func (s *CLISource) workList(ctx context.Context, sub string) ([]WorkItem, error) {
	out, err := s.runner.Run(ctx, s.cfg.TownRoot, s.cfg.BDBin, sub, "--json")
	if err != nil {
		return nil, err
	}
	return ParseWorkList("bd "+sub, out)
}

// WorkCounts holds the supplementary counts gathered alongside a status.
type WorkCounts struct {
	Ready   int
	Blocked int
}

// FetchWorkCounts queries ready and blocked work concurrently. Each list
// degrades to empty independently on failure; failures are logged and never
// returned.
func FetchWorkCounts(ctx context.Context, src Source, logger *slog.Logger) WorkCounts {
	var counts WorkCounts
	var g errgroup.Group
	g.Go(func() error {
		items, err := src.ReadyWork(ctx)
		if err != nil {
			logger.Warn("source: ready work unavailable, using 0", "err", err)
			return nil
		}
		counts.Ready = len(items)
		return nil
	})
	g.Go(func() error {
		items, err := src.BlockedWork(ctx)
		if err != nil {
			logger.Warn("source: blocked work unavailable, using 0", "err", err)
			return nil
		}
		counts.Blocked = len(items)
		return nil
	})
	g.Wait()
	return counts
}

// ErrNoTown is returned by FindTownRoot when no town marker is found.
var ErrNoTown = errors.New("not in a Gas Town workspace")

// FindTownRoot walks up from start looking for the mayor/town.json marker.
func FindTownRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "mayor", "town.json")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoTown
		}
		dir = parent
	}
}
