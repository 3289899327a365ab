package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	dateLayout     = "2006-01-02"
	defaultMaxDays = 7
)

// DailyRotator writes to <dir>/<prefix><date>.log, switching files when the
// local date changes and keeping at most maxDays of them.
type DailyRotator struct {
	mu      sync.Mutex
	dir     string
	prefix  string
	maxDays int
	date    string
	file    *os.File
	now     func() time.Time
}

func NewDailyRotator(dir, prefix string, maxDays int) *DailyRotator {
	if maxDays <= 0 {
		maxDays = defaultMaxDays
	}
	return &DailyRotator{dir: dir, prefix: prefix, maxDays: maxDays, now: time.Now}
}

// SetNow replaces the clock. Tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	r.now = fn
	r.mu.Unlock()
}

// Path is the file the next write goes to.
func (r *DailyRotator) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pathFor(r.now().Format(dateLayout))
}

func (r *DailyRotator) pathFor(date string) string {
	return filepath.Join(r.dir, r.prefix+date+".log")
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if today := r.now().Format(dateLayout); today != r.date || r.file == nil {
		if err := r.open(today); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

func (r *DailyRotator) open(date string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	f, err := os.OpenFile(r.pathFor(date), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	r.file, r.date = f, date
	r.prune()
	return nil
}

// prune removes the oldest dated files past maxDays. Files with this prefix
// whose suffix is not a date are left alone.
func (r *DailyRotator) prune() {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, r.prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		date := strings.TrimSuffix(strings.TrimPrefix(name, r.prefix), ".log")
		if _, err := time.Parse(dateLayout, date); err == nil {
			dates = append(dates, date)
		}
	}
	if len(dates) <= r.maxDays {
		return
	}
	slices.Sort(dates)
	for _, d := range dates[:len(dates)-r.maxDays] {
		os.Remove(r.pathFor(d))
	}
}

func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

type InitConfig struct {
	LogDir   string
	LogLevel string
	// Format is "text" (default) or "json".
	Format string
	// Component names the file set, e.g. "serve" gives gtdash-serve-<date>.log.
	Component string
	MaxDays   int
	// Stderr logs to standard error instead of files.
	Stderr bool
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init installs the process logger as slog.Default and points the stdlib
// log package at the same sink. Close the returned io.Closer on exit.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if !cfg.Stderr {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rot := NewDailyRotator(cfg.LogDir, FilePrefix(cfg.Component), cfg.MaxDays)
		w, closer = rot, rot
	}
	logger := slog.New(newHandler(w, cfg.Format, ParseLevel(cfg.LogLevel)))
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}
	slog.SetDefault(logger)
	log.SetOutput(w)
	log.SetFlags(0)
	return logger, closer, nil
}

// FilePrefix is the log file prefix for a component.
func FilePrefix(component string) string {
	if component == "" {
		return "gtdash-"
	}
	return "gtdash-" + component + "-"
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel accepts slog level names (and "warning"), case-insensitively.
// Anything unrecognised is info.
func ParseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
