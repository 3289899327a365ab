package gastown_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/runner"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script standing in for a CLI.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLISourceStatusCachesWithinTTL(t *testing.T) {
	dir := t.TempDir()
	counter := filepath.Join(dir, "calls")
	gt := writeScript(t, dir, "gt", `echo x >> `+counter+`
echo '{"name":"hq","agents":[{"name":"mayor","running":true}]}'`)

	src := gastown.NewCLISource(gastown.SourceConfig{
		TownRoot: dir,
		GTBin:    gt,
		CacheTTL: time.Minute,
	}, runner.New(5*time.Second, discardLogger()), discardLogger())

	for i := 0; i < 3; i++ {
		res, err := src.Status(context.Background())
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if !res.Initialized || len(res.Status.Agents) != 1 {
			t.Fatalf("unexpected result %+v", res)
		}
	}
	data, _ := os.ReadFile(counter)
	if n := strings.Count(string(data), "x"); n != 1 {
		t.Errorf("expected 1 CLI call within TTL, got %d", n)
	}

	src.Invalidate()
	if _, err := src.Status(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(counter)
	if n := strings.Count(string(data), "x"); n != 2 {
		t.Errorf("expected a fresh call after Invalidate, got %d calls", n)
	}
}

func TestCLISourceStatusTimeout(t *testing.T) {
	dir := t.TempDir()
	gt := writeScript(t, dir, "gt", "sleep 5")
	src := gastown.NewCLISource(gastown.SourceConfig{TownRoot: dir, GTBin: gt},
		runner.New(100*time.Millisecond, discardLogger()), discardLogger())

	_, err := src.Status(context.Background())
	if !errors.Is(err, runner.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestCLISourceWorkLists(t *testing.T) {
	dir := t.TempDir()
	bd := writeScript(t, dir, "bd", `case "$1" in
ready) echo '[{"id":"gt-1","title":"a"},{"id":"gt-2","title":"b"}]' ;;
blocked) echo 'database locked' >&2; exit 1 ;;
esac`)
	src := gastown.NewCLISource(gastown.SourceConfig{TownRoot: dir, BDBin: bd},
		runner.New(5*time.Second, discardLogger()), discardLogger())

	ready, err := src.ReadyWork(context.Background())
	if err != nil || len(ready) != 2 {
		t.Fatalf("ReadyWork: %v %v", ready, err)
	}
	if _, err := src.BlockedWork(context.Background()); err == nil {
		t.Error("expected BlockedWork to fail")
	}

	counts := gastown.FetchWorkCounts(context.Background(), src, discardLogger())
	if counts.Ready != 2 || counts.Blocked != 0 {
		t.Errorf("expected ready=2 blocked=0 after degrade, got %+v", counts)
	}
}

func TestFindTownRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "mayor"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "mayor", "town.json"), []byte(`{}`), 0644)
	nested := filepath.Join(root, "gastown", "polecats", "nux")
	os.MkdirAll(nested, 0755)

	got, err := gastown.FindTownRoot(nested)
	if err != nil {
		t.Fatalf("FindTownRoot: %v", err)
	}
	if got != root {
		t.Errorf("got %q want %q", got, root)
	}

	if _, err := gastown.FindTownRoot(t.TempDir()); !errors.Is(err, gastown.ErrNoTown) {
		t.Errorf("expected ErrNoTown, got %v", err)
	}
}
