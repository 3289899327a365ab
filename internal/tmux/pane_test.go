package tmux_test

import (
	"testing"

	"github.com/zsprackett/gtdash/internal/tmux"
)

func TestStripAnsi(t *testing.T) {
	if got := tmux.StripAnsi("\x1b[1;32mok\x1b[0m \x1b]0;title\x07done"); got != "ok done" {
		t.Errorf("got %q", got)
	}
}

func TestPaneLinesTrimsTrailingBlanks(t *testing.T) {
	got := tmux.PaneLines("one  \n\x1b[2mtwo\x1b[0m\r\n\n   \n")
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("got %q", got)
	}
}

func TestClassifyPane(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want tmux.PaneState
	}{
		{"empty", "", tmux.PaneIdle},
		{"prompt", "$ gt status\nall good\n> ", tmux.PaneIdle},
		{"spinner", "reading files\n⠙ Thinking", tmux.PaneBusy},
		{"interrupt hint", "✻ Working… (12s · esc to interrupt)", tmux.PaneBusy},
		{"permission prompt beats spinner", "⠋ running tests\nDo you want to proceed?\n 1. Yes\n 2. No", tmux.PaneWaiting},
		{"yes no", "Overwrite file? (y/n)", tmux.PaneWaiting},
		{"exited", "⠋ working\nResume this session with:\nclaude --resume abc", tmux.PaneExited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tmux.ClassifyPane(tc.out); got != tc.want {
				t.Errorf("ClassifyPane = %s, want %s", got, tc.want)
			}
		})
	}
}
