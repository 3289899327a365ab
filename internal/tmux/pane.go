package tmux

import (
	"regexp"
	"strings"
)

var escapeRe = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

// StripAnsi removes CSI and OSC escape sequences from captured pane text.
func StripAnsi(s string) string {
	return escapeRe.ReplaceAllString(s, "")
}

// PaneState is a coarse reading of what the program in a pane is doing.
type PaneState int

const (
	PaneIdle PaneState = iota
	PaneBusy
	PaneWaiting
	PaneExited
)

func (s PaneState) String() string {
	switch s {
	case PaneBusy:
		return "busy"
	case PaneWaiting:
		return "waiting"
	case PaneExited:
		return "exited"
	}
	return "idle"
}

// paneRule maps screen text to a state. Rules are checked in order against
// the tail of the pane; the first hit wins.
type paneRule struct {
	state PaneState
	tail  int
	re    *regexp.Regexp
}

var paneRules = []paneRule{
	{PaneExited, 30, regexp.MustCompile(`(?i)resume this session with:|claude --resume|session ended`)},
	// A prompt outranks a spinner: tool output above a prompt can still show one.
	{PaneWaiting, 30, regexp.MustCompile(`(?i)do you want to (proceed|make this edit|create)|tab to amend|\(y/n\)|\[y/n\]|press enter to continue`)},
	{PaneBusy, 30, regexp.MustCompile(`(?i)(esc|ctrl\+c) to interrupt|…\s*\(?\d+s`)},
	{PaneBusy, 8, regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏✳✽✶✢]`)},
}

// PaneLines splits a capture into lines with escapes and trailing blanks
// removed.
func PaneLines(out string) []string {
	lines := strings.Split(StripAnsi(out), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func tail(lines []string, n int) string {
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ClassifyPane reads the bottom of a pane capture.
func ClassifyPane(out string) PaneState {
	lines := PaneLines(out)
	for _, r := range paneRules {
		if r.re.MatchString(tail(lines, r.tail)) {
			return r.state
		}
	}
	return PaneIdle
}
