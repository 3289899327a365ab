package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/feed"
)

// typeFilters is the cycle order of the 'f' key. The empty filter shows all.
var typeFilters = []string{"", feed.TypeAgent, feed.TypeWork, feed.TypeRig, feed.TypeSystem, feed.TypeAlert, feed.TypeLog, feed.TypeChat}

// Home is the main screen containing the merged feed and a detail pane.
type Home struct {
	*tview.Flex
	app     *tview.Application
	table   *tview.Table
	preview *tview.TextView
	header  *tview.TextView
	footer  *tview.TextView

	town     string
	events   []feed.UnifiedEvent
	items    []feed.UnifiedEvent
	status   map[string]bool
	counts   *events.Counts
	filter   int
	selected int
	now      func() time.Time

	onDispatch func()
	onClear    func()
	onQuit     func()
}

func NewHome(app *tview.Application, town string) *Home {
	h := &Home{app: app, town: town, now: time.Now}

	h.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.header.SetBackgroundColor(ColorBackgroundPanel)

	h.table = tview.NewTable().
		SetSelectable(true, false).
		SetSelectedStyle(tcell.StyleDefault.
			Background(ColorSelected).
			Foreground(ColorSelectedText))
	h.table.SetBackgroundColor(ColorBackground)
	h.table.SetSelectionChangedFunc(func(row, col int) {
		h.selected = row
		h.updatePreview()
	})

	h.preview = tview.NewTextView().
		SetDynamicColors(false).
		SetScrollable(true).
		SetWrap(true)
	h.preview.SetBackgroundColor(ColorBackground)

	h.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	h.footer.SetBackgroundColor(ColorBackgroundPanel)

	separator := tview.NewBox().SetBackgroundColor(ColorBorder)

	content := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(h.table, 0, 65, true).
		AddItem(separator, 1, 0, false).
		AddItem(h.preview, 0, 35, false)

	h.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(h.header, 1, 0, false).
		AddItem(content, 0, 1, true).
		AddItem(h.footer, 1, 0, false)

	h.setupInput()
	h.updateFooter()
	return h
}

func (h *Home) SetCallbacks(onDispatch, onClear, onQuit func()) {
	h.onDispatch = onDispatch
	h.onClear = onClear
	h.onQuit = onQuit
}

// Update replaces the displayed feed and connection state. Must run on the
// UI goroutine.
func (h *Home) Update(evs []feed.UnifiedEvent, status map[string]bool, counts *events.Counts) {
	h.events = evs
	h.status = status
	h.counts = counts
	h.items = filterEvents(evs, typeFilters[h.filter])
	h.renderTable()
	h.header.SetText(headerText(h.town, status, counts))
}

func (h *Home) renderTable() {
	h.table.Clear()
	now := h.now()
	for i, ev := range h.items {
		icon, color := SeverityIcon(ev.Severity)
		h.table.SetCell(i, 0, tview.NewTableCell(" "+icon).SetTextColor(color))
		h.table.SetCell(i, 1, tview.NewTableCell(relTime(ev.Timestamp, now)).
			SetTextColor(ColorTextMuted))
		h.table.SetCell(i, 2, tview.NewTableCell(ev.Type).SetTextColor(TypeColor(ev.Type)))
		h.table.SetCell(i, 3, tview.NewTableCell(ev.Title).
			SetTextColor(ColorText).
			SetExpansion(1))
	}

	if h.selected >= len(h.items) {
		h.selected = len(h.items) - 1
	}
	if h.selected < 0 {
		h.selected = 0
	}
	if len(h.items) > 0 {
		h.table.Select(h.selected, 0)
	}
	h.updatePreview()
}

func (h *Home) updatePreview() {
	if h.selected < 0 || h.selected >= len(h.items) {
		h.preview.Clear()
		return
	}
	h.preview.SetText(detailText(h.items[h.selected]))
	h.preview.ScrollToBeginning()
}

func (h *Home) updateFooter() {
	filter := typeFilters[h.filter]
	if filter == "" {
		filter = "all"
	}
	h.footer.SetText(fmt.Sprintf(
		"[green]↑↓[-] navigate  [green]f[-] filter: %s  [green]d[-] dispatch  [green]c[-] clear  [green]?[-] help  [green]q[-] quit",
		filter))
}

func (h *Home) setupInput() {
	h.table.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'f':
			h.filter = (h.filter + 1) % len(typeFilters)
			h.selected = 0
			h.updateFooter()
			h.Update(h.events, h.status, h.counts)
			return nil
		case 'd':
			if h.onDispatch != nil {
				h.onDispatch()
			}
			return nil
		case 'c':
			if h.onClear != nil {
				h.onClear()
			}
			return nil
		case 'q':
			if h.onQuit != nil {
				h.onQuit()
			}
			return nil
		}
		return event
	})
}

func filterEvents(evs []feed.UnifiedEvent, typ string) []feed.UnifiedEvent {
	if typ == "" {
		return evs
	}
	out := make([]feed.UnifiedEvent, 0, len(evs))
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func relTime(ts, now time.Time) string {
	if now.Sub(ts) < time.Second {
		return "now"
	}
	return humanize.RelTime(ts, now, "ago", "from now")
}

func headerText(town string, status map[string]bool, counts *events.Counts) string {
	var b strings.Builder
	b.WriteString("[blue]GTDASH[-]")
	if town != "" {
		fmt.Fprintf(&b, " %s", town)
	}
	b.WriteString("  ")

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status[name] {
			fmt.Fprintf(&b, " [green]%s %s[-]", IconUp, name)
		} else {
			fmt.Fprintf(&b, " [gray]%s %s[-]", IconDown, name)
		}
	}

	if counts != nil {
		fmt.Fprintf(&b, "   %s agents  [green]%s running[-]  %s idle",
			humanize.Comma(int64(counts.Agents)), humanize.Comma(int64(counts.Running)), humanize.Comma(int64(counts.Idle)))
		if counts.Stuck > 0 {
			fmt.Fprintf(&b, "  [red]%d stuck[-]", counts.Stuck)
		}
		fmt.Fprintf(&b, "  mq %s  ready %s",
			humanize.Comma(int64(counts.MQPending)), humanize.Comma(int64(counts.ReadyWork)))
	}
	return b.String()
}

func detailText(ev feed.UnifiedEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", ev.Title)
	fmt.Fprintf(&b, "type:     %s\nseverity: %s\ntime:     %s\n", ev.Type, ev.Severity, ev.Timestamp.Format(time.DateTime))
	if ev.Description != "" && ev.Description != ev.Title {
		fmt.Fprintf(&b, "\n%s\n", ev.Description)
	}
	if len(ev.Metadata) > 0 {
		keys := make([]string, 0, len(ev.Metadata))
		for k := range ev.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			v := ev.Metadata[k]
			if v == nil || v == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %v\n", k, v)
		}
	}
	return b.String()
}
