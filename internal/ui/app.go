package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/feed"
	"github.com/zsprackett/gtdash/internal/ui/dialogs"
)

// Options configures the watch view.
type Options struct {
	Server         string
	Town           string
	DispatchTarget string
	ReconnectDelay time.Duration
	EventCap       int
	DedupWindow    time.Duration
}

// App is the terminal watch view: a live feed merged from the server's
// telemetry, log and dispatch streams.
type App struct {
	tapp   *tview.Application
	pages  *tview.Pages
	home   *Home
	merger *feed.Merger
	client *feed.Client
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	counts *events.Counts
}

func NewApp(opts Options, logger *slog.Logger) *App {
	a := &App{
		opts:   opts,
		client: feed.NewClient(opts.Server, nil),
		logger: logger,
	}

	a.tapp = tview.NewApplication()
	a.pages = tview.NewPages()
	a.home = NewHome(a.tapp, opts.Town)

	a.merger = feed.NewMerger(feed.DefaultSources(opts.Server, opts.Town), feed.Options{
		Cap:            opts.EventCap,
		DedupWindow:    opts.DedupWindow,
		ReconnectDelay: opts.ReconnectDelay,
		Logger:         logger,
		OnChange: func() {
			a.tapp.QueueUpdateDraw(a.refreshHome)
		},
		OnSnapshot: func(_ string, snap events.SnapshotEvent) {
			a.mu.Lock()
			counts := snap.Counts
			a.counts = &counts
			a.mu.Unlock()
			a.tapp.QueueUpdateDraw(a.refreshHome)
		},
	})

	a.pages.AddPage("home", a.home, true, true)
	a.tapp.SetRoot(a.pages, true).EnableMouse(false)
	a.tapp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == '?' {
			a.showHelp()
			return nil
		}
		return event
	})

	a.home.SetCallbacks(a.onDispatch, a.onClear, func() { a.tapp.Stop() })
	return a
}

// Run shows the view until the user quits or ctx is cancelled. The stream
// connections are closed before it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.merger.Run(ctx)
	}()
	go func() {
		<-ctx.Done()
		a.tapp.Stop()
	}()

	a.refreshHome()
	err := a.tapp.Run()
	cancel()
	wg.Wait()
	return err
}

func (a *App) refreshHome() {
	a.mu.Lock()
	counts := a.counts
	a.mu.Unlock()
	a.home.Update(a.merger.Events(), a.merger.SourceStatus(), counts)
}

func (a *App) showDialog(name string, widget tview.Primitive, width, height int) {
	modal := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexColumn).
			AddItem(nil, 0, 1, false).
			AddItem(widget, width, 0, true).
			AddItem(nil, 0, 1, false), height, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, modal, true, true)
	a.tapp.SetFocus(widget)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	a.tapp.SetFocus(a.home.table)
}

func (a *App) showHelp() {
	help := dialogs.HelpDialog(func() {
		a.closeDialog("help")
	})
	a.showDialog("help", help, 60, 24)
}

func (a *App) onDispatch() {
	form := dialogs.DispatchDialog(a.opts.DispatchTarget,
		func(result dialogs.DispatchResult) {
			a.closeDialog("dispatch")
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				// The sent message comes back through the dispatch stream.
				if _, err := a.client.Send(ctx, result.Target, result.Text); err != nil {
					a.logger.Warn("watch: dispatch failed", "target", result.Target, "err", err)
					a.tapp.QueueUpdateDraw(func() {
						a.showError(fmt.Sprintf("Dispatch failed: %v", err))
					})
				}
			}()
		},
		func() { a.closeDialog("dispatch") })
	a.showDialog("dispatch", form, 70, 9)
}

func (a *App) onClear() {
	confirm := dialogs.Confirm("Clear the feed?", func(ok bool) {
		a.closeDialog("clear")
		if ok {
			a.merger.Clear()
		}
	})
	a.showDialog("clear", confirm, 40, 7)
}

func (a *App) showError(msg string) {
	modal := tview.NewModal().
		SetText(msg).
		AddButtons([]string{"OK"}).
		SetDoneFunc(func(_ int, _ string) {
			a.closeDialog("error")
		})
	a.pages.AddPage("error", modal, true, true)
}
