package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zsprackett/gtdash/internal/config"
	"github.com/zsprackett/gtdash/internal/dispatch"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/logtail"
	"github.com/zsprackett/gtdash/internal/notify"
	"github.com/zsprackett/gtdash/internal/retention"
	"github.com/zsprackett/gtdash/internal/runner"
	"github.com/zsprackett/gtdash/internal/telemetry"
	"github.com/zsprackett/gtdash/internal/tmux"
	"github.com/zsprackett/gtdash/internal/webserver"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var host string
	var port int
	var noLogs, noDispatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.loadConfig()
			if cmd.Flags().Changed("host") {
				cfg.Webserver.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Webserver.Port = port
			}
			if noLogs {
				cfg.Logs.Enabled = false
			}
			if noDispatch {
				cfg.Dispatch.Enabled = false
			}

			logger, closeLog := flags.initLogging(cfg, "serve")
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	cmd.Flags().BoolVar(&noLogs, "no-logs", false, "disable the log stream")
	cmd.Flags().BoolVar(&noDispatch, "no-dispatch", false, "disable dispatch chat")
	return cmd
}

// serve wires every component and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	town, err := resolveTown(cfg.Town)
	if errors.Is(err, gastown.ErrNoTown) {
		wd, _ := os.Getwd()
		logger.Warn("serve: no town found, status will report uninitialized", "dir", wd)
		fmt.Fprintf(os.Stderr, "warning: %v; serving %s\n", err, wd)
		town = wd
	} else if err != nil {
		return err
	}

	store, err := openDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	pruner := retention.New(store, retention.Config{
		MaxAlertAge:  cfg.Telemetry.AlertRetention.Std(),
		KeepMessages: cfg.Dispatch.KeepMessages,
	}, logger)
	pruner.Start()
	defer pruner.Stop()

	r := runner.New(cfg.Telemetry.CommandTimeout.Std(), logger)
	newSource := func(scope string) gastown.Source {
		return gastown.NewCLISource(gastown.SourceConfig{
			TownRoot: scope,
			GTBin:    cfg.GTBin,
			BDBin:    cfg.BDBin,
			CacheTTL: cfg.Telemetry.CacheTTL.Std(),
		}, r, logger.With("town", scope))
	}
	reg := telemetry.NewRegistry(town, newSource, telemetry.Options{
		Interval: cfg.Telemetry.PollInterval.Std(),
		Cooldown: cfg.Telemetry.AlertCooldown.Std(),
		Alerts:   store,
		Logger:   logger,
	})
	defer reg.Close()

	deps := webserver.Deps{Telemetry: reg, Alerts: store}

	if cfg.Logs.Enabled {
		tailer := logtail.New(logtail.Config{
			Dir:          town,
			Command:      cfg.Logs.Command,
			BufferSize:   cfg.Logs.BufferSize,
			RestartDelay: cfg.Logs.RestartDelay.Std(),
		}, r, logger)
		defer tailer.Stop()
		deps.Logs = tailer
	}

	if cfg.Dispatch.Enabled {
		panes := tmux.NewClient(r, cfg.TmuxBin)
		if !panes.IsAvailable(ctx) {
			logger.Warn("serve: tmux not found, dispatch replies will not be captured")
		}
		d := dispatch.New(dispatch.Config{
			TownRoot:     town,
			GTBin:        cfg.GTBin,
			Target:       cfg.Dispatch.Target,
			PollInterval: cfg.Dispatch.PollInterval.Std(),
			History:      cfg.Dispatch.History,
		}, r, store, panes, reg.Source(town), logger)
		defer d.Stop()
		deps.Dispatch = d
	}

	if cfg.Notifications.Enabled {
		n := notify.New(notify.Config{
			Enabled:       true,
			Desktop:       cfg.Notifications.Desktop,
			Webhook:       cfg.Notifications.Webhook,
			NtfyURL:       cfg.Notifications.NtfyURL,
			AllSeverities: cfg.Notifications.AllSeverities,
		}, logger)
		go n.Run(ctx)
		sub := n.Subscriber(town)
		p, err := reg.Subscribe(town, sub)
		if err != nil {
			return fmt.Errorf("attach notifier: %w", err)
		}
		defer p.Unsubscribe(sub.ID())
	}

	srv := webserver.New(deps, webserver.Config{
		Host: cfg.Webserver.Host,
		Port: cfg.Webserver.Port,
	}, logger)
	fmt.Fprintf(os.Stderr, "gtdash: serving %s on http://%s\n", town, srv.Addr())
	return srv.Run(ctx)
}
