package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zsprackett/gtdash/internal/ui"
)

func newWatchCmd(flags *rootFlags) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running server's merged event feed in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.loadConfig()
			if server != "" {
				cfg.Client.Server = server
			}
			logger, closeLog := flags.initLogging(cfg, "watch")
			defer closeLog()

			// The server resolves an empty town to its own default.
			town := cfg.Town
			if town != "" {
				if abs, err := filepath.Abs(town); err == nil {
					town = abs
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			app := ui.NewApp(ui.Options{
				Server:         cfg.Client.Server,
				Town:           town,
				DispatchTarget: cfg.Dispatch.Target,
				ReconnectDelay: cfg.Client.ReconnectDelay.Std(),
				EventCap:       cfg.Client.EventCap,
				DedupWindow:    cfg.Client.DedupWindow.Std(),
			}, logger)
			return app.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "gtdash server URL (default from config)")
	return cmd
}
