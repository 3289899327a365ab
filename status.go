package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/runner"
	"github.com/zsprackett/gtdash/internal/telemetry"
	"github.com/zsprackett/gtdash/internal/tmux"
)

// activeThreshold is how recent tmux window activity must be for an agent's
// session to count as active.
const activeThreshold = 5 * time.Minute

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a one-shot summary of the town without a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.loadConfig()
			logger, closeLog := flags.initLogging(cfg, "status")
			defer closeLog()

			town, err := resolveTown(cfg.Town)
			if err != nil {
				return err
			}
			r := runner.New(cfg.Telemetry.CommandTimeout.Std(), logger)
			src := gastown.NewCLISource(gastown.SourceConfig{
				TownRoot: town,
				GTBin:    cfg.GTBin,
				BDBin:    cfg.BDBin,
			}, r, logger)

			ctx := cmd.Context()
			res, err := src.Status(ctx)
			if err != nil {
				return err
			}
			if !res.Initialized || res.Status == nil {
				return fmt.Errorf("%s: town not initialized: %s", town, res.Error)
			}
			snap := *res.Status
			wc := gastown.FetchWorkCounts(ctx, src, logger)
			snap.ReadyWork = wc.Ready
			snap.BlockedWork = wc.Blocked
			counts := telemetry.CountSnapshot(snap)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"town": town, "snapshot": snap, "counts": counts})
			}
			sessions := listSessions(ctx, tmux.NewClient(r, cfg.TmuxBin))
			return writeStatus(os.Stdout, town, snap, counts, sessions, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func listSessions(ctx context.Context, c *tmux.Client) []tmux.SessionInfo {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil
	}
	return sessions
}

func writeStatus(w io.Writer, town string, snap gastown.Snapshot, counts events.Counts, sessions []tmux.SessionInfo, now time.Time) error {
	fmt.Fprintf(w, "Town %s\n", town)
	fmt.Fprintf(w, "  agents %s (%s running, %s idle, %s stuck)\n",
		humanize.Comma(int64(counts.Agents)), humanize.Comma(int64(counts.Running)),
		humanize.Comma(int64(counts.Idle)), humanize.Comma(int64(counts.Stuck)))
	fmt.Fprintf(w, "  rigs %d (%d degraded)  merge queue %d pending, %d in flight, %d blocked\n",
		counts.Rigs, counts.DegradedRigs, counts.MQPending, counts.MQInFlight, counts.MQBlocked)
	fmt.Fprintf(w, "  work %s ready, %s blocked\n\n",
		humanize.Comma(int64(counts.ReadyWork)), humanize.Comma(int64(counts.BlockedWork)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tRIG\tSTATE\tWORK\tSESSION")
	for _, a := range snap.Agents {
		state := "stopped"
		if a.Running {
			state = "running"
		}
		if a.State != "" {
			state += "/" + a.State
		}
		work := "-"
		if a.HasWork {
			work = a.WorkID
		}
		rig := a.Rig
		if rig == "" {
			rig = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Name, rig, state, work, sessionLabel(a.Session, sessions, now))
	}
	return tw.Flush()
}

func sessionLabel(name string, sessions []tmux.SessionInfo, now time.Time) string {
	if name == "" {
		return "-"
	}
	if !tmux.SessionExists(name, sessions) {
		return name + " (gone)"
	}
	for _, s := range sessions {
		if s.Name != name {
			continue
		}
		last := time.Unix(s.Activity, 0)
		if tmux.IsSessionActive(name, sessions, activeThreshold) {
			return fmt.Sprintf("%s (active %s)", name, humanize.RelTime(last, now, "ago", "from now"))
		}
		return fmt.Sprintf("%s (idle since %s)", name, humanize.RelTime(last, now, "ago", "from now"))
	}
	return name
}
