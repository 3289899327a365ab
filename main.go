package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zsprackett/gtdash/internal/applog"
	"github.com/zsprackett/gtdash/internal/config"
	"github.com/zsprackett/gtdash/internal/db"
	"github.com/zsprackett/gtdash/internal/gastown"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	town       string
	logLevel   string
	logStderr  bool
}

func openDB(path string) (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// loadConfig reads the config file and applies the root flags over it.
func (f *rootFlags) loadConfig() config.Config {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	if f.town != "" {
		cfg.Town = f.town
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg
}

// initLogging returns the process logger for one subcommand and a cleanup func.
func (f *rootFlags) initLogging(cfg config.Config, component string) (*slog.Logger, func()) {
	logger, closer, err := applog.Init(applog.InitConfig{
		LogDir:    cfg.LogDir,
		LogLevel:  cfg.LogLevel,
		Format:    cfg.LogFormat,
		Component: component,
		Stderr:    f.logStderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		return slog.Default(), func() {}
	}
	return logger, func() { closer.Close() }
}

// resolveTown returns the configured town root, or searches upward from the
// working directory for one.
func resolveTown(configured string) (string, error) {
	if configured != "" {
		return filepath.Abs(configured)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return gastown.FindTownRoot(wd)
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "gtdash",
		Short:         "Live dashboard for a Gas Town workspace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultPath(), "config file (.json, .yaml or .yml)")
	root.PersistentFlags().StringVar(&flags.town, "town", "", "town root (default: search upward from the working directory)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error")
	root.PersistentFlags().BoolVar(&flags.logStderr, "log-stderr", false, "log to stderr instead of the log directory")

	root.AddCommand(newServeCmd(flags), newWatchCmd(flags), newStatusCmd(flags))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
