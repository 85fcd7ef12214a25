package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aristath/netqueue/internal/config"
	"github.com/aristath/netqueue/internal/logging"
)

func main() {
	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries state shared by all subcommands.
type app struct {
	out    io.Writer
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer // log file, if any

	flagConfig    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string
	flagTUI       bool // bound by run; the dashboard owns the terminal
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "netqueue",
		Short: "Prioritized, retrying HTTP request runner",
		Long: "netqueue sends batches of HTTP requests described in a manifest, ordering them\n" +
			"by priority, gating them on readiness conditions and retrying failures.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.flagConfig, "config", "", "Project config file (default .netqueue/config.json)")
	root.PersistentFlags().BoolVar(&a.flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.flagLogFormat, "log-format", "", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
	)
	return root
}

// projectConfigPath returns --config or the conventional project path.
func (a *app) projectConfigPath() string {
	if a.flagConfig != "" {
		return a.flagConfig
	}
	_, project, _ := config.DefaultPaths()
	return project
}

// setup loads configuration and builds the logger.
func (a *app) setup() error {
	global, _, err := config.DefaultPaths()
	if err != nil {
		return err
	}
	cfg, err := config.Load(global, a.projectConfigPath())
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.flagDebug {
		cfg.Log.Level = "debug"
	} else if a.flagLogLevel != "" {
		cfg.Log.Level = a.flagLogLevel
	}
	if a.flagLogFormat != "" {
		cfg.Log.Format = a.flagLogFormat
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	switch {
	case cfg.Log.File != "":
		logger, f, err := logging.NewFileLogger(level, cfg.Log.Format, cfg.Log.File)
		if err != nil {
			return err
		}
		a.logger, a.closer = logger, f
	case a.flagTUI:
		a.logger = logging.Discard()
	default:
		a.logger = logging.NewLogger(level, cfg.Log.Format)
	}
	return nil
}
