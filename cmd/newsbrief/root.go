package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/config"
	"github.com/FranksOps/newsbrief/internal/logging"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitEmpty   = 3
)

// exitError carries a specific exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// errEmptyReport is returned by run with --fail-on-empty when nothing could
// be summarized.
var errEmptyReport = errors.New("report has no summarized articles")

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "newsbrief",
		Short:         "Summarized news reports for a topic",
		Long:          "newsbrief searches the news for a topic, fetches and extracts the articles, and summarizes them into a single report.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: exitUsage, err: err}
	})
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "path to config file (default ./newsbrief.yaml)")
	pf.StringVar(&g.envFile, "env-file", "", "dotenv file to load (default .env)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCmd(g),
		newScheduleCmd(g),
		newHistoryCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "newsbrief %s (commit: %s)\n", version, commit)
			},
		},
	)
	return root
}

// load reads configuration with the global flags and the given overrides
// applied, and builds the logger.
func (g *globalFlags) load(cmd *cobra.Command, overrides map[string]any) (*config.Config, *slog.Logger, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	if g.logLevel != "" {
		overrides["log.level"] = g.logLevel
	}
	if g.logFormat != "" {
		overrides["log.format"] = g.logFormat
	}

	cfg, err := config.Load(config.Options{File: g.configFile, EnvFile: g.envFile, Overrides: overrides})
	if err != nil {
		return nil, nil, &exitError{code: exitUsage, err: err}
	}
	logger, err := logging.NewWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, &exitError{code: exitUsage, err: err}
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	var ee *exitError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ee):
		return ee.code
	case errors.Is(err, article.ErrInvalidInput):
		return exitUsage
	default:
		return exitFailure
	}
}

func execute(args []string) int {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "newsbrief:", err)
	}
	return exitCode(err)
}
