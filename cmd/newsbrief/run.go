package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/FranksOps/newsbrief/internal/app"
	"github.com/FranksOps/newsbrief/internal/article"
	"github.com/FranksOps/newsbrief/internal/config"
	"github.com/FranksOps/newsbrief/internal/report"
)

type runFlags struct {
	maxQueries  int
	maxResults  int
	timeBudget  time.Duration
	recency     time.Duration
	format      string
	out         string
	save        bool
	failOnEmpty bool
}

func (f *runFlags) bind(fl *pflag.FlagSet) {
	fl.IntVar(&f.maxQueries, "max-queries", 0, "maximum search queries derived from the topic")
	fl.IntVar(&f.maxResults, "max-results", 0, "maximum articles to process")
	fl.DurationVar(&f.timeBudget, "time-budget", 0, "overall time budget for the run")
	fl.DurationVar(&f.recency, "recency", 0, "ignore articles published longer ago than this")
	fl.StringVarP(&f.format, "format", "f", string(report.FormatText), "output format: text, markdown, json, yaml, html")
	fl.StringVarP(&f.out, "out", "o", "", "write the report to a file instead of stdout")
	fl.BoolVar(&f.save, "save", false, "persist the report to storage.dsn")
	fl.BoolVar(&f.failOnEmpty, "fail-on-empty", false, "exit with status 3 when no article was summarized")
}

// overrides maps the flags the user actually set onto config keys.
func (f *runFlags) overrides(flags *pflag.FlagSet) map[string]any {
	o := map[string]any{}
	if flags.Changed("max-queries") {
		o["pipeline.max_queries"] = f.maxQueries
	}
	if flags.Changed("max-results") {
		o["pipeline.max_results"] = f.maxResults
	}
	if flags.Changed("time-budget") {
		o["pipeline.time_budget"] = f.timeBudget
	}
	if flags.Changed("recency") {
		o["pipeline.recency"] = f.recency
	}
	return o
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <topic>",
		Short: "Build a report for a topic",
		Long: `Search for news on the topic, summarize the articles found and print the report.

A report is produced even when some articles fail. Use --fail-on-empty to
exit with status 3 when no article could be summarized.`,
		Example: `  newsbrief run "quantum computing"
  newsbrief run --max-results 5 --format markdown --out brief.md "EU AI act"`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return &exitError{code: exitUsage, err: errors.New("a topic is required")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(f.format)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			cfg, logger, err := g.load(cmd, f.overrides(cmd.Flags()))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Run(ctx, requestFor(strings.Join(args, " "), cfg))
			if err != nil {
				return err
			}

			if f.save {
				if err := saveReport(ctx, cfg.Storage.DSN, rep); err != nil {
					return err
				}
				logger.Info("report saved", "id", rep.ID)
			}

			if err := writeReport(cmd.OutOrStdout(), f.out, format, rep); err != nil {
				return err
			}
			if f.failOnEmpty && rep.Empty {
				return &exitError{code: exitEmpty, err: errEmptyReport}
			}
			return nil
		},
	}
	f.bind(cmd.Flags())
	return cmd
}

func requestFor(topic string, cfg *config.Config) article.Request {
	return article.Request{
		Topic:      topic,
		MaxQueries: cfg.Pipeline.MaxQueries,
		MaxResults: cfg.Pipeline.MaxResults,
		TimeBudget: cfg.Pipeline.TimeBudget,
		Recency:    cfg.Pipeline.Recency,
	}
}

func saveReport(ctx context.Context, dsn string, rep *report.Report) error {
	store, err := app.OpenStorage(ctx, dsn)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if err := store.Save(ctx, rep); err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

func writeReport(stdout io.Writer, path string, format report.Format, rep *report.Report) error {
	if path == "" {
		return report.Write(stdout, format, rep)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := report.Write(file, format, rep); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
