package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/FranksOps/newsbrief/internal/app"
	"github.com/FranksOps/newsbrief/internal/report"
	"github.com/FranksOps/newsbrief/internal/storage"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		filter storage.Filter
		since  time.Duration
		format string
		show   string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved reports",
		Long:  "List reports persisted to storage.dsn, newest first. With --show, print one report in full.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}

			store, err := app.OpenStorage(cmd.Context(), cfg.Storage.DSN)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			defer store.Close()

			if show != "" {
				filter.Limit, filter.Offset = 0, 0
			}
			reports, err := store.Query(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("query reports: %w", err)
			}

			out := cmd.OutOrStdout()
			if show != "" {
				for _, r := range reports {
					if r.ID == show {
						f, err := report.ParseFormat(format)
						if err != nil {
							return &exitError{code: exitUsage, err: err}
						}
						return report.Write(out, f, r)
					}
				}
				return fmt.Errorf("report %s not found", show)
			}

			if len(reports) == 0 {
				fmt.Fprintln(out, "No saved reports.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tGENERATED\tTOPIC\tARTICLES\tFAILED\tSTATUS")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					r.ID, r.GeneratedAt.Local().Format(time.DateTime), r.Topic,
					len(r.Sections), r.Stats.Failed, status(r))
			}
			return tw.Flush()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&filter.Topic, "topic", "", "only reports for this topic")
	fl.DurationVar(&since, "since", 0, "only reports generated within this duration")
	fl.IntVar(&filter.Limit, "limit", 20, "maximum reports to list")
	fl.IntVar(&filter.Offset, "offset", 0, "skip this many reports")
	fl.StringVar(&show, "show", "", "print the report with this ID")
	fl.StringVarP(&format, "format", "f", string(report.FormatText), "format for --show")
	return cmd
}

func status(r *report.Report) string {
	switch {
	case r.Empty:
		return "empty"
	case r.TimedOut:
		return "timed out"
	case r.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}
