package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/FranksOps/newsbrief/internal/app"
	"github.com/FranksOps/newsbrief/internal/config"
	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/internal/storage"
)

var errNoSchedule = errors.New("schedule.cron and at least one topic are required")

// cronParser accepts five-field expressions and descriptors like @hourly.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newScheduleCmd(g *globalFlags) *cobra.Command {
	var (
		cronExpr string
		runNow   bool
	)
	cmd := &cobra.Command{
		Use:   "schedule [topic...]",
		Short: "Build reports for topics on a cron schedule",
		Long: `Run the pipeline for every configured topic each time the cron expression
fires and persist the reports to storage.dsn. Topics given as arguments replace
schedule.topics. Serves Prometheus metrics on metrics.addr when set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]any{}
			if cronExpr != "" {
				overrides["schedule.cron"] = cronExpr
			}
			if len(args) > 0 {
				overrides["schedule.topics"] = args
			}
			cfg, logger, err := g.load(cmd, overrides)
			if err != nil {
				return err
			}
			if cfg.Schedule.Cron == "" || len(cfg.Schedule.Topics) == 0 {
				return &exitError{code: exitUsage, err: errNoSchedule}
			}
			if _, err := cronParser.Parse(cfg.Schedule.Cron); err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := app.OpenStorage(ctx, cfg.Storage.DSN)
			switch {
			case errors.Is(err, app.ErrNoStorage):
				logger.Warn("storage.dsn not set, scheduled reports are logged but not kept")
			case err != nil:
				return err
			default:
				defer store.Close()
			}

			a, err := app.New(cfg, logger, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Metrics.Addr != "" {
				srv, err := metrics.Start(cfg.Metrics.Addr, logger)
				if err != nil {
					return err
				}
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Stop(shutdownCtx)
				}()
			}

			cl := cronLogger{logger}
			// One wrapper so the --now run and scheduled runs never overlap.
			job := cron.NewChain(cron.SkipIfStillRunning(cl)).Then(
				&scheduledJob{ctx: ctx, app: a, store: store, cfg: cfg, logger: logger},
			)
			c := cron.New(
				cron.WithParser(cronParser),
				cron.WithLogger(cl),
				cron.WithChain(cron.Recover(cl)),
			)
			if _, err := c.AddJob(cfg.Schedule.Cron, job); err != nil {
				return &exitError{code: exitUsage, err: err}
			}

			logger.Info("scheduler started", "cron", cfg.Schedule.Cron, "topics", cfg.Schedule.Topics)
			if runNow {
				go job.Run()
			}
			c.Start()
			<-ctx.Done()

			logger.Info("scheduler stopping")
			<-c.Stop().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression, overrides schedule.cron")
	cmd.Flags().BoolVar(&runNow, "now", false, "also run once immediately")
	return cmd
}

// scheduledJob builds one report per topic, one topic at a time.
type scheduledJob struct {
	ctx    context.Context
	app    *app.App
	store  storage.Backend
	cfg    *config.Config
	logger *slog.Logger
}

func (j *scheduledJob) Run() {
	for _, topic := range j.cfg.Schedule.Topics {
		if j.ctx.Err() != nil {
			return
		}
		rep, err := j.app.Run(j.ctx, requestFor(topic, j.cfg))
		if err != nil {
			j.logger.Error("scheduled run failed", "topic", topic, "error", err)
			continue
		}
		j.logger.Info("scheduled report ready",
			"topic", topic,
			"id", rep.ID,
			"sections", len(rep.Sections),
			"degraded", rep.Degraded,
		)
		if j.store == nil {
			continue
		}
		if err := j.store.Save(j.ctx, rep); err != nil {
			j.logger.Error("save report", "topic", topic, "id", rep.ID, "error", err)
		}
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
