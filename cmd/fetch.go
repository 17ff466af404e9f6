package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/acquire"
	"github.com/JakeFAU/serial-archiver/internal/clock/system"
	"github.com/JakeFAU/serial-archiver/internal/config"
	"github.com/JakeFAU/serial-archiver/internal/hash/sha256"
	"github.com/JakeFAU/serial-archiver/internal/id/uuid"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	"github.com/JakeFAU/serial-archiver/internal/packager"
	"github.com/JakeFAU/serial-archiver/internal/progress"
	progresssinks "github.com/JakeFAU/serial-archiver/internal/progress/sinks"
	"github.com/JakeFAU/serial-archiver/internal/server"
	"github.com/JakeFAU/serial-archiver/internal/worker"
)

type fetchOptions struct {
	platform string
	workID   string
	format   string
	userID   string
	output   string
}

func newFetchCmd() *cobra.Command {
	opts := fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Archive one work inline and print a per-chapter summary",
		Long: `fetch runs a single job in-process. Units are cached in the store selected by
database.backend, so repeated runs against sqlite or postgres reuse earlier downloads.`,
		Example: `  archiver fetch --platform novelpia --work 123456 --format epub
  archiver fetch --platform munpia --work abc12 --format txt --output ./books`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runFetch(cmd.Context(), cmd.OutOrStdout(), rt.cfg, rt.logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.platform, "platform", "", "platform tag (novelpia, munpia)")
	cmd.Flags().StringVar(&opts.workID, "work", "", "work identifier on the platform")
	cmd.Flags().StringVar(&opts.format, "format", string(novel.FormatEPUB), "output format (txt, html, epub)")
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "user id recorded on the job")
	cmd.Flags().StringVar(&opts.output, "output", "", "output directory (defaults to output.dir)")
	_ = cmd.MarkFlagRequired("platform")
	_ = cmd.MarkFlagRequired("work")
	return cmd
}

func runFetch(ctx context.Context, out io.Writer, cfg config.Config, logger *zap.Logger, opts fetchOptions) error {
	p, err := novel.ParsePlatform(opts.platform)
	if err != nil {
		return err
	}
	format, err := novel.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	if opts.output != "" {
		cfg.Output.Dir = opts.output
	}

	clock := system.New()
	fetcher := server.NewFetcher(cfg.Fetcher, clock, logger.Named("fetcher"))
	stores, err := server.OpenStores(ctx, cfg.Database, logger.Named("stores"))
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.Warn("closing stores failed", zap.Error(err))
		}
	}()
	hub := progress.NewHub(progress.Config{Logger: logger}, progresssinks.NewLogSink(logger.Named("progress")))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	w := worker.New(worker.Deps{
		JobStore: stores.Jobs,
		Fetcher:  fetcher,
		Coordinator: acquire.New(fetcher, stores.Cache, clock, logger.Named("acquire"), acquire.Config{
			Concurrency:     cfg.Acquire.Concurrency,
			MaxListingPages: cfg.Acquire.MaxListingPages,
		}),
		Packager: packager.New(fetcher, logger.Named("packager")),
		Hasher:   sha256.New(),
		Clock:    clock,
		Progress: hub,
	}, worker.Config{OutputDir: cfg.Output.Dir, Concurrency: cfg.Acquire.Concurrency}, logger.Named("worker"))

	jobID, err := uuid.New().NewID()
	if err != nil {
		return err
	}
	if err := stores.Jobs.CreateJob(ctx, novel.Job{
		ID:        jobID,
		UserID:    opts.userID,
		Work:      novel.WorkRef{Platform: p, WorkID: opts.workID},
		Format:    format,
		Status:    novel.JobStatusPending,
		Submitted: clock.Now(),
	}); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	report := w.ProcessJob(ctx, jobID)
	if len(report.Units) > 0 {
		fmt.Fprintln(out, renderUnits(report.Units))
	}
	if report.Job.Status != novel.JobStatusCompleted || report.Job.Artifact == nil {
		return fmt.Errorf("job %s %s: %s", jobID, report.Job.Status, report.Job.ErrorText)
	}
	summary := acquire.Summarize(report.Units)
	fmt.Fprintf(out, "%s (%s, sha256 %s)\n",
		report.Job.Artifact.Path,
		humanize.Bytes(uint64(report.Job.Artifact.SizeBytes)),
		report.Job.Artifact.SHA256,
	)
	fmt.Fprintf(out, "fetched %d, cached %d, not subscribed %d, failed %d in %s\n",
		summary.Fetched, summary.Cached, summary.NotSubscribed, summary.Failed,
		report.Job.Artifact.Duration.Round(time.Millisecond),
	)
	return nil
}

func renderUnits(units []novel.AcquiredUnit) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Chapter", "Outcome", "Size"})
	for _, u := range units {
		size := ""
		if u.HasContent() {
			size = humanize.Bytes(uint64(len(u.Content.Markup) + len(u.Content.Text)))
		}
		tw.AppendRow(table.Row{strconv.Itoa(u.Index + 1), u.DisplayTitle(), string(u.Outcome), size})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}
