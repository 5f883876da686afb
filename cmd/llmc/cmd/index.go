package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	"github.com/vmlinuzx/llmc-sub012/internal/enrich"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/logging"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

type indexOptions struct {
	enrich bool
	embed  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Sync the index with the working tree",
		Long: `Scan the repository, extract spans from changed files, and update
the index. With --enrich and --embed this also runs one enrichment
and embedding cycle; the daemon otherwise handles those in the
background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.enrich, "enrich", false, "run one enrichment cycle after syncing")
	cmd.Flags().BoolVar(&opts.embed, "embed", false, "run one embedding cycle after syncing")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.cleanup()

	sc, err := scanner.New()
	if err != nil {
		return err
	}
	ex := extract.NewSpanExtractor()
	defer ex.Close()

	if err := e.store.SetState(ctx, store.StateIndexing, ""); err != nil {
		return err
	}
	syncOpts, lexCleanup, err := e.syncOptions()
	if err != nil {
		return err
	}
	defer lexCleanup()
	report, err := syncer.New(e.root, e.store, sc, ex, syncOpts...).Sync(ctx)
	if err != nil {
		_ = e.store.SetState(context.WithoutCancel(ctx), store.StateError, err.Error())
		return err
	}

	if opts.enrich {
		if err := runEnrichCycle(ctx, e); err != nil {
			return err
		}
	}
	if opts.embed {
		if err := runEmbedCycle(ctx, e); err != nil {
			return err
		}
	}

	if global.json {
		return e.renderer.JSON(report)
	}
	out := cmd.OutOrStdout()
	if report.NoChanges {
		fmt.Fprintln(out, "index is up to date")
		return nil
	}
	fmt.Fprintf(out, "indexed %d added, %d modified, %d deleted (%d spans added, %d removed) in %s\n",
		len(report.Changes.Added), len(report.Changes.Modified), len(report.Changes.Deleted),
		report.SpansAdded, report.SpansRemoved, report.Duration.Round(1e6))
	for _, w := range report.ParseWarnings {
		fmt.Fprintf(out, "  warning: %s\n", w)
	}
	return nil
}

func runEnrichCycle(ctx context.Context, e *env) error {
	if !e.cfg.Enrichment.Enabled {
		slog.Info("enrichment_disabled")
		return nil
	}
	cascade, err := enrich.NewCascade(e.cfg.Enrichment)
	if err != nil {
		return err
	}
	defer cascade.Close()

	router, err := route.NewRouter(e.cfg.Routing, e.cfg.Enrichment.StartTier, e.cfg.Search.RerankEnabled)
	if err != nil {
		return err
	}
	pipelineOpts := []enrich.PipelineOption{
		enrich.WithStartTierFunc(func(ps store.PendingSpan) string {
			return router.StartTierForSpan(ps.Span.ContentType)
		}),
	}
	if metrics, merr := logging.NewMetricsWriter(e.metricsPath()); merr == nil {
		defer metrics.Close()
		pipelineOpts = append(pipelineOpts, enrich.WithMetrics(metrics))
	}
	report, err := enrich.NewPipeline(e.store, cascade, e.cfg.Enrichment, pipelineOpts...).Run(ctx)
	if err != nil {
		return err
	}
	slog.Info("enrich_cycle_done",
		slog.Int("enriched", report.Enriched), slog.Int("failed", report.Failed))
	return nil
}

func runEmbedCycle(ctx context.Context, e *env) error {
	svc, err := embed.NewService(e.store, e.cfg.Embeddings)
	if err != nil {
		return err
	}
	reports, err := svc.RunAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range reports {
		slog.Info("embed_cycle_done",
			slog.String("profile", r.Profile),
			slog.Int("embedded", r.Embedded), slog.Int("failed", r.Failed))
	}
	return nil
}
