package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/daemon"
	"github.com/vmlinuzx/llmc-sub012/internal/embed"
	"github.com/vmlinuzx/llmc-sub012/internal/enrich"
	"github.com/vmlinuzx/llmc-sub012/internal/events"
	"github.com/vmlinuzx/llmc-sub012/internal/extract"
	"github.com/vmlinuzx/llmc-sub012/internal/logging"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/scanner"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

func newDaemonCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the background indexing loop",
		Long: `Keep the index in sync with the working tree: detect changes, extract
spans, enrich them through the model cascade, embed them, and publish
a health snapshot. Runs until interrupted; one daemon per repository.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			syncOpts, lexCleanup, err := e.syncOptions()
			if err != nil {
				return err
			}
			defer lexCleanup()
			sy := syncer.New(e.root, e.store, sc, ex, syncOpts...)

			var pipeline *enrich.Pipeline
			if e.cfg.Enrichment.Enabled {
				cascade, err := enrich.NewCascade(e.cfg.Enrichment)
				if err != nil {
					return err
				}
				defer cascade.Close()
				router, err := route.NewRouter(e.cfg.Routing, e.cfg.Enrichment.StartTier, e.cfg.Search.RerankEnabled)
				if err != nil {
					return err
				}
				opts := []enrich.PipelineOption{
					enrich.WithStartTierFunc(func(ps store.PendingSpan) string {
						return router.StartTierForSpan(ps.Span.ContentType)
					}),
				}
				if metrics, merr := logging.NewMetricsWriter(e.metricsPath()); merr == nil {
					defer metrics.Close()
					opts = append(opts, enrich.WithMetrics(metrics))
				}
				pipeline = enrich.NewPipeline(e.store, cascade, e.cfg.Enrichment, opts...)
			}

			embedSvc, err := embed.NewService(e.store, e.cfg.Embeddings)
			if err != nil {
				return err
			}
			defer embedSvc.Close()

			bus := events.NewBus()
			if verbose {
				bus.SubscribeAll(func(ev events.Event) {
					slog.Info("daemon_event", slog.String("type", string(ev.Type)))
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
						ev.At.Format("15:04:05"), ev.Type)
				})
			}

			return daemon.New(e.root, e.cfg, e.store, sy, pipeline, embedSvc, bus).
				Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print daemon events to stdout")
	return cmd
}
