// Package cmd provides the llmc CLI commands.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmlinuzx/llmc-sub012/internal/config"
	"github.com/vmlinuzx/llmc-sub012/internal/logging"
	"github.com/vmlinuzx/llmc-sub012/internal/output"
	"github.com/vmlinuzx/llmc-sub012/internal/query"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
	"github.com/vmlinuzx/llmc-sub012/internal/syncer"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

type globalOptions struct {
	root  string
	json  bool
	debug bool
}

var global globalOptions

// NewRootCmd builds the root command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "llmc",
		Short: "Local-first RAG engine for source repositories",
		Long: `llmc indexes a repository into searchable spans, enriches them with
LLM-written summaries, embeds them for semantic search, and answers
questions over the result: hybrid search, call-graph queries, and
freshness-aware status. All state lives under the repo in .llmc/.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("llmc version {{.Version}}\n")

	root.PersistentFlags().StringVarP(&global.root, "root", "C", ".", "repository root")
	root.PersistentFlags().BoolVar(&global.json, "json", false, "emit JSON instead of text")
	root.PersistentFlags().BoolVar(&global.debug, "debug", false, "enable debug logging")

	root.AddCommand(newIndexCmd())
	root.AddCommand(newSearchCmd())
	root.AddCommand(newWhereUsedCmd())
	root.AddCommand(newLineageCmd())
	root.AddCommand(newDaemonCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newServeCmd())
	return root
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	err := root.ExecuteContext(ctx)
	if err != nil {
		output.NewRenderer(os.Stderr, global.json).Error(err)
	}
	return err
}

// env bundles what most commands need: config, an open store, and a
// renderer for the chosen output mode.
type env struct {
	root     string
	cfg      *config.Config
	store    *store.Store
	renderer *output.Renderer
	cleanup  func()
}

func newEnv(cmd *cobra.Command) (*env, error) {
	root, err := filepath.Abs(global.root)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if global.debug {
		cfg.Logging.Level = "debug"
	}

	logCfg := logging.DefaultConfig(root)
	logCfg.Level = cfg.Logging.Level
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	st, err := store.Open(cfg.IndexPath(root))
	if err != nil {
		logCleanup()
		return nil, err
	}

	return &env{
		root:     root,
		cfg:      cfg,
		store:    st,
		renderer: output.NewRenderer(cmd.OutOrStdout(), global.json),
		cleanup: func() {
			_ = st.Close()
			logCleanup()
		},
	}, nil
}

func (e *env) api() (*query.API, error) {
	return query.New(e.store, e.root, e.cfg)
}

func (e *env) metricsPath() string {
	return config.MetricsPath(e.root)
}

// orphanTTL converts the configured retention days; zero or negative
// falls back to the syncer default.
func orphanTTL(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Enrichment.OrphanTTLDays) * 24 * time.Hour
}

// syncOptions assembles the syncer options shared by index and daemon.
// The bleve backend needs explicit feeding during sync; FTS5 rides the
// span writes and needs none.
func (e *env) syncOptions() ([]syncer.Option, func(), error) {
	opts := []syncer.Option{syncer.WithOrphanTTL(orphanTTL(e.cfg))}
	cleanup := func() {}
	if e.cfg.Search.LexicalBackend == "bleve" {
		lex, err := store.NewLexicalIndex("bleve", e.store)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, syncer.WithLexicalIndex(lex))
		cleanup = func() { _ = lex.Close() }
	}
	return opts, cleanup, nil
}
