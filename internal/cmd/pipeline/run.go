package pipeline

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
	"github.com/mosaicgis/cartographer/internal/command"
	"github.com/mosaicgis/cartographer/internal/config"
	"github.com/mosaicgis/cartographer/internal/pipeline"
	"github.com/mosaicgis/cartographer/internal/rules"
	"github.com/mosaicgis/cartographer/internal/selector"
)

func newRunCommand() *cobra.Command {
	var (
		configPath    string
		include       []string
		exclude       []string
		noDownload    bool
		noMetadata    bool
		noProcessing  bool
		noUpload      bool
		testMode      bool
		debug         bool
		processAnyway bool
		statusAddr    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the pipeline for the selected catalog entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := config.NewCartographerFromFile(configPath)
			if err != nil {
				return err
			}

			logger, err := newLogger(c.Global.Logger.Level, debug)
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("cartographer.pipeline")

			store, err := config.InitializeStore(ctx, c, l)
			if err != nil {
				return fmt.Errorf("connect to catalog: %w", err)
			}
			defer store.Close()

			entities, err := store.Entities(ctx)
			if err != nil {
				return fmt.Errorf("load catalog entities: %w", err)
			}

			ids := make([]string, 0, len(entities))
			for id := range entities {
				ids = append(ids, id)
			}
			selected := selector.Select(ids, include, exclude)
			if len(selected) == 0 {
				l.Warn("no entities matched the selection")
				return nil
			}

			batch := make([]*catalog.Entity, 0, len(selected))
			for _, id := range selected {
				batch = append(batch, entities[id])
			}

			ruleSet, err := rules.NewSetFromFile(c.Rules)
			if err != nil {
				return err
			}
			l.Info("run configured",
				zap.Int("entities", len(batch)),
				zap.Int("rules", ruleSet.Len()),
				zap.Bool("test_mode", testMode),
				zap.Bool("process_anyway", processAnyway))

			builder := command.NewBuilder(
				command.WithToolsDir(c.Pipeline.ToolsDir),
				command.WithLayerCommands(c.LayerCommands()),
				command.WithCatalogTable(c.Catalog.Table),
			)
			runner := pipeline.NewRunner(
				pipeline.WithRunnerLogger(l),
				pipeline.WithTimeout(c.Pipeline.CommandTimeout.Std()),
				pipeline.WithDryRun(testMode),
			)

			workers := viper.GetInt("workers")
			if workers == 0 {
				workers = c.Pipeline.Workers
			}
			p := pipeline.New(store, builder, c.Pipeline.WorkRoot,
				pipeline.WithLogger(l),
				pipeline.WithRunner(runner),
				pipeline.WithRules(ruleSet),
				pipeline.WithWorkers(workers),
				pipeline.WithLedgerDir(c.Pipeline.LedgerDir),
				pipeline.WithSQLTimeout(c.Pipeline.CommandTimeout.Std()),
				pipeline.WithSkipList(c.Pipeline.SkipEntities),
				pipeline.WithWorkDirAliases(c.Pipeline.WorkDirAliases),
				pipeline.WithIsolatedLogs(c.Pipeline.IsolateLogs),
				pipeline.WithProcessAnyway(processAnyway),
				pipeline.WithStages(pipeline.Stages{
					Download:   !noDownload,
					Metadata:   !noMetadata,
					Processing: !noProcessing,
					Upload:     !noUpload,
				}),
			)

			if statusAddr != "" {
				server := pipeline.NewServer(p.Tracker(), l)
				go server.Start(ctx, statusAddr)
			}

			stats, err := p.RunAll(ctx, batch)
			if err != nil {
				return err
			}
			printSummary(stats, batch)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Entity id globs to include (default all)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Entity id globs to exclude")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Skip the download stage")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Skip the metadata stage")
	cmd.Flags().BoolVar(&noProcessing, "no-processing", false, "Skip the processing stage")
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "Skip the upload stage")
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "Log commands instead of executing them")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&processAnyway, "process-anyway", false, "Run all stages even when no new data is detected")
	cmd.Flags().Int("workers", 0, "Concurrent entity workers (overrides config)")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve run status on this address (e.g. :8080)")

	viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CARTOGRAPHER")

	return cmd
}

func newLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("bad log level %q: %w", level, err)
	}
	cfg.Level = lvl
	return cfg.Build()
}

func printSummary(stats pipeline.Stats, batch []*catalog.Entity) {
	layers := make(map[string]int)
	for _, e := range batch {
		layers[e.Layer]++
	}
	names := make([]string, 0, len(layers))
	for name := range layers {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("processed %d entities across %d layers\n", stats.Total, len(names))
	for _, name := range names {
		fmt.Printf("  %s: %d entities\n", name, layers[name])
	}
	fmt.Printf("succeeded=%d failed=%d no_new_data=%d skipped=%d\n",
		stats.Succeeded, stats.Failed, stats.NoNewData, stats.Skipped)
}
