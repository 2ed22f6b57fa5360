package reconcile

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/catalog"
	"github.com/mosaicgis/cartographer/internal/command"
	"github.com/mosaicgis/cartographer/internal/config"
	"github.com/mosaicgis/cartographer/internal/reconcile"
	"github.com/mosaicgis/cartographer/internal/selector"
)

func NewCommand() *cobra.Command {
	var (
		configPath    string
		overridesPath string
		include       []string
		exclude       []string
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Backfills tracked metadata columns from an override file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("cartographer.reconcile")

			c, err := config.NewCartographerFromFile(configPath)
			if err != nil {
				return err
			}
			overrides, err := reconcile.LoadOverrides(overridesPath)
			if err != nil {
				return err
			}

			store, err := config.InitializeStore(ctx, c, l)
			if err != nil {
				return err
			}
			defer store.Close()

			entities, err := store.Entities(ctx)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(entities))
			for id := range entities {
				ids = append(ids, id)
			}
			selected := selector.Select(ids, include, exclude)

			builder := command.NewBuilder(
				command.WithToolsDir(c.Pipeline.ToolsDir),
				command.WithCatalogTable(c.Catalog.Table),
			)
			publishDate := time.Now().Format("2006-01-02")

			changed := 0
			for _, id := range selected {
				e := entities[id]
				merged := reconcile.Merge(e.Tracked, catalog.Metadata{}, overrides[id])
				if merged.Equal(e.Tracked) {
					continue
				}
				changed++
				if dryRun {
					fmt.Printf("%s: would update data_date=%q epsg=%q file=%q\n",
						id, merged.DataDate, merged.EPSG, merged.PrimaryFile)
					continue
				}

				stmt := builder.Upload(e, merged, publishDate)
				if err := stmt.Validate(); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				if _, err := store.ExecUpdate(ctx, stmt.Query, stmt.Args...); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				l.Info("reconciled entity", zap.String("entity", id))
			}

			fmt.Printf("reconciled %d of %d entities\n", changed, len(selected))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&overridesPath, "overrides", "", "Path to JSON override file keyed by entity id")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Entity id globs to include (default all)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Entity id globs to exclude")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print planned updates without writing")

	return cmd
}
