package urls

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mosaicgis/cartographer/internal/config"
	"github.com/mosaicgis/cartographer/internal/selector"
	"github.com/mosaicgis/cartographer/internal/urlcheck"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "urls",
		Short: "Validates catalog source URLs",
	}
	cmd.AddCommand(newCheckCommand())
	return cmd
}

func newCheckCommand() *cobra.Command {
	var (
		configPath  string
		include     []string
		exclude     []string
		concurrency int
		onlyBroken  bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probes the source URL of each selected entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("cartographer.urls")

			c, err := config.NewCartographerFromFile(configPath)
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

			urlsByEntity := make(map[string]string, len(selected))
			var all []string
			for _, id := range selected {
				if src := entities[id].SourceIdentifier(); src != "" {
					urlsByEntity[id] = src
					all = append(all, src)
				}
			}

			checker := urlcheck.New(
				urlcheck.WithLogger(l),
				urlcheck.WithConcurrency(concurrency),
			)
			results, err := checker.CheckAll(ctx, all)
			if err != nil {
				return err
			}

			sort.Strings(selected)
			broken := 0
			for _, id := range selected {
				src, ok := urlsByEntity[id]
				if !ok {
					fmt.Printf("%-60s MISSING no source URL\n", id)
					broken++
					continue
				}
				r := results[src]
				if r.OK {
					if !onlyBroken {
						fmt.Printf("%-60s OK\n", id)
					}
					continue
				}
				broken++
				fmt.Printf("%-60s %s %s\n", id, r.Reason, r.Detail)
			}
			if broken > 0 {
				return fmt.Errorf("%d of %d entities have broken source URLs", broken, len(selected))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringSliceVar(&include, "include", nil, "Entity id globs to include (default all)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Entity id globs to exclude")
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "Concurrent URL probes")
	cmd.Flags().BoolVar(&onlyBroken, "only-broken", false, "Print only failing entities")

	return cmd
}
