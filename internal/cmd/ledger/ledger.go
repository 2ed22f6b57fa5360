package ledger

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mosaicgis/cartographer/internal/config"
	"github.com/mosaicgis/cartographer/internal/ledger"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "ledger",
		Short: "Inspects per-layer run ledgers",
	}
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newShowCommand() *cobra.Command {
	var (
		configPath string
		layer      string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Prints a layer's ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewCartographerFromFile(configPath)
			if err != nil {
				return err
			}

			l := ledger.New(c.Pipeline.LedgerDir, layer)
			rows, err := l.Load()
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Printf("no ledger at %s\n", l.Path())
				return nil
			}

			fmt.Printf("%-20s %-20s %-12s %-10s %-10s %-10s %s\n",
				"county", "city", "data_date", "download", "processing", "upload", "timestamp")
			for _, r := range rows {
				fmt.Printf("%-20s %-20s %-12s %-10s %-10s %-10s %s\n",
					r.County, r.City, r.DataDate, r.Download, r.Processing, r.Upload, r.Timestamp)
				if r.Error != "" {
					fmt.Printf("    error: %s\n", r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.MarkFlagRequired("config")
	cmd.Flags().StringVar(&layer, "layer", "", "Layer name")
	cmd.MarkFlagRequired("layer")

	return cmd
}
