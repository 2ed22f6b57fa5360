package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mosaicgis/cartographer/internal/cmd/ledger"
	"github.com/mosaicgis/cartographer/internal/cmd/pipeline"
	"github.com/mosaicgis/cartographer/internal/cmd/reconcile"
	"github.com/mosaicgis/cartographer/internal/cmd/urls"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "cartographer",
		Short: "Keeps geospatial catalog layers fresh",
		Long:  `cartographer runs the download, metadata, processing, and upload pipeline for geospatial catalog entities.`,
	}

	cmd.AddCommand(pipeline.NewCommand())
	cmd.AddCommand(urls.NewCommand())
	cmd.AddCommand(ledger.NewCommand())
	cmd.AddCommand(reconcile.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
