package pipeline

import (
	"github.com/spf13/cobra"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "pipeline",
		Short: "Runs the entity refresh pipeline",
	}
	cmd.AddCommand(newRunCommand())
	return cmd
}
