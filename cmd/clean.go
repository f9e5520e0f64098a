package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Spalmalo/parallel-download/internal/output"
	"github.com/Spalmalo/parallel-download/internal/utils"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [dir]",
		Short: "Remove part files left by interrupted downloads",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := cfg.OutputDir
			if len(args) == 1 {
				dir = args[0]
			}
			removed, err := utils.Clean(dir)
			for _, name := range removed {
				output.PrintInfo(fmt.Sprintf("Removed %s", name))
			}
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			if len(removed) == 0 {
				output.PrintWarning(fmt.Sprintf("Nothing to clean in %s", dir))
				return
			}
			output.PrintSuccess(fmt.Sprintf("Cleaned %d file(s) in %s", len(removed), dir))
		},
	}
}
