package cmd

import (
	"os"

	"github.com/spf13/cobra"

	pdlhttp "github.com/Spalmalo/parallel-download/internal/downloaders/http"
	"github.com/Spalmalo/parallel-download/internal/output"
	"github.com/Spalmalo/parallel-download/internal/scheduler"
	"github.com/Spalmalo/parallel-download/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var fileName string

	cmd := &cobra.Command{
		Use:     "get [URL] [--output-dir DIR] [--name FILE]",
		Aliases: []string{"http"},
		Short:   "Download one file via HTTP/HTTPS in parallel chunks",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req, err := cfg.JobRequest(args[0], "", fileName, "")
			if err != nil {
				output.PrintError(err.Error())
				os.Exit(1)
			}
			ctx, stop := signalContext()
			defer stop()
			results := scheduler.Run(ctx, []utils.JobRequest{req}, 1, &pdlhttp.HTTPDownloader{}, output.NewManager())
			if !scheduler.AllSucceeded(results) {
				stop()
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVarP(&fileName, "name", "n", "", "Output file name (derived from the server or URL if empty)")
	return cmd
}
