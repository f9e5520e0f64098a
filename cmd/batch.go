package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pdlhttp "github.com/Spalmalo/parallel-download/internal/downloaders/http"
	"github.com/Spalmalo/parallel-download/internal/output"
	"github.com/Spalmalo/parallel-download/internal/scheduler"
	"github.com/Spalmalo/parallel-download/internal/utils"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := readDownloadList(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			reqs, err := buildRequests(entries)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			output.PrintHeader(fmt.Sprintf("Downloading %d files with %d workers", len(reqs), cfg.Workers))
			ctx, stop := signalContext()
			defer stop()
			results := scheduler.Run(ctx, reqs, cfg.Workers, &pdlhttp.HTTPDownloader{}, output.NewManager())
			if !scheduler.AllSucceeded(results) {
				stop()
				os.Exit(1)
			}
		},
	}
	return cmd
}

func readDownloadList(filePath string) ([]utils.DownloadEntry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var entries []utils.DownloadEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no entries found in %s", filePath)
	}
	for i, entry := range entries {
		if entry.URL == "" {
			return nil, fmt.Errorf("missing link for entry %d", i+1)
		}
	}
	return entries, nil
}

func buildRequests(entries []utils.DownloadEntry) ([]utils.JobRequest, error) {
	reqs := make([]utils.JobRequest, 0, len(entries))
	for i, entry := range entries {
		req, err := cfg.JobRequest(entry.URL, entry.Dir, entry.Name, entry.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
