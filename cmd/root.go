package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Spalmalo/parallel-download/internal/config"
	"github.com/Spalmalo/parallel-download/internal/utils"
)

var (
	cfgFile string
	cfg     *config.Config
)

var PDLVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "pdl",
	Short:   "pdl downloads a file over HTTP in parallel byte-range chunks",
	Version: PDLVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		cfg = loaded
		utils.InitLogger(cfg.Debug)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM so running jobs clean up
// their partial files before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./pdl.yaml or ~/.config/pdl/pdl.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newCleanCmd())
}
