// Command patchlab drives the adversarial-patch pipeline: it submits
// entry-point runs, inspects the run ledger and serves the HTTP API.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if err := newRootCmd(logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "patchlab",
		Short:         "Adversarial patch experiment pipeline",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newRunCmd(logger, &configPath),
		newRunsCmd(&configPath),
		newServeCmd(logger, &configPath),
	)
	return root
}
