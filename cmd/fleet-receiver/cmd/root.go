package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/fleet-commander/internal/service/receiver"
	"github.com/oshokin/fleet-commander/internal/version"
)

var (
	// configPath is the optional path to the device configuration file.
	configPath string
	// subscribeBroadcast additionally subscribes to the broadcast topic.
	subscribeBroadcast bool

	// rootCmd represents the base command for the device-side receiver.
	rootCmd = &cobra.Command{
		Use:   "fleet-receiver",
		Short: "Receive and execute fleet commands on this device",
		Long: `Device-side daemon of the fleet command channel.

Subscribes to this device's command topic over mutual TLS and processes
incoming JSON command messages. An update command downloads the named
artifact into a private working directory, runs the supplied shell command
against it, and removes the directory regardless of the outcome.

The device identity, broker endpoint and TLS materials are read from the
device configuration file; candidate locations are probed when no explicit
path is given.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &receiver.Options{
				ConfigPath:         configPath,
				SubscribeBroadcast: subscribeBroadcast,
			}

			return receiver.Run(ctx, options)
		},
	}
)

// Execute runs the fleet-receiver CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to device configuration file")
	rootCmd.Flags().BoolVarP(&subscribeBroadcast, "broadcast", "b", false, "also subscribe to the broadcast topic")
}
