package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/fleet-commander/internal/domain/command"
	"github.com/oshokin/fleet-commander/internal/service/sender"
	"github.com/oshokin/fleet-commander/internal/version"
)

var (
	// configPath is the optional path to the configuration file.
	configPath string
	// deviceIDs are the targeted devices.
	deviceIDs []string
	// region selects the discovery region when no endpoint is available.
	region string
	// broadcastEnabled adds a publish to the broadcast topic.
	broadcastEnabled bool
	// endpointOverride skips config and discovery when set.
	endpointOverride string
	// publishDelay is the pause between successive publishes.
	publishDelay time.Duration

	// Update command payload fields.
	updateURL      string
	updateFilename string
	updateCommand  string
	// action overrides the message action for non-update commands.
	action string

	// rootCmd represents the base command for publishing fleet commands.
	rootCmd = &cobra.Command{
		Use:   "fleet-sender",
		Short: "Publish a command to fleet devices",
		Long: `Operator-side publisher of the fleet command channel.

Publishes one JSON command message to the command topic of each targeted
device, with a fixed pause between publishes, and optionally to the shared
broadcast topic. A publish failure for one device does not stop the batch.

The broker endpoint is taken from the --endpoint flag, the configuration
file, or control-plane discovery for the region, in that order.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &sender.Options{
				ConfigPath:       configPath,
				DeviceIDs:        deviceIDs,
				Region:           region,
				BroadcastEnabled: broadcastEnabled,
				EndpointOverride: endpointOverride,
				PublishDelay:     publishDelay,
				Message: &command.Message{
					Action:   action,
					URL:      updateURL,
					Filename: updateFilename,
					Command:  updateCommand,
				},
			}

			return sender.Run(ctx, options)
		},
	}
)

// Execute runs the fleet-sender CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringSliceVarP(&deviceIDs, "device", "d", nil, "target device id (repeatable)")
	rootCmd.Flags().StringVarP(&region, "region", "r", "", "cloud region for endpoint discovery")
	rootCmd.Flags().BoolVarP(&broadcastEnabled, "broadcast", "b", false, "also publish to the broadcast topic")
	rootCmd.Flags().StringVarP(&endpointOverride, "endpoint", "e", "", "broker endpoint, skips discovery")
	rootCmd.Flags().DurationVar(&publishDelay, "publish-delay", sender.DefaultPublishDelay, "pause between publishes")

	rootCmd.Flags().StringVarP(&action, "action", "a", command.ActionUpdate, "message action")
	rootCmd.Flags().StringVarP(&updateURL, "url", "u", "", "artifact URL for an update command")
	rootCmd.Flags().StringVarP(&updateFilename, "filename", "f", "", "local artifact filename for an update command")
	rootCmd.Flags().StringVarP(&updateCommand, "command", "x", "", "shell command to run after download")
}
