package receiver

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/fleet-commander/internal/config"
	"github.com/oshokin/fleet-commander/internal/domain/command"
	"github.com/oshokin/fleet-commander/internal/logger"
	"github.com/oshokin/fleet-commander/internal/service/updater"
	"github.com/oshokin/fleet-commander/internal/transport/mqttconn"
)

// Options controls the receiver process and configuration.
type Options struct {
	// ConfigPath is the optional path to the device config file.
	ConfigPath string
	// SubscribeBroadcast additionally subscribes to the shared broadcast topic.
	SubscribeBroadcast bool
	// SkipInstanceGuard disables the duplicate-instance check.
	SkipInstanceGuard bool
}

// errNoEndpoint indicates the config provides no broker endpoint.
var errNoEndpoint = errors.New("no broker endpoint configured")

// Run subscribes to this device's command topic and processes messages until
// the context is canceled. Startup failures (config, connect) are fatal and
// returned; everything after a successful subscribe is recovered locally.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "fleet-receiver")

	if !opts.SkipInstanceGuard {
		release, err := acquireInstanceLock(ctx)
		if err != nil {
			return err
		}

		defer release()
	}

	// Load device configuration through candidate path discovery.
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.Endpoint == "" {
		return errNoEndpoint
	}

	topic, err := command.TopicForDevice(cfg.DeviceID)
	if err != nil {
		return err
	}

	handler := NewHandler(cfg.DeviceID, updater.NewWorkflow())

	subscriptions := []mqttconn.Option{
		mqttconn.WithSubscription(topic, handler.HandleMessage),
	}

	if opts.SubscribeBroadcast {
		subscriptions = append(subscriptions,
			mqttconn.WithSubscription(command.BroadcastTopic, handler.HandleMessage))
	}

	// Connect over mutual TLS; subscriptions are re-established by the
	// transport after every reconnect.
	client, err := mqttconn.Dial(ctx, &mqttconn.Config{
		Endpoint:        cfg.Endpoint,
		Port:            cfg.Port,
		ClientID:        cfg.DeviceID,
		RootCAPath:      cfg.RootCAPath,
		CertificatePath: cfg.CertificatePath,
		PrivateKeyPath:  cfg.PrivateKeyPath,
	}, subscriptions...)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	defer client.Close()

	logger.InfoKV(ctx, "Receiver running", "device_id", cfg.DeviceID, "topic", topic, "broadcast", opts.SubscribeBroadcast)

	<-ctx.Done()

	logger.Info(ctx, "Context canceled, shutting down receiver")

	return nil
}
