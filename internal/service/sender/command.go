package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/fleet-commander/internal/config"
	"github.com/oshokin/fleet-commander/internal/discovery"
	"github.com/oshokin/fleet-commander/internal/domain/command"
	"github.com/oshokin/fleet-commander/internal/logger"
	"github.com/oshokin/fleet-commander/internal/service/common"
	"github.com/oshokin/fleet-commander/internal/transport/mqttconn"
)

// Options is the explicit configuration for one command batch.
type Options struct {
	// ConfigPath is the optional path to the config file with TLS materials.
	ConfigPath string
	// DeviceIDs are the targeted devices, one publish per entry.
	DeviceIDs []string
	// Region is used for endpoint discovery when no endpoint is available.
	Region string
	// BroadcastEnabled adds one publish to the shared broadcast topic.
	BroadcastEnabled bool
	// EndpointOverride skips config and discovery when set.
	EndpointOverride string
	// PublishDelay is the fixed pause between successive publishes.
	PublishDelay time.Duration
	// Message is the command published to every target.
	Message *command.Message
}

// DefaultPublishDelay is the fixed pause between successive publishes, sized
// to avoid hammering the broker, not as an adaptive backoff.
const DefaultPublishDelay = 200 * time.Millisecond

var (
	// errNoMessage is returned when the batch carries no message.
	errNoMessage = errors.New("a command message must be provided")
	// errNoTargets is returned when neither device ids nor broadcast are requested.
	errNoTargets = errors.New("at least one device id or broadcast must be requested")
)

// publisher is the narrow transport surface the batch loop needs, so tests
// can run the loop against a fake.
type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Run publishes the command to every target. Config, discovery and connect
// failures are fatal; a publish failure for one target is logged and the
// remaining targets are still attempted.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "fleet-sender")

	if opts.Message == nil {
		return errNoMessage
	}

	if err := opts.Message.Validate(); err != nil {
		return fmt.Errorf("validate message: %w", err)
	}

	if len(opts.DeviceIDs) == 0 && !opts.BroadcastEnabled {
		return errNoTargets
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Record who issued the batch for the audit trail.
	actor, err := common.DetectActor()
	if err != nil {
		return fmt.Errorf("detect actor: %w", err)
	}

	logger.InfoKV(ctx, "Command batch issued",
		"hostname", actor.Hostname,
		"username", actor.Username,
		"action", opts.Message.Action,
		"targets", len(opts.DeviceIDs),
		"broadcast", opts.BroadcastEnabled)

	endpoint, err := resolveEndpoint(ctx, opts, cfg, discovery.NewIoTDiscoverer())
	if err != nil {
		return fmt.Errorf("resolve endpoint: %w", err)
	}

	client, err := mqttconn.Dial(ctx, &mqttconn.Config{
		Endpoint:        endpoint,
		Port:            cfg.Port,
		ClientID:        "fleet-sender-" + uuid.NewString(),
		RootCAPath:      cfg.RootCAPath,
		CertificatePath: cfg.CertificatePath,
		PrivateKeyPath:  cfg.PrivateKeyPath,
	})
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	defer client.Close()

	attempted, failed := publishBatch(ctx, client, opts)

	logger.InfoKV(ctx, "Command batch finished", "attempted", attempted, "failed", failed)

	return nil
}

// resolveEndpoint picks the broker endpoint: explicit override, then the
// configured endpoint, then control-plane discovery. Discovery failure is
// fatal; the batch cannot proceed without an endpoint.
func resolveEndpoint(
	ctx context.Context,
	opts *Options,
	cfg *config.Config,
	discoverer discovery.Discoverer,
) (string, error) {
	if opts.EndpointOverride != "" {
		return opts.EndpointOverride, nil
	}

	if cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}

	region := opts.Region
	if region == "" {
		region = cfg.Region
	}

	return discoverer.DiscoverEndpoint(ctx, region)
}

// publishBatch publishes the message to each device topic and optionally to
// the broadcast topic, pausing between publishes. Per-target failures are
// logged and counted but never abort the loop; only context cancellation
// stops the batch early.
func publishBatch(ctx context.Context, pub publisher, opts *Options) (attempted, failed int) {
	payload, err := opts.Message.Encode()
	if err != nil {
		// Validate ran before the batch; an encode failure here is a bug.
		logger.ErrorKV(ctx, "Could not encode message", "error", err)

		return 0, 0
	}

	delay := opts.PublishDelay
	if delay <= 0 {
		delay = DefaultPublishDelay
	}

	publishOne := func(topic string) {
		attempted++

		if err := pub.Publish(ctx, topic, payload); err != nil {
			failed++

			logger.ErrorKV(ctx, "Publish failed", "topic", topic, "error", err)

			return
		}

		logger.InfoKV(ctx, "Published command", "topic", topic)
	}

	for i, deviceID := range opts.DeviceIDs {
		topic, topicErr := command.TopicForDevice(deviceID)
		if topicErr != nil {
			failed++

			logger.ErrorKV(ctx, "Skipping invalid target", "device_id", deviceID, "error", topicErr)

			continue
		}

		if i > 0 {
			if waitErr := waitBetweenPublishes(ctx, delay); waitErr != nil {
				logger.Info(ctx, "Context canceled, stopping batch")

				return attempted, failed
			}
		}

		publishOne(topic)
	}

	if opts.BroadcastEnabled {
		if len(opts.DeviceIDs) > 0 {
			if waitErr := waitBetweenPublishes(ctx, delay); waitErr != nil {
				logger.Info(ctx, "Context canceled, stopping batch")

				return attempted, failed
			}
		}

		publishOne(command.BroadcastTopic)
	}

	return attempted, failed
}

// waitBetweenPublishes pauses for the fixed inter-publish delay, returning
// early when the context is canceled.
func waitBetweenPublishes(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
