package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/fleet-commander/internal/config"
	"github.com/oshokin/fleet-commander/internal/domain/command"
)

var errPublishRefused = errors.New("publish refused")

// fakePublisher records publishes and fails for configured topics.
type fakePublisher struct {
	// topics stores every topic a publish was attempted on, in order.
	topics []string
	// failOn marks topics whose publish fails.
	failOn map[string]bool
}

// Publish records the attempt and fails when the topic is marked.
func (f *fakePublisher) Publish(_ context.Context, topic string, _ []byte) error {
	f.topics = append(f.topics, topic)

	if f.failOn[topic] {
		return errPublishRefused
	}

	return nil
}

// updateMessage returns a complete update message for batch tests.
func updateMessage() *command.Message {
	return &command.Message{
		Action:   command.ActionUpdate,
		URL:      "https://example.com/a.bin",
		Filename: "a.bin",
		Command:  "echo done",
	}
}

// TestPublishBatch_FailureDoesNotAbortBatch attempts all targets plus the
// broadcast even when one targeted publish fails: 3 devices + broadcast = 4.
func TestPublishBatch_FailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{
		failOn: map[string]bool{"devices/dev-2/commands": true},
	}

	opts := &Options{
		DeviceIDs:        []string{"dev-1", "dev-2", "dev-3"},
		BroadcastEnabled: true,
		PublishDelay:     time.Millisecond,
		Message:          updateMessage(),
	}

	attempted, failed := publishBatch(context.Background(), pub, opts)

	require.Equal(t, 4, attempted)
	require.Equal(t, 1, failed)
	require.Equal(t, []string{
		"devices/dev-1/commands",
		"devices/dev-2/commands",
		"devices/dev-3/commands",
		"devices/all/commands",
	}, pub.topics)
}

// TestPublishBatch_InvalidTargetSkipped counts an empty device id as a
// failure without attempting a publish for it.
func TestPublishBatch_InvalidTargetSkipped(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}

	opts := &Options{
		DeviceIDs:    []string{"", "dev-1"},
		PublishDelay: time.Millisecond,
		Message:      updateMessage(),
	}

	attempted, failed := publishBatch(context.Background(), pub, opts)

	require.Equal(t, 1, attempted)
	require.Equal(t, 1, failed)
	require.Equal(t, []string{"devices/dev-1/commands"}, pub.topics)
}

// TestPublishBatch_CanceledContextStopsEarly stops between publishes once the
// context is canceled.
func TestPublishBatch_CanceledContextStopsEarly(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := &Options{
		DeviceIDs:    []string{"dev-1", "dev-2"},
		PublishDelay: time.Millisecond,
		Message:      updateMessage(),
	}

	attempted, _ := publishBatch(ctx, pub, opts)

	require.Equal(t, 1, attempted, "only the first publish runs before the delay observes cancellation")
}

// TestResolveEndpoint prefers override, then config, then discovery.
func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Endpoint: "config-endpoint", Region: "eu-west-1"}
	disc := &fakeDiscoverer{endpoint: "discovered-endpoint"}

	// Override wins.
	endpoint, err := resolveEndpoint(context.Background(),
		&Options{EndpointOverride: "override-endpoint"}, cfg, disc)
	require.NoError(t, err)
	require.Equal(t, "override-endpoint", endpoint)

	// Config next.
	endpoint, err = resolveEndpoint(context.Background(), &Options{}, cfg, disc)
	require.NoError(t, err)
	require.Equal(t, "config-endpoint", endpoint)

	// Discovery last, fed with the options region over the config region.
	endpoint, err = resolveEndpoint(context.Background(),
		&Options{Region: "us-east-1"}, &config.Config{}, disc)
	require.NoError(t, err)
	require.Equal(t, "discovered-endpoint", endpoint)
	require.Equal(t, "us-east-1", disc.lastRegion)

	// Discovery failure is fatal for the batch.
	_, err = resolveEndpoint(context.Background(), &Options{}, &config.Config{},
		&fakeDiscoverer{err: errPublishRefused})
	require.Error(t, err)
}

// fakeDiscoverer returns a fixed endpoint or error.
type fakeDiscoverer struct {
	endpoint   string
	err        error
	lastRegion string
}

// DiscoverEndpoint records the region and returns the configured result.
func (f *fakeDiscoverer) DiscoverEndpoint(_ context.Context, region string) (string, error) {
	f.lastRegion = region

	return f.endpoint, f.err
}

// TestRun_RejectsEmptyBatches validates message and target presence before
// any network work.
func TestRun_RejectsEmptyBatches(t *testing.T) {
	t.Parallel()

	// No message.
	require.Error(t, Run(context.Background(), &Options{DeviceIDs: []string{"dev-1"}}))

	// Incomplete update message.
	err := Run(context.Background(), &Options{
		DeviceIDs: []string{"dev-1"},
		Message:   &command.Message{Action: command.ActionUpdate},
	})
	require.ErrorIs(t, err, command.ErrIncompleteUpdate)

	// No targets at all.
	require.Error(t, Run(context.Background(), &Options{Message: updateMessage()}))
}
