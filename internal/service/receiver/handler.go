package receiver

import (
	"context"

	"github.com/oshokin/fleet-commander/internal/domain/command"
	"github.com/oshokin/fleet-commander/internal/logger"
)

// UpdateRunner runs the artifact update workflow for one message.
type UpdateRunner interface {
	Run(ctx context.Context, msg *command.Message) error
}

// Handler interprets inbound command messages. It is transport-free so the
// dispatch logic can be tested without a broker.
type Handler struct {
	// deviceID is this device's identity, used in log lines.
	deviceID string
	// updates executes update messages.
	updates UpdateRunner
}

// NewHandler builds a message handler around the given workflow.
func NewHandler(deviceID string, updates UpdateRunner) *Handler {
	return &Handler{
		deviceID: deviceID,
		updates:  updates,
	}
}

// HandleMessage parses one inbound payload and dispatches by action.
// Nothing here may terminate the process: malformed or incomplete messages
// are logged and dropped, workflow failures are logged and absorbed, and the
// receiver stays subscribed for the next message. Messages are handled
// synchronously, one at a time, in arrival order.
func (h *Handler) HandleMessage(ctx context.Context, topic string, payload []byte) {
	msg, err := command.Parse(payload)
	if err != nil {
		logger.ErrorKV(ctx, "Dropping malformed message", "topic", topic, "error", err)
		return
	}

	logger.InfoKV(ctx, "Message received", "topic", topic, "action", msg.Action)

	if err = msg.Validate(); err != nil {
		logger.ErrorKV(ctx, "Dropping invalid message", "topic", topic, "action", msg.Action, "error", err)
		return
	}

	switch msg.Action {
	case command.ActionUpdate:
		// The workflow logs its own progress and failure detail; the receiver
		// only records the outcome and moves on.
		if err = h.updates.Run(ctx, msg); err != nil {
			logger.ErrorKV(ctx, "Update workflow failed", "topic", topic, "error", err)
			return
		}

		logger.InfoKV(ctx, "Update workflow succeeded", "topic", topic)
	case command.ActionPing:
		logger.InfoKV(ctx, "Ping acknowledged", "device_id", h.deviceID)
	default:
		logger.InfoKV(ctx, "Ignoring unrecognized action", "action", msg.Action)
	}
}
