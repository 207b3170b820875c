package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Recognized action values. Anything else is accepted syntactically and
// dropped by the receiver with an informational log line.
const (
	// ActionUpdate instructs a device to download an artifact and run a command.
	ActionUpdate = "update"
	// ActionPing has no behavior beyond an acknowledgment in the receiver log.
	ActionPing = "ping"
)

// BroadcastTopic is the shared channel all devices may additionally subscribe to.
const BroadcastTopic = "devices/all/commands"

var (
	// ErrEmptyAction is returned when a message carries no action.
	ErrEmptyAction = errors.New("message action must be provided")
	// ErrIncompleteUpdate is returned when an update message misses a required field.
	ErrIncompleteUpdate = errors.New("update message requires url, filename and command")
	// errEmptyDeviceID is returned when a topic is requested for an empty device id.
	errEmptyDeviceID = errors.New("device id must be provided")
)

// Message is the wire entity published on command topics.
type Message struct {
	// Action selects the behavior on the receiving device.
	Action string `json:"action"`
	// URL is the artifact source location. Required for update.
	URL string `json:"url,omitempty"`
	// Filename is the local name for the downloaded artifact. Required for update.
	Filename string `json:"filename,omitempty"`
	// Command is the shell command line executed after download. Required for update.
	Command string `json:"command,omitempty"`
}

// Parse decodes a raw payload into a Message without validating completeness.
// Callers decide whether an incomplete message is an error for their action.
func Parse(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("decode command message: %w", err)
	}

	return &msg, nil
}

// Validate enforces the message completeness invariant: an update must carry
// url, filename and command. Other actions only need a non-empty action.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Action) == "" {
		return ErrEmptyAction
	}

	if m.Action != ActionUpdate {
		return nil
	}

	if m.URL == "" || m.Filename == "" || m.Command == "" {
		return ErrIncompleteUpdate
	}

	return nil
}

// IsUpdate reports whether the message requests the artifact update workflow.
func (m *Message) IsUpdate() bool {
	return m.Action == ActionUpdate
}

// Encode serializes the message for publishing.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode command message: %w", err)
	}

	return data, nil
}

// TopicForDevice derives the per-device command topic.
// The device id is opaque; only non-emptiness is enforced.
func TopicForDevice(deviceID string) (string, error) {
	if strings.TrimSpace(deviceID) == "" {
		return "", errEmptyDeviceID
	}

	return fmt.Sprintf("devices/%s/commands", deviceID), nil
}
