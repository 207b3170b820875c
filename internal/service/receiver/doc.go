// Package receiver implements the device-side command channel: a durable
// subscription to the device's command topic, JSON message dispatch, and the
// hand-off to the artifact update workflow.
package receiver
