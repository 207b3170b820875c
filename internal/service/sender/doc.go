// Package sender implements the operator-side command publisher: one batch
// per invocation, publishing a command message to each targeted device topic
// and optionally to the broadcast topic.
package sender
