// Package command defines the JSON command message exchanged over the broker
// and the topic naming scheme for per-device and broadcast channels.
package command
