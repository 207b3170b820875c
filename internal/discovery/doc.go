// Package discovery resolves the broker endpoint through the cloud control
// plane when no endpoint is configured explicitly.
package discovery
