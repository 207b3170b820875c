// Package config locates and reads the device configuration file used by the
// fleet binaries and provides helpers to resolve candidate locations.
//
// The file follows the Greengrass nucleus layout: device identity and TLS
// material paths under `system`, broker endpoint and region under the nucleus
// service configuration.
package config
