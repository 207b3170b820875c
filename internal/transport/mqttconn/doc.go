// Package mqttconn wraps the MQTT client with the connection policy shared by
// the fleet binaries: mutual TLS, QoS 1, bounded token waits, automatic
// reconnection with resubscription on every successful connect.
package mqttconn
