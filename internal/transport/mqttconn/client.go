package mqttconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/fleet-commander/internal/logger"
)

// Config describes a broker connection with mutual TLS.
type Config struct {
	// Endpoint is the broker hostname.
	Endpoint string
	// Port is the TLS MQTT port.
	Port int
	// ClientID identifies this connection to the broker.
	ClientID string
	// RootCAPath, CertificatePath and PrivateKeyPath locate the TLS materials.
	RootCAPath      string
	CertificatePath string
	PrivateKeyPath  string
}

// MessageHandler consumes one inbound message from a subscribed topic.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Subscription pairs a topic with its handler. Subscriptions registered at
// dial time are re-established on every successful (re)connect.
type Subscription struct {
	Topic   string
	Handler MessageHandler
}

// Client wraps the underlying MQTT client with bounded-wait operations.
type Client struct {
	// raw is the underlying MQTT client.
	raw mqtt.Client
	// ctx is the lifecycle context used for logging in transport callbacks.
	ctx context.Context
	// opTimeout bounds waits on publish and subscribe tokens.
	opTimeout time.Duration
	// subscriptions are re-applied from the OnConnect hook.
	subscriptions []Subscription
}

// Option configures client behaviour.
type Option func(*Client)

// WithSubscription registers a subscription established on every connect.
func WithSubscription(topic string, handler MessageHandler) Option {
	return func(c *Client) {
		c.subscriptions = append(c.subscriptions, Subscription{Topic: topic, Handler: handler})
	}
}

// WithOperationTimeout bounds waits on publish and subscribe acknowledgments.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.opTimeout = timeout
		}
	}
}

const (
	// DefaultOperationTimeout bounds publish and subscribe token waits.
	DefaultOperationTimeout = 10 * time.Second

	// connectTimeout bounds the initial connect handshake.
	connectTimeout = 30 * time.Second

	// Reconnect backoff bounds after a transport-level disconnect.
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 60 * time.Second

	// qosAtLeastOnce is used for all publishes and subscriptions.
	qosAtLeastOnce byte = 1
)

var (
	// errEndpointRequired is returned when no broker endpoint is available.
	errEndpointRequired = errors.New("broker endpoint must be provided")
	// errConnectTimeout is returned when the connect handshake does not finish in time.
	errConnectTimeout = errors.New("timed out connecting to broker")
	// errOperationTimeout is returned when a token wait expires.
	errOperationTimeout = errors.New("timed out waiting for broker acknowledgment")
)

// Dial establishes a mutual-TLS connection to the broker and applies the
// registered subscriptions. The connection reconnects automatically after
// transport-level disconnects and resubscribes on every successful connect.
func Dial(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errEndpointRequired
	}

	client := &Client{
		ctx:       ctx,
		opTimeout: DefaultOperationTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	tlsConfig, err := newTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	options := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tls://%s:%d", cfg.Endpoint, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetTLSConfig(tlsConfig).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(maxReconnectDelay).
		SetConnectRetryInterval(minReconnectDelay).
		SetOrderMatters(true).
		SetOnConnectHandler(client.onConnect).
		SetConnectionLostHandler(client.onConnectionLost)

	client.raw = mqtt.NewClient(options)

	token := client.raw.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, errConnectTimeout
	}

	if err = token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s:%d: %w", cfg.Endpoint, cfg.Port, err)
	}

	logger.InfoKV(ctx, "Connected to broker", "endpoint", cfg.Endpoint, "port", cfg.Port, "client_id", cfg.ClientID)

	return client, nil
}

// Publish sends a payload to the topic and waits for the broker acknowledgment.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	token := c.raw.Publish(topic, qosAtLeastOnce, false, payload)

	if err := c.waitToken(ctx, token); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	return nil
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (c *Client) Close() {
	if c == nil || c.raw == nil {
		return
	}

	const disconnectQuiesceMs = 250

	c.raw.Disconnect(disconnectQuiesceMs)
}

// onConnect re-establishes all registered subscriptions. It runs on the first
// connect and after every automatic reconnect, so a transient disconnect
// always ends with the subscriptions restored.
func (c *Client) onConnect(raw mqtt.Client) {
	for _, sub := range c.subscriptions {
		token := raw.Subscribe(sub.Topic, qosAtLeastOnce, func(_ mqtt.Client, msg mqtt.Message) {
			sub.Handler(c.ctx, msg.Topic(), msg.Payload())
		})

		if err := c.waitToken(c.ctx, token); err != nil {
			logger.ErrorKV(c.ctx, "Subscribe failed", "topic", sub.Topic, "error", err)
			continue
		}

		logger.InfoKV(c.ctx, "Subscribed to topic", "topic", sub.Topic)
	}
}

// onConnectionLost logs the disconnect; the client reconnects on its own.
func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	logger.WarnKV(c.ctx, "Connection to broker lost, reconnecting", "error", err)
}

// waitToken waits for a token with the operation timeout, honoring context
// cancellation.
func (c *Client) waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(c.opTimeout):
		return errOperationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newTLSConfig builds a mutual-TLS configuration from the material paths.
func newTLSConfig(cfg *Config) (*tls.Config, error) {
	rootCA, err := os.ReadFile(filepath.Clean(cfg.RootCAPath))
	if err != nil {
		return nil, fmt.Errorf("read root CA: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(rootCA) {
		return nil, fmt.Errorf("parse root CA %s: %w", cfg.RootCAPath, errInvalidRootCA)
	}

	certificate, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// errInvalidRootCA is returned when the root CA file contains no certificates.
var errInvalidRootCA = errors.New("no certificates found in root CA file")
