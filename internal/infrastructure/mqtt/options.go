package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds a connection attempt when the config
	// carries no timeout.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish
	// acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations
	// on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive applies when the config carries no keepalive.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Will describes the Last Will and Testament registered with the broker.
// The broker publishes it when the session drops without a clean
// disconnect, so peers can observe the node going offline even when the
// node itself cannot say goodbye.
type Will struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// buildClientOptions creates paho options from node config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID, credentials, clean session
//   - Keepalive and per-attempt connect timeout
//   - TLS configuration (if enabled)
//
// Auto-reconnect and connect-retry are switched off: a failed or dropped
// connection is reported once and the client waits for an explicit
// Reconnect call. The retry schedule belongs to the caller.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))

	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Start fresh on connect; no persistent session on the broker.
	opts.SetCleanSession(true)

	// One attempt per Connect/Reconnect call. internal/resilience
	// schedules retries.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	opts.SetConnectTimeout(connectTimeout(cfg))

	keepalive := cfg.Keepalive()
	if keepalive <= 0 {
		keepalive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepalive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureWill registers the caller-supplied LWT on the options.
func configureWill(opts *pahomqtt.ClientOptions, will *Will) {
	if will == nil || will.Topic == "" {
		return
	}
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)
}

// connectTimeout returns the configured per-attempt timeout, or the
// default when unset.
func connectTimeout(cfg config.MQTTConfig) time.Duration {
	if d := cfg.ConnectTimeout(); d > 0 {
		return d
	}
	return defaultConnectTimeout
}
