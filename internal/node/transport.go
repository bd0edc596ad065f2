package node

import (
	"context"
	"net"
	"sync"

	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
	"github.com/kaiser-home/nodecore/internal/infrastructure/mqtt"
)

// Transport is the agent's view of the broker session. MQTTTransport is
// the production implementation; tests substitute a fake so the loop can
// be driven without a broker.
type Transport interface {
	// Connect makes a single connection attempt. The agent schedules
	// attempts through its backoff manager, so implementations must not
	// retry internally.
	Connect() error

	// IsConnected reports whether a session is currently up.
	IsConnected() bool

	// Publish sends one message on the current session.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic filter and keeps the
	// registration across reconnects.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// SetOnDisconnect registers a callback for session loss. The callback
	// runs on the transport's goroutine.
	SetOnDisconnect(fn func(error))

	// Close tears the session down.
	Close() error
}

// MQTTTransport runs the broker session over the mqtt client.
//
// The client only exists after a successful connect, so early attempts
// dial fresh each time; once a session has been established, later
// attempts go through the client's own reconnect path, which also restores
// subscriptions.
type MQTTTransport struct {
	cfg    config.MQTTConfig
	will   *mqtt.Will
	logger mqtt.Logger

	mu           sync.Mutex
	client       *mqtt.Client
	onDisconnect func(error)
}

// NewMQTTTransport prepares a transport for the given broker settings. The
// will, when non-nil, is registered with the broker on every connect.
func NewMQTTTransport(cfg config.MQTTConfig, will *mqtt.Will, logger mqtt.Logger) *MQTTTransport {
	return &MQTTTransport{cfg: cfg, will: will, logger: logger}
}

// Connect makes one connection attempt.
func (t *MQTTTransport) Connect() error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client != nil {
		return client.Reconnect()
	}

	client, err := mqtt.Connect(t.cfg, t.will)
	if err != nil {
		return err
	}
	if t.logger != nil {
		client.SetLogger(t.logger)
	}

	t.mu.Lock()
	t.client = client
	fn := t.onDisconnect
	t.mu.Unlock()
	if fn != nil {
		client.SetOnDisconnect(fn)
	}
	return nil
}

// IsConnected reports whether the session is up.
func (t *MQTTTransport) IsConnected() bool {
	if client := t.get(); client != nil {
		return client.IsConnected()
	}
	return false
}

// Publish sends one message. Before the first successful connect there is
// no client, which reports as not connected.
func (t *MQTTTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	client := t.get()
	if client == nil {
		return mqtt.ErrNotConnected
	}
	return client.Publish(topic, payload, qos, retained)
}

// Subscribe registers a handler for a topic filter.
func (t *MQTTTransport) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	client := t.get()
	if client == nil {
		return mqtt.ErrNotConnected
	}
	return client.Subscribe(topic, qos, handler)
}

// SetOnDisconnect registers the session-loss callback. Registered on the
// client immediately if one exists, otherwise on the next connect.
func (t *MQTTTransport) SetOnDisconnect(fn func(error)) {
	t.mu.Lock()
	t.onDisconnect = fn
	client := t.client
	t.mu.Unlock()
	if client != nil {
		client.SetOnDisconnect(fn)
	}
}

// Close disconnects from the broker.
func (t *MQTTTransport) Close() error {
	client := t.get()
	if client == nil {
		return nil
	}
	return client.Close()
}

func (t *MQTTTransport) get() *mqtt.Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client
}

// LinkChecker reports whether the node has a usable network link. Link
// loss is a connectivity event like any other: the node degrades and
// retries, it never faults.
type LinkChecker interface {
	LinkUp() bool
}

// NetLinkChecker asks the kernel for interface state.
type NetLinkChecker struct{}

// LinkUp reports whether any non-loopback interface is up and running.
func (NetLinkChecker) LinkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}
		return true
	}
	return false
}

// Installer fetches a sensor or protocol library on request. The agent
// only drives the state machine around the download; the mechanics live
// behind this interface.
type Installer interface {
	Install(ctx context.Context, library string) error
}

// NoopInstaller accepts every download instantly. Wired when no real
// updater is configured so the command path stays usable.
type NoopInstaller struct{}

// Install reports success without fetching anything.
func (NoopInstaller) Install(context.Context, string) error { return nil }
