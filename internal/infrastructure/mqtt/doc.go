// Package mqtt provides broker connectivity for the node.
//
// This package manages:
//   - Connection to the site broker over paho.mqtt.golang
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) registration for offline detection
//   - Connection health monitoring
//
// # Reconnection
//
// Paho's built-in auto-reconnect is deliberately disabled. A dropped
// session surfaces through the OnDisconnect callback and the client stays
// idle until Reconnect is called; the connection manager in
// internal/resilience owns the retry schedule so backoff behaviour lives
// in exactly one place. Subscriptions registered before the drop are
// tracked and restored on the next successful Reconnect.
//
// # Addressing
//
// The client is address-agnostic. Topic construction, including the LWT
// topic, belongs to internal/addressing; callers pass finished topic
// strings and an optional Will at connect time.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for bench testing
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    statusTopic,
//	    Payload:  offlinePayload,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(commandPattern, 1,
//	    func(topic string, payload []byte) error {
//	        return dispatch(topic, payload)
//	    })
package mqtt
