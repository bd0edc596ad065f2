// Package store persists node state across restarts.
//
// State lives in a single node_state table keyed by (namespace, key)
// with JSON values: wireless credentials, the zone assignment, sensor
// and actuator specifications, and the reserved-pin seed. The generic
// Save/Load pair works on any JSON-marshallable value; typed helpers
// cover the documents the boot sequence reads.
//
// Boot consults this package twice: credentials decide BOOT → WIFI_SETUP
// versus WIFI_CONNECTED, and a full persisted configuration lets the
// node jump MQTT_CONNECTED → OPERATIONAL without waiting for the
// coordinator to resend it. A factory reset deletes both namespaces.
package store
