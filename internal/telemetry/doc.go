// Package telemetry records time-series data for the node.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes and health monitoring.
//
// # Purpose
//
// Two measurement families are written:
//   - sensor_readings: periodic samples from registered input pins
//   - node_events: state transitions, emergency actions and enrichment
//     fallbacks
//
// The recorder doubles as the local sink while upstream enrichment is
// unavailable: readings that cannot be enriched are still recorded here,
// so an outage degrades the data rather than losing it.
//
// # Usage
//
//	rec, err := telemetry.Connect(cfg.Telemetry)
//	if errors.Is(err, telemetry.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer rec.Close()
//
//	rec.RecordReading("node-a1", "greenhouse", 17, 21.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Record operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package telemetry
