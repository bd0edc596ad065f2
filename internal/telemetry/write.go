package telemetry

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordReading writes a single sensor reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Pin numbers are tagged as strings because tags index better at low
// cardinality than fields.
//
// Example:
//
//	rec.RecordReading("node-a1", "greenhouse", 17, 21.5)
func (r *Recorder) RecordReading(node, zone string, pin int, value float64) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"node_id": node,
			"zone":    zone,
			"pin":     strconv.Itoa(pin),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordEvent writes a node event such as a state transition, an
// emergency stop or an enrichment fallback.
//
// Detail entries become fields. Influx requires at least one field per
// point, so an empty detail map is recorded as a bare occurrence count.
func (r *Recorder) RecordEvent(node, kind string, detail map[string]interface{}) {
	if !r.IsConnected() {
		return
	}

	fields := detail
	if len(fields) == 0 {
		fields = map[string]interface{}{"count": 1}
	}

	point := write.NewPoint(
		"node_events",
		map[string]string{
			"node_id": node,
			"kind":    kind,
		},
		fields,
		time.Now(),
	)

	r.writeAPI.WritePoint(point)
}

// RecordPoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (r *Recorder) RecordPoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	r.writeAPI.WritePoint(point)
}

// RecordPointAt writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now", such as readings replayed
// after an outage.
func (r *Recorder) RecordPointAt(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !r.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	r.writeAPI.WritePoint(point)
}
