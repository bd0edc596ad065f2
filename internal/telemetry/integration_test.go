//go:build integration

package telemetry_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kaiser-home/nodecore/internal/telemetry"
)

// These tests need an InfluxDB v2 server at 127.0.0.1:8086 provisioned
// with the org/bucket/token from testConfig (see docker-compose.yml).
// Run with: go test -tags integration ./internal/telemetry/

func connectTest(t *testing.T) *telemetry.Recorder {
	t.Helper()

	rec, err := telemetry.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		rec.Close()
	})
	return rec
}

func TestIntegration_Connect(t *testing.T) {
	rec := connectTest(t)

	if !rec.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestIntegration_HealthCheck(t *testing.T) {
	rec := connectTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rec.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestIntegration_RecordReading(t *testing.T) {
	rec := connectTest(t)

	var writeErr error
	var mu sync.Mutex
	rec.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	rec.RecordReading("node-int-01", "greenhouse", 17, 21.5)
	rec.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestIntegration_RecordEvent(t *testing.T) {
	rec := connectTest(t)

	var writeErr error
	var mu sync.Mutex
	rec.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	rec.RecordEvent("node-int-01", "transition", map[string]interface{}{
		"from": "MQTT_CONNECTED",
		"to":   "OPERATIONAL",
	})
	// Empty detail falls back to an occurrence count field.
	rec.RecordEvent("node-int-01", "heartbeat", nil)
	rec.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestIntegration_RecordPointAt(t *testing.T) {
	rec := connectTest(t)

	var writeErr error
	var mu sync.Mutex
	rec.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	stamp := time.Now().Add(-1 * time.Hour)
	rec.RecordPointAt("sensor_readings",
		map[string]string{"node_id": "node-int-01", "zone": "cellar", "pin": "22"},
		map[string]interface{}{"value": 4.2},
		stamp,
	)
	rec.Flush()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestIntegration_Close(t *testing.T) {
	rec, err := telemetry.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	rec.RecordReading("node-int-01", "cellar", 22, 4.2)

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if rec.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
