package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
	"github.com/kaiser-home/nodecore/internal/telemetry"
)

func testConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "nodecore-dev-token",
		Org:           "kaiser",
		Bucket:        "telemetry",
		BatchSize:     50,
		FlushInterval: 1,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := telemetry.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should return error when disabled")
	}
	if !errors.Is(err, telemetry.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // nothing listens here

	_, err := telemetry.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should return error when the server is unreachable")
	}
	if !errors.Is(err, telemetry.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

// =============================================================================
// Disconnected Recorder Safety
// =============================================================================

// A recorder that never connected must swallow record calls rather than
// panic; the agent keeps running when telemetry is down.

func TestZeroValueRecorder(t *testing.T) {
	rec := &telemetry.Recorder{}

	if rec.IsConnected() {
		t.Error("IsConnected() = true for zero-value recorder")
	}

	// All of these are no-ops; the test is that none of them panic.
	rec.RecordReading("node-a1", "greenhouse", 17, 21.5)
	rec.RecordEvent("node-a1", "transition", map[string]interface{}{"to": "SAFE_MODE"})
	rec.RecordEvent("node-a1", "heartbeat", nil)
	rec.RecordPoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"value": 1.0})
	rec.Flush()

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestHealthCheckNotConnected(t *testing.T) {
	rec := &telemetry.Recorder{}

	err := rec.HealthCheck(context.Background())
	if !errors.Is(err, telemetry.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}
