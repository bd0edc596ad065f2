package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kaiser-home/nodecore/internal/resilience"
)

var errUpstreamDown = errors.New("upstream down")

// fakeCaller counts invocations so tests can prove a rejected call never
// reached the upstream.
type fakeCaller struct {
	calls int
	err   error
	resp  *Response
}

func (f *fakeCaller) Call(_ context.Context, _ string, _ any) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestGuard(caller Caller, clock resilience.Clock) *Guard {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig(), clock)
	return NewGuard(caller, breaker)
}

func TestGuardSuccess(t *testing.T) {
	caller := &fakeCaller{resp: &Response{Status: http.StatusOK}}
	guard := newTestGuard(caller, nil)

	resp, err := guard.Call(context.Background(), "enrich", map[string]any{"pin": 17})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if caller.calls != 1 {
		t.Errorf("caller invoked %d times, want 1", caller.calls)
	}
	if guard.State() != resilience.BreakerClosed {
		t.Errorf("State() = %s, want closed", guard.State())
	}
}

func TestGuardRejectsLocallyOnceOpen(t *testing.T) {
	clock := resilience.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	caller := &fakeCaller{err: errUpstreamDown}
	guard := newTestGuard(caller, clock)
	ctx := context.Background()

	// Five consecutive failures all reach the upstream and open the breaker.
	for i := 1; i <= 5; i++ {
		_, err := guard.Call(ctx, "enrich", nil)
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d rejected locally, want a network attempt", i)
		}
		if !errors.Is(err, errUpstreamDown) {
			t.Fatalf("call %d error = %v, want upstream failure", i, err)
		}
	}
	if caller.calls != 5 {
		t.Fatalf("caller invoked %d times, want 5", caller.calls)
	}
	if guard.State() != resilience.BreakerOpen {
		t.Fatalf("State() = %s after 5 failures, want open", guard.State())
	}

	// The sixth call is rejected locally; the upstream is never touched.
	_, err := guard.Call(ctx, "enrich", nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("sixth call error = %v, want ErrCircuitOpen", err)
	}
	if caller.calls != 5 {
		t.Errorf("caller invoked %d times after rejection, want still 5", caller.calls)
	}
}

func TestGuardRecoversThroughHalfOpen(t *testing.T) {
	clock := resilience.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	caller := &fakeCaller{err: errUpstreamDown}
	guard := newTestGuard(caller, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		guard.Call(ctx, "enrich", nil) //nolint:errcheck // failures are the point
	}
	if guard.State() != resilience.BreakerOpen {
		t.Fatalf("State() = %s, want open", guard.State())
	}

	// After the cooldown the next call probes the upstream again.
	clock.Advance(resilience.DefaultOpenTimeout)
	caller.err = nil
	caller.resp = &Response{Status: http.StatusOK}

	for i := 1; i <= 3; i++ {
		if _, err := guard.Call(ctx, "enrich", nil); err != nil {
			t.Fatalf("probe call %d error = %v", i, err)
		}
	}

	if guard.State() != resilience.BreakerClosed {
		t.Errorf("State() = %s after 3 probe successes, want closed", guard.State())
	}
	if caller.calls != 8 {
		t.Errorf("caller invoked %d times, want 8 (5 failures + 3 probes)", caller.calls)
	}
}

func TestGuardProbeFailureReopens(t *testing.T) {
	clock := resilience.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	caller := &fakeCaller{err: errUpstreamDown}
	guard := newTestGuard(caller, clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		guard.Call(ctx, "enrich", nil) //nolint:errcheck // failures are the point
	}

	clock.Advance(resilience.DefaultOpenTimeout)

	// The probe is allowed through and fails; the breaker reopens.
	_, err := guard.Call(ctx, "enrich", nil)
	if !errors.Is(err, errUpstreamDown) {
		t.Fatalf("probe error = %v, want upstream failure", err)
	}
	if guard.State() != resilience.BreakerOpen {
		t.Errorf("State() = %s after failed probe, want open", guard.State())
	}

	// Immediately after reopening, calls are rejected locally again.
	calls := caller.calls
	if _, err := guard.Call(ctx, "enrich", nil); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("post-probe call error = %v, want ErrCircuitOpen", err)
	}
	if caller.calls != calls {
		t.Errorf("caller invoked during rejection, want no network attempt")
	}
}

// TestGuardWithHTTPClient runs the guard over the real HTTP client against
// a failing server and proves the rejection happens before the wire.
func TestGuardWithHTTPClient(t *testing.T) {
	var requests int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(testClientConfig(ts.URL))
	guard := newTestGuard(client, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := guard.Call(ctx, "enrich", map[string]any{"attempt": i})
		if !errors.Is(err, ErrUpstreamStatus) {
			t.Fatalf("call %d error = %v, want ErrUpstreamStatus", i, err)
		}
	}
	if requests != 5 {
		t.Fatalf("server saw %d requests, want 5", requests)
	}

	_, err := guard.Call(ctx, "enrich", map[string]any{"attempt": 6})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("sixth call error = %v, want ErrCircuitOpen", err)
	}
	if requests != 5 {
		t.Errorf("server saw %d requests after rejection, want still 5", requests)
	}
}
