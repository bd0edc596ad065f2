package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/kaiser-home/nodecore/internal/gpio"
	"github.com/kaiser-home/nodecore/internal/resilience"
)

// testController builds a controller over a 28-pin fake board with pins 0
// and 1 reserved, initialised to all-safe.
func testController(t *testing.T, cfg ResumeConfig) (*Controller, *gpio.SafetyManager, *gpio.FakeDriver, *resilience.FakeClock) {
	t.Helper()
	driver := gpio.NewFakeDriver()
	safety, err := gpio.NewSafetyManager(driver, 28, []int{0, 1})
	if err != nil {
		t.Fatalf("NewSafetyManager: %v", err)
	}
	if err := safety.InitializeAllSafe("test boot"); err != nil {
		t.Fatalf("InitializeAllSafe: %v", err)
	}
	clock := resilience.NewFakeClock(time.Unix(5000, 0))
	c, err := NewController(safety, driver, cfg, clock, nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c, safety, driver, clock
}

func registerThree(t *testing.T, c *Controller) {
	t.Helper()
	for _, spec := range []Spec{
		{Pin: 4, Kind: KindRelay, Name: "pump"},
		{Pin: 5, Kind: KindRelay, Name: "valve", Critical: true},
		{Pin: 6, Kind: KindRelay, Name: "fan"},
	} {
		if err := c.Register(spec); err != nil {
			t.Fatalf("Register(pin %d): %v", spec.Pin, err)
		}
	}
}

// ===== Registration =====

func TestRegister(t *testing.T) {
	c, safety, driver, _ := testController(t, DefaultResumeConfig())

	if err := c.Register(Spec{Pin: 5, Kind: KindRelay, Name: "valve"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rec, ok := c.Record(5)
	if !ok || !rec.Armed || rec.EmergencyStopped {
		t.Errorf("record = %+v, want armed and not stopped", rec)
	}
	if driver.Mode(5) != gpio.ModeOutput || driver.Value(5) {
		t.Errorf("pin armed energised: mode=%q value=%v", driver.Mode(5), driver.Value(5))
	}
	if owner, _ := safety.Owner(5); owner != "actuator:5" {
		t.Errorf("pin owner = %q", owner)
	}

	if err := c.Register(Spec{Pin: 5, Kind: KindRelay}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register error = %v, want ErrAlreadyRegistered", err)
	}

	var ce *gpio.ConflictError
	err := c.Register(Spec{Pin: 0, Kind: KindRelay})
	if !errors.As(err, &ce) || ce.Kind != gpio.ConflictReservedPin {
		t.Errorf("reserved register error = %v, want reserved conflict", err)
	}

	if err := c.Register(Spec{Pin: 7, Kind: "servo"}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind error = %v, want ErrInvalidKind", err)
	}

	if err := c.Register(Spec{Pin: 8, Kind: KindPWM, Name: "dimmer"}); err != nil {
		t.Fatalf("pwm register: %v", err)
	}
}

func TestRegister_LevelUnsupported(t *testing.T) {
	// Wrap the fake so only the Driver methods are visible; the PWM factory
	// must notice the missing level capability.
	fake := gpio.NewFakeDriver()
	binary := struct{ gpio.Driver }{fake}
	safety, err := gpio.NewSafetyManager(binary, 28, nil)
	if err != nil {
		t.Fatalf("NewSafetyManager: %v", err)
	}
	if err := safety.InitializeAllSafe("test boot"); err != nil {
		t.Fatalf("InitializeAllSafe: %v", err)
	}
	c, err := NewController(safety, binary, DefaultResumeConfig(), resilience.NewFakeClock(time.Unix(0, 0)), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	if err := c.Register(Spec{Pin: 3, Kind: KindPWM}); !errors.Is(err, ErrLevelUnsupported) {
		t.Fatalf("pwm on binary driver error = %v, want ErrLevelUnsupported", err)
	}
	// The failed registration must not leave the pin claimed.
	if owner, ok := safety.Owner(3); ok {
		t.Errorf("pin 3 left claimed by %q", owner)
	}
}

// ===== Control gating =====

func TestSetAndGating(t *testing.T) {
	c, _, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)

	if err := c.Set(4, 75); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !driver.Value(4) {
		t.Error("relay not energised by positive level")
	}
	rec, _ := c.Record(4)
	if rec.LastValue != 75 {
		t.Errorf("LastValue = %v, want 75", rec.LastValue)
	}

	if err := c.SetBinary(4, false); err != nil {
		t.Fatalf("SetBinary: %v", err)
	}
	if driver.Value(4) {
		t.Error("relay still energised after off")
	}

	if err := c.Set(9, 10); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("unregistered Set error = %v, want ErrNotRegistered", err)
	}
	if err := c.Set(4, 101); !errors.Is(err, ErrLevelRange) {
		t.Errorf("over-range Set error = %v, want ErrLevelRange", err)
	}

	// Control calls are no-ops while emergency-stopped.
	if _, err := c.EmergencyStopAll("test"); err != nil {
		t.Fatalf("EmergencyStopAll: %v", err)
	}
	if err := c.Set(4, 50); !errors.Is(err, ErrEmergencyStopped) {
		t.Errorf("stopped Set error = %v, want ErrEmergencyStopped", err)
	}
	if err := c.SetBinary(4, true); !errors.Is(err, ErrEmergencyStopped) {
		t.Errorf("stopped SetBinary error = %v, want ErrEmergencyStopped", err)
	}

	// Clearing the flag alone does not arm hardware.
	if err := c.ClearEmergencyStop(4); err != nil {
		t.Fatalf("ClearEmergencyStop: %v", err)
	}
	if err := c.Set(4, 50); !errors.Is(err, ErrNotArmed) {
		t.Errorf("cleared-but-disarmed Set error = %v, want ErrNotArmed", err)
	}
}

// ===== Emergency stop =====

func TestEmergencyStopAll(t *testing.T) {
	c, safety, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)
	if err := c.SetBinary(5, true); err != nil {
		t.Fatalf("SetBinary: %v", err)
	}

	results, err := c.EmergencyStopAll("operator emergency")
	if err != nil {
		t.Fatalf("EmergencyStopAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, res := range results {
		if !res.Stopped || res.Err != nil {
			t.Errorf("pin %d result = %+v", res.Pin, res)
		}
	}
	for _, rec := range c.Records() {
		if !rec.EmergencyStopped || rec.Armed || rec.LastValue != 0 {
			t.Errorf("record after stop = %+v", rec)
		}
	}
	// The whole table is safe again, including the previously energised pin.
	if got, want := safety.SafePinCount(), safety.NonReservedCount(); got != want {
		t.Errorf("SafePinCount = %d, want %d", got, want)
	}
	if driver.Mode(5) != gpio.ModeInput {
		t.Errorf("pin 5 mode = %q, want input", driver.Mode(5))
	}
	if c.State() != EmergencyActive {
		t.Errorf("state = %q, want ACTIVE", c.State())
	}

	// Idempotent: the repeat reports success for the already-stopped set.
	again, err := c.EmergencyStopAll("repeat")
	if err != nil {
		t.Fatalf("repeat EmergencyStopAll: %v", err)
	}
	for _, res := range again {
		if !res.Stopped || res.Err != nil {
			t.Errorf("repeat pin %d result = %+v", res.Pin, res)
		}
	}
}

func TestEmergencyStopAll_ReportsPerPinFailures(t *testing.T) {
	c, _, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)
	driver.WriteErr[5] = errors.New("driver fault")

	results, err := c.EmergencyStopAll("test")
	if err == nil {
		t.Fatal("output failure was silent")
	}
	var failed *StopResult
	for i := range results {
		if results[i].Pin == 5 {
			failed = &results[i]
		}
	}
	if failed == nil || failed.Stopped || failed.Err == nil {
		t.Fatalf("pin 5 result = %+v, want recorded failure", failed)
	}
	// The failed pin is still flagged and the rest stopped cleanly.
	if !c.EmergencyStopped(5) {
		t.Error("failed pin not flagged")
	}
	for _, pin := range []int{4, 6} {
		if !c.EmergencyStopped(pin) {
			t.Errorf("pin %d not flagged", pin)
		}
	}
}

func TestEmergencyStop_SinglePin(t *testing.T) {
	c, safety, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)
	if err := c.SetBinary(4, true); err != nil {
		t.Fatalf("SetBinary: %v", err)
	}

	if err := c.EmergencyStop(4, "stuck load"); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if !c.EmergencyStopped(4) {
		t.Error("pin 4 not flagged")
	}
	if driver.Mode(4) != gpio.ModeInput {
		t.Errorf("pin 4 mode = %q, want input", driver.Mode(4))
	}
	st, _ := safety.State(4)
	if !st.Safe || st.Configured {
		t.Errorf("pin 4 safety state = %+v", st)
	}
	// Scoped action: the rest keep running and the lifecycle stays NORMAL.
	if c.EmergencyStopped(5) || c.EmergencyStopped(6) {
		t.Error("unrelated pins flagged")
	}
	if c.State() != EmergencyNormal {
		t.Errorf("state = %q, want NORMAL", c.State())
	}
	if err := c.EmergencyStop(4, "again"); err != nil {
		t.Errorf("repeat EmergencyStop: %v", err)
	}
}

func TestClearEmergencyStopAll(t *testing.T) {
	c, _, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)
	if _, err := c.EmergencyStopAll("test"); err != nil {
		t.Fatalf("EmergencyStopAll: %v", err)
	}

	c.ClearEmergencyStopAll()
	if c.State() != EmergencyClearing {
		t.Errorf("state = %q, want CLEARING", c.State())
	}
	for _, rec := range c.Records() {
		if rec.EmergencyStopped {
			t.Errorf("pin %d still flagged", rec.Pin)
		}
		if rec.Armed {
			t.Errorf("pin %d armed by a flag clear", rec.Pin)
		}
	}
	// Hardware is untouched: still safe inputs.
	for _, pin := range []int{4, 5, 6} {
		if driver.Mode(pin) != gpio.ModeInput {
			t.Errorf("pin %d mode = %q, want input", pin, driver.Mode(pin))
		}
	}
}

// ===== Verification =====

func TestVerifySafety(t *testing.T) {
	c, _, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)

	if !c.VerifySafety(4) {
		t.Error("healthy actuator failed verification")
	}
	if c.VerifySafety(9) {
		t.Error("unregistered pin verified")
	}

	// Readback disagrees with the commanded state: a stuck relay.
	driver.ReadValues[4] = true
	if c.VerifySafety(4) {
		t.Error("stuck relay verified")
	}
	delete(driver.ReadValues, 4)

	if _, err := c.EmergencyStopAll("test"); err != nil {
		t.Fatalf("EmergencyStopAll: %v", err)
	}
	if c.VerifySafety(4) {
		t.Error("stopped actuator verified")
	}
}

// ===== Removal =====

func TestDeregister(t *testing.T) {
	c, safety, driver, _ := testController(t, DefaultResumeConfig())
	registerThree(t, c)
	if err := c.SetBinary(6, true); err != nil {
		t.Fatalf("SetBinary: %v", err)
	}

	if err := c.Deregister(6, "config update"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := c.Record(6); ok {
		t.Error("record survived deregistration")
	}
	if driver.Mode(6) != gpio.ModeInput {
		t.Errorf("pin 6 mode = %q, want input", driver.Mode(6))
	}
	st, _ := safety.State(6)
	if !st.Safe || st.Configured {
		t.Errorf("pin 6 safety state = %+v", st)
	}
	if err := c.Deregister(6, "again"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("repeat deregister error = %v, want ErrNotRegistered", err)
	}
}
