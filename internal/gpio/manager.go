package gpio

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// PinState is a read-only snapshot of one pin table entry.
type PinState struct {
	Pin        int
	Reserved   bool
	Safe       bool
	Configured bool
	Owner      ComponentID
}

type pinRecord struct {
	reserved   bool
	safe       bool
	configured bool
	owner      ComponentID
}

// SafetyManager owns the pin table and is the only component that hands out
// pins.
//
// The table is fixed at construction (one entry per addressable pin on the
// hardware variant); raw indices never cross the package boundary except
// through the checked accessors. Reserved pins are permanent: never claimed,
// never driven, never counted safe.
type SafetyManager struct {
	mu     sync.Mutex
	driver Driver
	pins   []pinRecord
	logger Logger

	lastConflict *ConflictRecord
	onConflict   func(ConflictRecord)
}

// NewSafetyManager builds the pin table for a hardware variant. Every
// reserved pin must be inside [0, pinCount); a bad reservation is a
// configuration error, not a runtime conflict.
func NewSafetyManager(driver Driver, pinCount int, reserved []int) (*SafetyManager, error) {
	if driver == nil {
		return nil, fmt.Errorf("gpio: nil driver")
	}
	if pinCount <= 0 {
		return nil, fmt.Errorf("gpio: pin count must be positive, got %d", pinCount)
	}
	m := &SafetyManager{
		driver: driver,
		pins:   make([]pinRecord, pinCount),
		logger: noopLogger{},
	}
	for _, pin := range reserved {
		if pin < 0 || pin >= pinCount {
			return nil, fmt.Errorf("gpio: reserved pin %d out of range [0, %d)", pin, pinCount)
		}
		m.pins[pin].reserved = true
	}
	return m, nil
}

// SetLogger sets the logger for the manager.
func (m *SafetyManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

// SetOnConflict registers a callback fired for every recorded conflict,
// after the table lock is released.
func (m *SafetyManager) SetOnConflict(fn func(ConflictRecord)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConflict = fn
}

// InitializeAllSafe drives every non-reserved pin to high-impedance input at
// boot, before any component may claim one.
func (m *SafetyManager) InitializeAllSafe(reason string) error {
	m.logger.Info("initialising all pins to safe state", "reason", reason)
	return m.allSafe()
}

// ForceAllSafe is the emergency path: every non-reserved pin is driven to
// high-impedance input and all ownership bookkeeping is cleared, whether or
// not the hardware cooperates. Idempotent. Per-pin driver failures are
// collected into the returned error and logged individually; the call never
// fails silently.
func (m *SafetyManager) ForceAllSafe(reason string) error {
	m.logger.Warn("forcing all pins to safe state", "reason", reason)
	return m.allSafe()
}

func (m *SafetyManager) allSafe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var failures []string
	for pin := range m.pins {
		rec := &m.pins[pin]
		if rec.reserved {
			continue
		}
		// Ownership is released regardless of the driver outcome so a
		// recovery always starts from an unclaimed table.
		rec.owner = ""
		rec.configured = false
		if err := m.driver.ConfigureInput(pin); err != nil {
			rec.safe = false
			failures = append(failures, fmt.Sprintf("pin %d: %v", pin, err))
			m.logger.Error("pin refused safe state", "pin", pin, "error", err)
			continue
		}
		rec.safe = true
	}
	if len(failures) > 0 {
		return fmt.Errorf("gpio: %d of %d pins failed to reach safe state: %s",
			len(failures), len(m.pins), strings.Join(failures, "; "))
	}
	return nil
}

// Release claims a pin for a component, taking it out of safe mode in the
// table. The caller configures the hardware afterwards through the driver;
// Release itself only gates and records ownership.
//
// Refusals are *ConflictError values and are always recorded: reserved pins,
// pins owned by another component, and out-of-range indices. Re-claiming a
// pin already owned by the same component is a no-op.
func (m *SafetyManager) Release(pin int, owner ComponentID) error {
	if owner == "" {
		return ErrEmptyOwner
	}
	m.mu.Lock()
	var conflict *ConflictError
	switch {
	case pin < 0 || pin >= len(m.pins):
		conflict = &ConflictError{Pin: pin, Kind: ConflictInvalidIndex, Requested: owner}
	case m.pins[pin].reserved:
		conflict = &ConflictError{Pin: pin, Kind: ConflictReservedPin, Requested: owner}
	case m.pins[pin].configured && m.pins[pin].owner != owner:
		conflict = &ConflictError{Pin: pin, Kind: ConflictAlreadyAssigned, Owner: m.pins[pin].owner, Requested: owner}
	}
	if conflict != nil {
		rec := m.storeConflictLocked(conflict.Pin, conflict.Kind, conflict.Owner, conflict.Requested)
		m.mu.Unlock()
		m.emitConflict(rec)
		return conflict
	}
	m.pins[pin].safe = false
	m.pins[pin].configured = true
	m.pins[pin].owner = owner
	m.mu.Unlock()
	m.logger.Debug("pin released from safe mode", "pin", pin, "owner", string(owner))
	return nil
}

// MakeSafe returns a claimed pin to safe mode: high-impedance input, no
// owner. Safe pins are left alone.
func (m *SafetyManager) MakeSafe(pin int, reason string) error {
	m.mu.Lock()
	var conflict *ConflictError
	switch {
	case pin < 0 || pin >= len(m.pins):
		conflict = &ConflictError{Pin: pin, Kind: ConflictInvalidIndex, Requested: "safety"}
	case m.pins[pin].reserved:
		conflict = &ConflictError{Pin: pin, Kind: ConflictReservedPin, Requested: "safety"}
	}
	if conflict != nil {
		rec := m.storeConflictLocked(conflict.Pin, conflict.Kind, conflict.Owner, conflict.Requested)
		m.mu.Unlock()
		m.emitConflict(rec)
		return conflict
	}
	if m.pins[pin].safe && !m.pins[pin].configured {
		m.mu.Unlock()
		return nil
	}
	m.pins[pin].owner = ""
	m.pins[pin].configured = false
	if err := m.driver.ConfigureInput(pin); err != nil {
		m.pins[pin].safe = false
		m.mu.Unlock()
		m.logger.Error("pin refused safe state", "pin", pin, "reason", reason, "error", err)
		return fmt.Errorf("make pin %d safe: %w", pin, err)
	}
	m.pins[pin].safe = true
	m.mu.Unlock()
	m.logger.Info("pin returned to safe state", "pin", pin, "reason", reason)
	return nil
}

// RecordConflict stores a conflict observed outside the manager's own
// gating, overwriting the previous record.
func (m *SafetyManager) RecordConflict(pin int, kind ConflictKind, owner, requested ComponentID) {
	m.mu.Lock()
	rec := m.storeConflictLocked(pin, kind, owner, requested)
	m.mu.Unlock()
	m.emitConflict(rec)
}

func (m *SafetyManager) storeConflictLocked(pin int, kind ConflictKind, owner, requested ComponentID) ConflictRecord {
	rec := ConflictRecord{
		Pin:       pin,
		Kind:      kind,
		Owner:     owner,
		Requested: requested,
		At:        time.Now().UTC(),
	}
	m.lastConflict = &rec
	m.logger.Warn("gpio conflict",
		"pin", pin,
		"kind", string(kind),
		"owner", string(owner),
		"requested", string(requested))
	return rec
}

func (m *SafetyManager) emitConflict(rec ConflictRecord) {
	m.mu.Lock()
	fn := m.onConflict
	m.mu.Unlock()
	if fn != nil {
		fn(rec)
	}
}

// LastConflict returns the most recent conflict, if any has occurred.
func (m *SafetyManager) LastConflict() (ConflictRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastConflict == nil {
		return ConflictRecord{}, false
	}
	return *m.lastConflict, true
}

// State returns the snapshot for one pin.
func (m *SafetyManager) State(pin int) (PinState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pin < 0 || pin >= len(m.pins) {
		return PinState{}, false
	}
	return m.snapshotLocked(pin), true
}

// Snapshot returns the full pin table.
func (m *SafetyManager) Snapshot() []PinState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PinState, len(m.pins))
	for pin := range m.pins {
		out[pin] = m.snapshotLocked(pin)
	}
	return out
}

func (m *SafetyManager) snapshotLocked(pin int) PinState {
	rec := m.pins[pin]
	return PinState{
		Pin:        pin,
		Reserved:   rec.reserved,
		Safe:       rec.safe,
		Configured: rec.configured,
		Owner:      rec.owner,
	}
}

// SafePinCount returns how many pins are currently in safe mode.
func (m *SafetyManager) SafePinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.pins {
		if rec.safe {
			n++
		}
	}
	return n
}

// NonReservedCount returns how many pins the hardware variant allows
// components to use.
func (m *SafetyManager) NonReservedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.pins {
		if !rec.reserved {
			n++
		}
	}
	return n
}

// PinCount returns the size of the pin table.
func (m *SafetyManager) PinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pins)
}

// IsReserved reports whether a pin is reserved. Out-of-range pins report
// true: they are just as unusable.
func (m *SafetyManager) IsReserved(pin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pin < 0 || pin >= len(m.pins) {
		return true
	}
	return m.pins[pin].reserved
}

// Owner returns the component owning a pin, if it is claimed.
func (m *SafetyManager) Owner(pin int) (ComponentID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pin < 0 || pin >= len(m.pins) || !m.pins[pin].configured {
		return "", false
	}
	return m.pins[pin].owner, true
}
