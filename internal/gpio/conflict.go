package gpio

import (
	"fmt"
	"time"
)

// ConflictKind classifies why a pin assignment was refused.
type ConflictKind string

const (
	// ConflictReservedPin: the pin is reserved by the hardware variant and
	// never leaves safe mode.
	ConflictReservedPin ConflictKind = "reserved_pin"

	// ConflictAlreadyAssigned: the pin is owned by a different component.
	ConflictAlreadyAssigned ConflictKind = "already_assigned"

	// ConflictInvalidIndex: the pin index is outside the hardware's table.
	ConflictInvalidIndex ConflictKind = "invalid_index"
)

// ComponentID names the component owning or requesting a pin, for example
// "actuator:17" or "sensor:4".
type ComponentID string

// ConflictError reports a refused pin assignment. Callers branch on Kind via
// errors.As; the pin table is never modified by a refusal.
type ConflictError struct {
	Pin       int
	Kind      ConflictKind
	Owner     ComponentID // current owner, set for already_assigned
	Requested ComponentID
}

func (e *ConflictError) Error() string {
	switch e.Kind {
	case ConflictReservedPin:
		return fmt.Sprintf("gpio: pin %d is reserved (requested by %s)", e.Pin, e.Requested)
	case ConflictAlreadyAssigned:
		return fmt.Sprintf("gpio: pin %d already assigned to %s (requested by %s)", e.Pin, e.Owner, e.Requested)
	default:
		return fmt.Sprintf("gpio: pin %d out of range (requested by %s)", e.Pin, e.Requested)
	}
}

// ConflictRecord is the retained diagnostic snapshot of the most recent
// conflict. A single record is kept; each new conflict overwrites it.
type ConflictRecord struct {
	Pin       int
	Kind      ConflictKind
	Owner     ComponentID
	Requested ComponentID
	At        time.Time
}
