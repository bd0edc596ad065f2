// Package gpio owns the node's pin table and the safe-mode guarantees
// around it.
//
// The SafetyManager is the only component allowed to hand out pins. Every
// pin starts in safe mode (high-impedance input); sensors and actuators must
// Release a pin before configuring it, and every refusal is a typed
// ConflictError (reserved pin, already assigned, invalid index) that is also
// recorded for diagnostics. ForceAllSafe is the single entry point the
// emergency path relies on: idempotent, never silent about per-pin driver
// failures, and it always clears ownership bookkeeping so a recovery starts
// from a known table.
//
// Hardware access goes through the Driver interface. CdevDriver implements
// it on the Linux GPIO character device (go-gpiocdev); FakeDriver is the
// scriptable test double. Drivers that can shape a level (PWM-class
// hardware) additionally implement LevelWriter.
//
// Reserved pins are configured at construction and never leave the table:
// not claimable, not driven, not counted safe.
package gpio
