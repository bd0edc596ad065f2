package gpio

// Driver abstracts the pin-level hardware operations the safety layer needs.
//
// CdevDriver implements it on the Linux GPIO character device; FakeDriver is
// the scriptable test double. Implementations must make ConfigureInput the
// electrically safest operation available: it is what safe mode and the
// emergency path drive through.
type Driver interface {
	// ConfigureInput puts the pin in high-impedance input mode.
	ConfigureInput(pin int) error

	// ConfigureOutput puts the pin in output mode driving the given initial
	// level.
	ConfigureOutput(pin int, initial bool) error

	// Write drives an output pin.
	Write(pin int, on bool) error

	// Read returns the current pin level.
	Read(pin int) (bool, error)

	// Close releases all requested lines, returning them to input mode
	// where the hardware allows it.
	Close() error
}

// LevelWriter is the optional capability for drivers that can shape an
// output level (PWM-class hardware). Levels are fractions in [0, 1].
type LevelWriter interface {
	WriteLevel(pin int, level float64) error
}

// Logger defines the logging interface for this package.
// *slog.Logger and the infrastructure logger both satisfy it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
