package resilience

import (
	"sync"
	"time"
)

// Default connection retry parameters. The schedule after the k-th
// consecutive failure is min(base * 2^(k-1), cap): 5s, 10s, 20s, 40s, 60s,
// 60s, ... A fresh manager (or one reset by a successful connection) allows
// the next attempt immediately.
const (
	DefaultBaseDelay  = 5 * time.Second
	DefaultMaxDelay   = 60 * time.Second
	DefaultMaxRetries = 10
)

// Doubling beyond this many failures cannot change the outcome; the delay is
// pinned at the cap. Guards the shift against overflow.
const maxBackoffShift = 32

// ConnectionConfig holds retry schedule parameters for ConnectionManager.
type ConnectionConfig struct {
	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps the exponential schedule.
	MaxDelay time.Duration

	// MaxRetries is the consecutive-failure count after which the manager
	// stops escalating and settles at MaxDelay. It never stops attempting;
	// a node that cannot reach its broker must keep trying forever.
	MaxRetries int
}

// DefaultConnectionConfig returns the standard retry schedule.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		MaxRetries: DefaultMaxRetries,
	}
}

// ConnectionManager gates (re)connection attempts for the messaging link
// behind an exponential backoff schedule.
//
// The manager owns no timer: the agent loop calls Attempt on its tick, and
// attempts made before the computed delay has elapsed are no-ops returning
// false. The connect closure itself is supplied by the caller, so the
// manager carries no transport knowledge.
type ConnectionManager struct {
	mu     sync.Mutex
	cfg    ConnectionConfig
	clock  Clock
	logger Logger

	retryCount  int
	lastAttempt time.Time
	attempted   bool
	stable      bool

	// budgetLogged ensures the retry-budget crossing is reported once per
	// outage, not once per capped attempt.
	budgetLogged bool
}

// NewConnectionManager creates a manager with the given schedule. Zero or
// negative config fields fall back to the defaults. A nil clock means the
// system clock.
func NewConnectionManager(cfg ConnectionConfig, clock Clock) *ConnectionManager {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &ConnectionManager{
		cfg:    cfg,
		clock:  clock,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *ConnectionManager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if logger != nil {
		m.logger = logger
	}
}

// Attempt runs one gated connection attempt.
//
// If the backoff delay since the last attempt has not elapsed, it returns
// false immediately without invoking connect. Otherwise it invokes connect
// (without holding the lock, since a connect can block for seconds): success
// resets the schedule and marks the link stable, failure escalates it.
func (m *ConnectionManager) Attempt(connect func() bool) bool {
	m.mu.Lock()
	if !m.dueLocked() {
		m.mu.Unlock()
		return false
	}
	attempt := m.retryCount + 1
	m.attempted = true
	m.lastAttempt = m.clock.Now()
	m.mu.Unlock()

	ok := connect()

	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.retryCount = 0
		m.stable = true
		m.budgetLogged = false
		return true
	}
	m.retryCount++
	m.stable = false
	if m.retryCount > m.cfg.MaxRetries && !m.budgetLogged {
		m.budgetLogged = true
		m.logger.Warn("connection retry budget exhausted, continuing at capped interval",
			"attempts", attempt,
			"interval", m.cfg.MaxDelay.String())
	}
	return false
}

// Due reports whether a call to Attempt right now would actually try to
// connect.
func (m *ConnectionManager) Due() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dueLocked()
}

func (m *ConnectionManager) dueLocked() bool {
	if !m.attempted {
		return true
	}
	return m.clock.Now().Sub(m.lastAttempt) >= m.nextDelayLocked()
}

// NextRetryDelay returns the delay the current failure streak imposes before
// the next attempt. Zero when no failures are outstanding.
func (m *ConnectionManager) NextRetryDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextDelayLocked()
}

func (m *ConnectionManager) nextDelayLocked() time.Duration {
	k := m.retryCount
	if k == 0 {
		return 0
	}
	if k-1 >= maxBackoffShift {
		return m.cfg.MaxDelay
	}
	d := m.cfg.BaseDelay << uint(k-1)
	if d <= 0 || d > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}
	return d
}

// RecordDisconnect marks the link unstable after an established connection
// drops. The failure streak is not touched: a link that was just up earns an
// immediate reattempt, and the schedule only escalates if that attempt fails.
func (m *ConnectionManager) RecordDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stable = false
}

// Reset clears the schedule entirely, as on an operator-requested restart.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount = 0
	m.attempted = false
	m.stable = false
	m.budgetLogged = false
}

// RetryCount returns the current consecutive-failure count.
func (m *ConnectionManager) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// IsStable reports whether the last attempt succeeded and no disconnect has
// been recorded since.
func (m *ConnectionManager) IsStable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stable
}
