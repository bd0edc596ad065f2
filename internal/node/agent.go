package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kaiser-home/nodecore/internal/actuator"
	"github.com/kaiser-home/nodecore/internal/addressing"
	"github.com/kaiser-home/nodecore/internal/audit"
	"github.com/kaiser-home/nodecore/internal/enrichment"
	"github.com/kaiser-home/nodecore/internal/gpio"
	"github.com/kaiser-home/nodecore/internal/infrastructure/config"
	"github.com/kaiser-home/nodecore/internal/infrastructure/logging"
	"github.com/kaiser-home/nodecore/internal/infrastructure/mqtt"
	"github.com/kaiser-home/nodecore/internal/resilience"
	"github.com/kaiser-home/nodecore/internal/store"
	"github.com/kaiser-home/nodecore/internal/system"
	"github.com/kaiser-home/nodecore/internal/telemetry"
)

const (
	// tickInterval drives time-based work: connect scheduling, the sensor
	// cadence and the ERROR recovery delay.
	tickInterval = time.Second

	// eventQueueSize bounds the inbound event queue. Emergencies,
	// session-loss notices and download results block rather than drop
	// when it fills.
	eventQueueSize = 64

	// diagnosticsEventCount is how many recent safety events a
	// diagnostics reply carries.
	diagnosticsEventCount = 20
)

// ErrRestartRequested is returned from Run when an operator restart or
// configuration reset asks for a fresh process. The supervisor relaunches
// the binary, which re-runs the full boot sequence.
var ErrRestartRequested = errors.New("node: restart requested")

// Options wires an Agent. Config, Transport, Builder, Safety, Driver,
// Actuators, Store and Audit are required; the rest fall back to defaults
// or stay disabled when nil.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Transport Transport
	Link      LinkChecker
	Installer Installer
	Builder   *addressing.Builder
	Safety    *gpio.SafetyManager
	Driver    gpio.Driver
	Actuators *actuator.Controller
	Store     *store.Store
	Audit     audit.Repository

	// Recorder enables local telemetry when non-nil.
	Recorder *telemetry.Recorder

	// Guard enables upstream enrichment when non-nil.
	Guard *enrichment.Guard

	// Clock substitutes time in tests. Nil means the system clock.
	Clock resilience.Clock

	// Session overrides the generated per-boot session identifier. It must
	// match the one baked into the transport's will payload.
	Session string
}

// Agent is the node's control loop.
type Agent struct {
	cfg       *config.Config
	logger    *logging.Logger
	ctrl      *system.Controller
	conn      *resilience.ConnectionManager
	transport Transport
	link      LinkChecker
	installer Installer
	builder   *addressing.Builder
	safety    *gpio.SafetyManager
	driver    gpio.Driver
	actuators *actuator.Controller
	store     *store.Store
	audit     audit.Repository
	recorder  *telemetry.Recorder
	guard     *enrichment.Guard
	clock     resilience.Clock

	session   string
	startedAt time.Time
	events    chan event
	stop      chan error
	decoders  map[addressing.InboundKind]decoder

	// Loop-owned state, only touched from the run goroutine.
	zone       store.ZoneAssignment
	hasZone    bool
	sensors    map[int]store.SensorSpec
	lastSample time.Time
	erroredAt  time.Time

	// resumeCancel is the emergency latch: set while a resume sequence is
	// in flight, callable from the transport goroutine.
	resumeMu     sync.Mutex
	resumeCancel context.CancelFunc
}

// New wires an agent. The controller starts in BOOT; nothing runs until
// Run is called.
func New(opts Options) (*Agent, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("node: nil config")
	case opts.Transport == nil:
		return nil, fmt.Errorf("node: nil transport")
	case opts.Builder == nil:
		return nil, fmt.Errorf("node: nil address builder")
	case opts.Safety == nil:
		return nil, fmt.Errorf("node: nil safety manager")
	case opts.Driver == nil:
		return nil, fmt.Errorf("node: nil gpio driver")
	case opts.Actuators == nil:
		return nil, fmt.Errorf("node: nil actuator controller")
	case opts.Store == nil:
		return nil, fmt.Errorf("node: nil store")
	case opts.Audit == nil:
		return nil, fmt.Errorf("node: nil audit repository")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = resilience.SystemClock()
	}
	link := opts.Link
	if link == nil {
		link = NetLinkChecker{}
	}
	installer := opts.Installer
	if installer == nil {
		installer = NoopInstaller{}
	}
	session := opts.Session
	if session == "" {
		session = "ses-" + uuid.NewString()[:8]
	}

	a := &Agent{
		cfg:       opts.Config,
		logger:    logger.With("component", "agent"),
		transport: opts.Transport,
		link:      link,
		installer: installer,
		builder:   opts.Builder,
		safety:    opts.Safety,
		driver:    opts.Driver,
		actuators: opts.Actuators,
		store:     opts.Store,
		audit:     opts.Audit,
		recorder:  opts.Recorder,
		guard:     opts.Guard,
		clock:     clock,
		session:   session,
		startedAt: clock.Now(),
		events:    make(chan event, eventQueueSize),
		stop:      make(chan error, 1),
		decoders:  defaultDecoders(),
		sensors:   make(map[int]store.SensorSpec),
	}
	a.ctrl = system.NewController(logger)
	a.conn = resilience.NewConnectionManager(resilience.ConnectionConfig{
		BaseDelay:  opts.Config.MQTT.Reconnect.BaseDelay(),
		MaxDelay:   opts.Config.MQTT.Reconnect.MaxDelay(),
		MaxRetries: opts.Config.MQTT.Reconnect.MaxRetries,
	}, clock)
	a.conn.SetLogger(logger)
	a.ctrl.SetOnTransition(a.onTransition)
	a.safety.SetOnConflict(a.onConflict)
	a.transport.SetOnDisconnect(a.onBrokerDown)
	return a, nil
}

// Session returns this boot's session identifier.
func (a *Agent) Session() string { return a.session }

// State returns the current top-level state.
func (a *Agent) State() system.State { return a.ctrl.Current() }

// Run executes the control loop until ctx is cancelled or a restart is
// requested. It owns all state transitions: collaborators feed events in,
// the loop drains them strictly in order.
func (a *Agent) Run(ctx context.Context) error {
	a.startedAt = a.clock.Now()
	a.logger.Info("agent starting",
		"node_id", a.cfg.Node.ID,
		"session", a.session,
		"state", string(a.ctrl.Current()))

	a.loadPersisted(ctx)
	a.evaluateBoot(ctx)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return nil
		case err := <-a.stop:
			a.shutdown()
			return err
		case <-ticker.C:
			a.step(ctx)
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

// shutdown publishes a final retained OFFLINE status so the coordinator
// sees a clean exit instead of a will-triggered one.
func (a *Agent) shutdown() {
	a.preemptResume("shutting down")
	if topic, err := a.builder.SystemStatus(); err == nil {
		a.publishJSON(topic, statusPayload{
			NodeID:        a.cfg.Node.ID,
			State:         offlineState,
			Session:       a.session,
			UptimeSeconds: a.uptimeSeconds(),
		}, true)
	}
	a.logger.Info("agent stopped", "session", a.session)
}

// =============================================================================
// Tick work
// =============================================================================

// step runs the time-based work for the current state, one pass per tick.
func (a *Agent) step(ctx context.Context) {
	switch a.ctrl.Current() {
	case system.StateBoot, system.StateWiFiSetup:
		a.evaluateBoot(ctx)

	case system.StateWiFiConnected:
		a.maybeConnect(ctx)

	case system.StateMQTTConnected, system.StateAwaitingConfig,
		system.StateZoneConfigured, system.StateSensorsConfigured:
		a.checkSession()

	case system.StateOperational:
		if a.checkSession() {
			a.maybeSample(ctx)
		}

	case system.StateSafeMode:
		a.keepReachable()

	case system.StateError:
		a.maybeRecover(ctx)

	case system.StateMQTTConnecting, system.StateLibraryDownload:
		// Waiting on an in-flight attempt or a download result.
	}
}

// evaluateBoot drives BOOT and WIFI_SETUP: without stored credentials the
// node parks in provisioning; with them it moves on as soon as the link
// is up.
func (a *Agent) evaluateBoot(ctx context.Context) {
	state := a.ctrl.Current()
	if state != system.StateBoot && state != system.StateWiFiSetup {
		return
	}
	has, err := a.store.HasCredentials(ctx)
	if err != nil {
		a.logger.Error("checking stored credentials", "error", err)
		return
	}
	if !has {
		if state == system.StateBoot {
			if err := a.ctrl.TransitionTo(system.StateWiFiSetup, "no stored credentials"); err != nil {
				a.logger.Error("entering provisioning", "error", err)
			}
		}
		return
	}
	if a.link.LinkUp() {
		a.ctrl.HandleConnectivityEvent(system.EventLinkUp)
	}
}

// maybeConnect runs one broker connection attempt when the backoff
// schedule says one is due. The attempt is synchronous; the client's
// per-attempt timeout bounds it.
func (a *Agent) maybeConnect(ctx context.Context) {
	if !a.link.LinkUp() {
		return
	}
	if !a.conn.Due() {
		return
	}
	a.ctrl.HandleConnectivityEvent(system.EventBrokerConnecting)
	ok := a.conn.Attempt(a.connectOnce)
	if !ok {
		a.ctrl.HandleConnectivityEvent(system.EventBrokerLost)
		return
	}
	a.ctrl.HandleConnectivityEvent(system.EventBrokerConnected)
	a.afterConnect(ctx)
}

func (a *Agent) connectOnce() bool {
	if err := a.transport.Connect(); err != nil {
		a.logger.Warn("broker connect failed", "error", err)
		return false
	}
	return true
}

// checkSession verifies the session behind a connected state is still
// there, degrading to WIFI_CONNECTED when it is not. Covers disconnect
// callbacks lost to timing. Returns false when the state changed.
func (a *Agent) checkSession() bool {
	if !a.link.LinkUp() {
		a.conn.RecordDisconnect()
		a.ctrl.HandleConnectivityEvent(system.EventLinkLost)
		return false
	}
	if !a.transport.IsConnected() {
		a.conn.RecordDisconnect()
		a.ctrl.HandleConnectivityEvent(system.EventBrokerLost)
		return false
	}
	return true
}

// keepReachable maintains the broker session while parked in SAFE_MODE.
// The state does not change; an unreachable node in SAFE_MODE could never
// receive the resume or restart that gets it out.
func (a *Agent) keepReachable() {
	if a.transport.IsConnected() || !a.link.LinkUp() {
		return
	}
	if !a.conn.Due() {
		return
	}
	if a.conn.Attempt(a.connectOnce) {
		a.logger.Info("broker session restored in safe mode")
		a.subscribeAll()
		a.publishCurrentStatus("broker session restored")
	}
}

// maybeRecover leaves ERROR for BOOT once the recovery delay has passed.
func (a *Agent) maybeRecover(ctx context.Context) {
	if a.erroredAt.IsZero() {
		a.erroredAt = a.clock.Now()
		return
	}
	if a.clock.Now().Sub(a.erroredAt) < a.cfg.Safety.ErrorRecoveryDelay() {
		return
	}
	a.erroredAt = time.Time{}
	a.conn.Reset()
	if err := a.ctrl.Reinitialize("error recovery delay elapsed"); err != nil {
		a.logger.Error("reinitialising after error", "error", err)
		return
	}
	a.evaluateBoot(ctx)
}

// maybeSample publishes one round of sensor readings when the cadence is
// due. The first round goes out immediately on entering OPERATIONAL.
func (a *Agent) maybeSample(ctx context.Context) {
	if len(a.sensors) == 0 {
		return
	}
	now := a.clock.Now()
	if !a.lastSample.IsZero() && now.Sub(a.lastSample) < a.cfg.Sensors.Interval() {
		return
	}
	a.lastSample = now
	a.sampleSensors(ctx, now)
}

func (a *Agent) sampleSensors(ctx context.Context, now time.Time) {
	pins := make([]int, 0, len(a.sensors))
	for pin := range a.sensors {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	for _, pin := range pins {
		high, err := a.driver.Read(pin)
		if err != nil {
			a.logger.Error("reading sensor", "pin", pin, "error", err)
			continue
		}
		value := 0.0
		if high {
			value = 1.0
		}
		a.publishReading(ctx, a.sensors[pin], value, now)
	}
}

func (a *Agent) publishReading(ctx context.Context, spec store.SensorSpec, value float64, now time.Time) {
	reading := sensorReadingPayload{
		NodeID: a.cfg.Node.ID,
		Pin:    spec.Pin,
		Name:   spec.Name,
		Kind:   spec.Kind,
		Value:  value,
		At:     now.UTC().Format(time.RFC3339),
	}
	if a.hasZone {
		topic, err := a.builder.SensorData(a.zone.MasterZone, a.zone.Subzone, spec.Pin)
		if err != nil {
			a.logger.Error("sensor address", "pin", spec.Pin, "error", err)
		} else {
			a.publishJSON(topic, reading, false)
		}
	}
	if a.recorder != nil {
		zone := a.zone.MasterZone
		if a.zone.Subzone != "" {
			zone = a.zone.MasterZone + "/" + a.zone.Subzone
		}
		a.recorder.RecordReading(a.cfg.Node.ID, zone, spec.Pin, value)
	}
	a.enrich(ctx, reading)
}

// enrich forwards one reading upstream through the breaker. A rejected or
// failed call falls back to a local telemetry marker; sampling never
// waits on upstream health beyond the per-call timeout.
func (a *Agent) enrich(ctx context.Context, reading sensorReadingPayload) {
	if a.guard == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Enrichment.Timeout())
	defer cancel()
	_, err := a.guard.Call(callCtx, "enrich/readings", reading)
	if err == nil {
		return
	}
	if errors.Is(err, enrichment.ErrCircuitOpen) {
		a.logger.Debug("enrichment rejected locally", "pin", reading.Pin)
	} else {
		a.logger.Warn("enrichment failed", "pin", reading.Pin, "error", err)
	}
	if a.recorder != nil {
		a.recorder.RecordEvent(a.cfg.Node.ID, "enrichment_fallback", map[string]interface{}{
			"pin":   reading.Pin,
			"value": reading.Value,
		})
	}
}

// =============================================================================
// Session establishment
// =============================================================================

// afterConnect restores subscriptions and picks the post-session state:
// nodes holding a full stored configuration go straight back to work, the
// rest wait for the coordinator.
func (a *Agent) afterConnect(ctx context.Context) {
	a.subscribeAll()
	full, err := a.store.HasFullConfiguration(ctx)
	if err != nil {
		a.logger.Error("checking stored configuration", "error", err)
		full = false
	}
	if full {
		if err := a.ctrl.TransitionTo(system.StateOperational, "stored configuration restored"); err != nil {
			a.logger.Error("restoring operational state", "error", err)
		}
		return
	}
	if err := a.ctrl.TransitionTo(system.StateAwaitingConfig, "no stored configuration"); err != nil {
		a.logger.Error("awaiting configuration", "error", err)
	}
}

func (a *Agent) subscribeAll() {
	topics, err := a.builder.InboundSubscriptions()
	if err != nil {
		a.logger.Error("building subscription list", "error", err)
		return
	}
	for _, topic := range topics {
		if err := a.transport.Subscribe(topic, a.qos(), a.onMessage); err != nil {
			a.logger.Error("subscribing", "topic", topic, "error", err)
		}
	}
}

// =============================================================================
// Transport callbacks
// =============================================================================

// onMessage runs on the transport goroutine. It classifies, decodes and
// enqueues; the only processing done here is the emergency latch, which
// cancels an in-flight resume so the loop frees up for the emergency
// waiting behind it.
func (a *Agent) onMessage(topic string, payload []byte) error {
	in, err := a.builder.ParseInbound(topic)
	if err != nil {
		a.logger.Debug("ignoring topic", "topic", topic, "error", err)
		return nil
	}
	dec, ok := a.decoders[in.Kind]
	if !ok {
		a.logger.Debug("no decoder for category", "kind", string(in.Kind))
		return nil
	}
	ev, err := dec(in, payload)
	if err != nil {
		a.logger.Warn("dropping undecodable message", "topic", topic, "error", err)
		return nil
	}
	if in.Kind == addressing.InboundEmergency || in.Kind == addressing.InboundActuatorEmergency {
		a.preemptResume("emergency received")
		a.events <- ev
		return nil
	}
	select {
	case a.events <- ev:
	default:
		a.logger.Error("event queue full, dropping message",
			"topic", topic, "event", ev.eventName())
	}
	return nil
}

// onBrokerDown runs on the transport goroutine. Session loss must reach
// the loop even when the queue is saturated, so the send blocks.
func (a *Agent) onBrokerDown(err error) {
	a.events <- brokerLostEvent{Err: err}
}

// onConflict records every pin conflict the safety layer refuses, from
// whichever goroutine tripped it.
func (a *Agent) onConflict(rec gpio.ConflictRecord) {
	pin := rec.Pin
	detail := map[string]any{
		"kind":      string(rec.Kind),
		"requested": string(rec.Requested),
	}
	if rec.Owner != "" {
		detail["owner"] = string(rec.Owner)
	}
	a.recordAudit(context.Background(), audit.SafetyEvent{
		Action: audit.ActionGPIOConflict,
		Pin:    &pin,
		State:  string(a.ctrl.Current()),
		Detail: detail,
	})
	if a.recorder != nil {
		a.recorder.RecordEvent(a.cfg.Node.ID, "gpio_conflict", map[string]interface{}{
			"pin":  rec.Pin,
			"kind": string(rec.Kind),
		})
	}
}

// =============================================================================
// Transition observer
// =============================================================================

// onTransition runs synchronously inside every successful transition:
// status goes out, the audit trail gets a row, telemetry gets an event.
func (a *Agent) onTransition(tr system.Transition) {
	if tr.To == system.StateError {
		a.erroredAt = a.clock.Now()
	}
	a.publishStatus(tr)
	a.recordAudit(context.Background(), audit.SafetyEvent{
		Action: audit.ActionTransition,
		State:  string(tr.To),
		Detail: map[string]any{
			"from":   string(tr.From),
			"reason": tr.Reason,
		},
	})
	if a.recorder != nil {
		a.recorder.RecordEvent(a.cfg.Node.ID, "state_transition", map[string]interface{}{
			"from": string(tr.From),
			"to":   string(tr.To),
		})
	}
}

func (a *Agent) publishStatus(tr system.Transition) {
	topic, err := a.builder.SystemStatus()
	if err != nil {
		a.logger.Error("status address", "error", err)
		return
	}
	a.publishJSON(topic, statusPayload{
		NodeID:        a.cfg.Node.ID,
		State:         string(tr.To),
		Session:       a.session,
		UptimeSeconds: a.uptimeSeconds(),
		Previous:      string(tr.From),
		Reason:        tr.Reason,
	}, true)
}

// publishCurrentStatus re-publishes the retained status without a
// transition, as after a session restore.
func (a *Agent) publishCurrentStatus(reason string) {
	topic, err := a.builder.SystemStatus()
	if err != nil {
		a.logger.Error("status address", "error", err)
		return
	}
	a.publishJSON(topic, statusPayload{
		NodeID:        a.cfg.Node.ID,
		State:         string(a.ctrl.Current()),
		Session:       a.session,
		UptimeSeconds: a.uptimeSeconds(),
		Reason:        reason,
	}, true)
}

// =============================================================================
// Persistence and claims
// =============================================================================

// loadPersisted restores the coordinator-applied configuration from the
// store. Sensor pins are claimed immediately; actuators were registered
// during wiring.
func (a *Agent) loadPersisted(ctx context.Context) {
	zone, err := a.store.LoadZone(ctx)
	switch {
	case err == nil:
		a.zone = zone
		a.hasZone = true
	case !store.IsNotFound(err):
		a.logger.Error("loading zone assignment", "error", err)
	}

	specs, err := a.store.LoadSensorSpecs(ctx)
	switch {
	case err == nil:
		a.claimSensors(specs)
	case !store.IsNotFound(err):
		a.logger.Error("loading sensor specs", "error", err)
	}
}

// claimSensors reconciles the sensor set: pins no longer configured go
// back to safe mode, new pins are claimed and configured as inputs. A
// refused claim skips that sensor and leaves the rest running; the
// conflict is recorded by the safety layer.
func (a *Agent) claimSensors(specs []store.SensorSpec) int {
	next := make(map[int]store.SensorSpec, len(specs))
	for _, spec := range specs {
		next[spec.Pin] = spec
	}

	for pin := range a.sensors {
		if _, keep := next[pin]; keep {
			continue
		}
		if err := a.safety.MakeSafe(pin, "sensor removed from configuration"); err != nil {
			a.logger.Error("releasing removed sensor pin", "pin", pin, "error", err)
		}
		delete(a.sensors, pin)
	}

	applied := 0
	pins := make([]int, 0, len(next))
	for pin := range next {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	for _, pin := range pins {
		spec := next[pin]
		if _, have := a.sensors[pin]; have {
			a.sensors[pin] = spec
			applied++
			continue
		}
		if err := a.safety.Release(pin, sensorOwner(pin)); err != nil {
			a.logger.Warn("sensor pin refused", "pin", pin, "error", err)
			continue
		}
		if err := a.driver.ConfigureInput(pin); err != nil {
			a.logger.Error("configuring sensor input", "pin", pin, "error", err)
			if mkErr := a.safety.MakeSafe(pin, "sensor input configuration failed"); mkErr != nil {
				a.logger.Error("returning failed sensor pin to safe mode", "pin", pin, "error", mkErr)
			}
			continue
		}
		a.sensors[pin] = spec
		applied++
	}
	return applied
}

func sensorOwner(pin int) gpio.ComponentID {
	return gpio.ComponentID(fmt.Sprintf("sensor:%d", pin))
}

// =============================================================================
// Helpers
// =============================================================================

// armResume installs a cancellable context for a resume sequence; the
// cancel func stays reachable from the transport goroutine so an
// emergency can abort the sequence mid-flight.
func (a *Agent) armResume(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	a.resumeMu.Lock()
	a.resumeCancel = cancel
	a.resumeMu.Unlock()
	return ctx
}

func (a *Agent) disarmResume() {
	a.resumeMu.Lock()
	cancel := a.resumeCancel
	a.resumeCancel = nil
	a.resumeMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// preemptResume aborts an in-flight resume, if any. Safe from any
// goroutine.
func (a *Agent) preemptResume(reason string) {
	a.resumeMu.Lock()
	cancel := a.resumeCancel
	a.resumeMu.Unlock()
	if cancel != nil {
		a.logger.Warn("aborting in-flight resume", "reason", reason)
		cancel()
	}
}

// publishJSON marshals and publishes, logging failures rather than
// propagating them: a publish problem is a connectivity problem, and the
// connectivity path already handles those.
func (a *Agent) publishJSON(topic string, v any, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Error("marshalling payload", "topic", topic, "error", err)
		return
	}
	if err := a.transport.Publish(topic, data, a.qos(), retained); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			a.logger.Debug("publish skipped, not connected", "topic", topic)
			return
		}
		a.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

func (a *Agent) qos() byte {
	return byte(a.cfg.MQTT.QoS) // #nosec G115 -- validated to 0..2 at config load
}

func (a *Agent) recordAudit(ctx context.Context, ev audit.SafetyEvent) {
	if err := a.audit.Record(ctx, &ev); err != nil {
		a.logger.Error("recording safety event", "action", string(ev.Action), "error", err)
	}
}

func (a *Agent) uptimeSeconds() int64 {
	return int64(a.clock.Now().Sub(a.startedAt).Seconds())
}
