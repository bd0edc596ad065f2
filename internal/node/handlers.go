package node

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kaiser-home/nodecore/internal/actuator"
	"github.com/kaiser-home/nodecore/internal/audit"
	"github.com/kaiser-home/nodecore/internal/gpio"
	"github.com/kaiser-home/nodecore/internal/system"
)

// handle processes one queued event to completion.
func (a *Agent) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case emergencyEvent:
		a.handleEmergency(ctx, ev)
	case systemCommandEvent:
		a.handleSystemCommand(ctx, ev)
	case actuatorCommandEvent:
		a.handleActuatorCommand(ev)
	case zoneConfigEvent:
		a.handleZoneConfig(ctx, ev)
	case sensorConfigEvent:
		a.handleSensorConfig(ctx, ev)
	case actuatorConfigEvent:
		a.handleActuatorConfig(ctx, ev)
	case systemUpdateEvent:
		a.logger.Info("fleet update notice", "version", ev.Version)
	case brokerLostEvent:
		a.handleBrokerLost(ev)
	case downloadDoneEvent:
		a.handleDownloadDone(ev)
	default:
		a.logger.Error("unhandled event", "event", ev.eventName())
	}
}

// =============================================================================
// Emergency
// =============================================================================

// handleEmergency is the hard-stop path: every actuator is stopped, the
// acknowledgement goes out, and the node parks in SAFE_MODE until an
// operator intervenes.
func (a *Agent) handleEmergency(ctx context.Context, ev emergencyEvent) {
	a.logger.Warn("emergency stop received",
		"scope", ev.Scope,
		"broadcast", ev.Broadcast,
		"reason", ev.Reason,
		"correlation_id", ev.CorrelationID)

	results, stopErr := a.actuators.EmergencyStopAll(ev.Reason)

	ack := emergencyAckPayload{
		Success:       stopErr == nil,
		NodeID:        a.cfg.Node.ID,
		CorrelationID: ev.CorrelationID,
	}
	for _, res := range results {
		if res.Stopped {
			ack.Stopped++
		} else {
			ack.Failed = append(ack.Failed, res.Pin)
		}
	}
	if topic, err := a.builder.EmergencyResponse(); err == nil {
		a.publishJSON(topic, ack, false)
	}

	a.ctrl.EnterSafeMode("emergency stop: " + ev.Reason)
	a.publishActuatorStatuses()

	detail := map[string]any{
		"scope":   ev.Scope,
		"reason":  ev.Reason,
		"stopped": ack.Stopped,
	}
	if ev.Broadcast {
		detail["broadcast"] = true
	}
	if ev.CorrelationID != "" {
		detail["correlation_id"] = ev.CorrelationID
	}
	if len(ack.Failed) > 0 {
		detail["failed_pins"] = ack.Failed
	}
	a.recordAudit(ctx, audit.SafetyEvent{
		Action: audit.ActionEmergencyStop,
		State:  string(a.ctrl.Current()),
		Detail: detail,
	})
	if stopErr != nil {
		a.logger.Error("emergency stop completed with failures", "error", stopErr)
	}
	if a.recorder != nil {
		a.recorder.RecordEvent(a.cfg.Node.ID, "emergency_stop", map[string]interface{}{
			"stopped": ack.Stopped,
			"scope":   ev.Scope,
		})
	}
}

// =============================================================================
// System commands
// =============================================================================

func (a *Agent) handleSystemCommand(ctx context.Context, ev systemCommandEvent) {
	a.logger.Info("system command", "command", ev.Command, "correlation_id", ev.CorrelationID)

	var err error
	switch ev.Command {
	case "restart":
		err = a.commandRestart("operator restart")
	case "reset_config":
		err = a.commandResetConfig(ctx)
	case "enter_safe_mode":
		err = a.commandEnterSafeMode()
	case "resume":
		err = a.commandResume(ctx)
	case "download_library":
		err = a.commandDownloadLibrary(ctx, ev.Library)
	case "diagnostics":
		err = a.commandDiagnostics(ctx)
	default:
		err = fmt.Errorf("unknown command %q", ev.Command)
	}

	detail := map[string]any{"command": ev.Command}
	if ev.CorrelationID != "" {
		detail["correlation_id"] = ev.CorrelationID
	}
	if err != nil {
		detail["error"] = err.Error()
		a.logger.Error("system command failed", "command", ev.Command, "error", err)
	}
	a.recordAudit(ctx, audit.SafetyEvent{
		Action: audit.ActionSystemCommand,
		State:  string(a.ctrl.Current()),
		Detail: detail,
	})
}

// commandRestart stops outputs, parks in SAFE_MODE and asks for a fresh
// process. The supervisor relaunch re-runs the full boot sequence with
// everything re-registered from the store.
func (a *Agent) commandRestart(reason string) error {
	state := a.ctrl.Current()
	if state != system.StateSafeMode && state != system.StateError {
		if _, err := a.actuators.EmergencyStopAll(reason); err != nil {
			a.logger.Error("stopping actuators for restart", "error", err)
		}
		a.ctrl.EnterSafeMode(reason)
		a.publishActuatorStatuses()
	}
	a.stop <- ErrRestartRequested
	return nil
}

// commandResetConfig wipes all persisted state and restarts the process.
// The next boot comes up with nothing stored and parks in provisioning.
func (a *Agent) commandResetConfig(ctx context.Context) error {
	deleted, err := a.store.Reset(ctx)
	if err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	a.logger.Warn("persisted state reset", "deleted", deleted)
	return a.commandRestart("configuration reset")
}

func (a *Agent) commandEnterSafeMode() error {
	if a.ctrl.Current() == system.StateSafeMode {
		return nil
	}
	if _, err := a.actuators.EmergencyStopAll("operator safe mode"); err != nil {
		a.logger.Error("stopping actuators for safe mode", "error", err)
	}
	a.ctrl.EnterSafeMode("operator command")
	a.publishActuatorStatuses()
	return nil
}

// commandResume walks stopped actuators back to life one at a time. An
// aborted sequence leaves everything after the failed actuator stopped
// and the node in SAFE_MODE; only a clean resume re-initialises the node.
func (a *Agent) commandResume(ctx context.Context) error {
	if state := a.ctrl.Current(); state != system.StateSafeMode {
		return fmt.Errorf("resume refused in %s", state)
	}

	resumeCtx := a.armResume(ctx)
	err := a.actuators.Resume(resumeCtx)
	a.disarmResume()
	a.publishActuatorStatuses()

	if err != nil {
		var resumeErr *actuator.ResumeError
		if errors.As(err, &resumeErr) {
			a.recordAudit(ctx, audit.SafetyEvent{
				Action: audit.ActionResume,
				Pin:    &resumeErr.Pin,
				State:  string(system.StateSafeMode),
				Detail: map[string]any{
					"aborted":  true,
					"attempts": resumeErr.Attempts,
				},
			})
		}
		return fmt.Errorf("resume: %w", err)
	}

	a.recordAudit(ctx, audit.SafetyEvent{
		Action: audit.ActionResume,
		Detail: map[string]any{"resumed": a.actuators.Count()},
	})
	a.conn.Reset()
	if err := a.ctrl.Reinitialize("resume complete"); err != nil {
		return fmt.Errorf("reinitialise after resume: %w", err)
	}
	a.evaluateBoot(ctx)
	return nil
}

// commandDownloadLibrary parks the node in LIBRARY_DOWNLOADING and hands
// the fetch to the installer; the outcome comes back as a loop event.
func (a *Agent) commandDownloadLibrary(ctx context.Context, library string) error {
	if library == "" {
		return fmt.Errorf("download_library: missing library field")
	}
	if err := a.ctrl.BeginLibraryDownload(); err != nil {
		return fmt.Errorf("begin download: %w", err)
	}
	go func() {
		err := a.installer.Install(ctx, library)
		a.events <- downloadDoneEvent{Library: library, Err: err}
	}()
	return nil
}

func (a *Agent) handleDownloadDone(ev downloadDoneEvent) {
	if ev.Err != nil {
		a.logger.Error("library download failed", "library", ev.Library, "error", ev.Err)
	} else {
		a.logger.Info("library download complete", "library", ev.Library)
	}
	if err := a.ctrl.CompleteLibraryDownload(ev.Err == nil); err != nil {
		a.logger.Error("leaving download state", "error", err)
	}
}

func (a *Agent) commandDiagnostics(ctx context.Context) error {
	topic, err := a.builder.SystemDiagnostics()
	if err != nil {
		return fmt.Errorf("diagnostics address: %w", err)
	}
	recent, err := a.audit.List(ctx, audit.Filter{Limit: diagnosticsEventCount})
	if err != nil {
		return fmt.Errorf("listing safety events: %w", err)
	}
	payload := diagnosticsPayload{
		NodeID:          a.cfg.Node.ID,
		State:           string(a.ctrl.Current()),
		Session:         a.session,
		UptimeSeconds:   a.uptimeSeconds(),
		EmergencyState:  string(a.actuators.State()),
		Actuators:       a.actuators.Count(),
		SafePins:        a.safety.SafePinCount(),
		NonReservedPins: a.safety.NonReservedCount(),
		RetryCount:      a.conn.RetryCount(),
		RecentEvents:    recent.Events,
	}
	if a.guard != nil {
		payload.BreakerState = string(a.guard.State())
	}
	a.publishJSON(topic, payload, false)
	return nil
}

// =============================================================================
// Actuator commands
// =============================================================================

// handleActuatorCommand applies one control request. Commands are only
// honoured while the node is operational.
func (a *Agent) handleActuatorCommand(ev actuatorCommandEvent) {
	if state := a.ctrl.Current(); state != system.StateOperational {
		a.logger.Warn("actuator command refused", "pin", ev.Pin, "state", string(state))
		return
	}
	var err error
	switch {
	case ev.Binary != nil:
		err = a.actuators.SetBinary(ev.Pin, *ev.Binary)
	case ev.Level != nil:
		err = a.actuators.Set(ev.Pin, *ev.Level)
	}
	if err != nil {
		a.logger.Warn("actuator command failed", "pin", ev.Pin, "error", err)
		return
	}
	if rec, ok := a.actuators.Record(ev.Pin); ok {
		a.publishActuatorStatus(rec)
	}
}

// =============================================================================
// Configuration
// =============================================================================

func (a *Agent) handleZoneConfig(ctx context.Context, ev zoneConfigEvent) {
	if err := a.store.SaveZone(ctx, ev.Zone); err != nil {
		a.logger.Error("persisting zone assignment", "error", err)
		return
	}
	a.zone = ev.Zone
	a.hasZone = true
	a.logger.Info("zone assigned",
		"master_zone", ev.Zone.MasterZone,
		"subzone", ev.Zone.Subzone)
	a.ctrl.HandleConfigurationEvent(system.EventZoneAssigned)
}

func (a *Agent) handleSensorConfig(ctx context.Context, ev sensorConfigEvent) {
	if err := a.store.SaveSensorSpecs(ctx, ev.Sensors); err != nil {
		a.logger.Error("persisting sensor specs", "error", err)
		return
	}
	applied := a.claimSensors(ev.Sensors)
	a.logger.Info("sensor configuration applied",
		"requested", len(ev.Sensors),
		"applied", applied)
	a.ctrl.HandleConfigurationEvent(system.EventSensorsApplied)
}

// handleActuatorConfig reconciles registrations against the new spec
// list. A pin conflict here is a safety fault: energised outputs are
// involved, so the node refuses to guess and parks in SAFE_MODE.
func (a *Agent) handleActuatorConfig(ctx context.Context, ev actuatorConfigEvent) {
	if err := a.store.SaveActuatorSpecs(ctx, ev.Actuators); err != nil {
		a.logger.Error("persisting actuator specs", "error", err)
		return
	}
	if conflict := a.applyActuatorSpecs(ev.Actuators); conflict != nil {
		if _, err := a.actuators.EmergencyStopAll("actuator configuration conflict"); err != nil {
			a.logger.Error("stopping actuators after configuration conflict", "error", err)
		}
		a.ctrl.EnterSafeMode(fmt.Sprintf("pin %d conflict during actuator configuration", conflict.Pin))
		a.publishActuatorStatuses()
		return
	}
	a.ctrl.HandleConfigurationEvent(system.EventActuatorsApplied)
	a.publishActuatorStatuses()
}

// applyActuatorSpecs returns the first pin conflict hit, nil otherwise.
// Unchanged registrations are left alone; changed ones are deregistered
// and re-registered.
func (a *Agent) applyActuatorSpecs(specs []actuator.Spec) *gpio.ConflictError {
	desired := make(map[int]actuator.Spec, len(specs))
	for _, spec := range specs {
		desired[spec.Pin] = spec
	}

	for _, rec := range a.actuators.Records() {
		spec, keep := desired[rec.Pin]
		if keep && spec.Kind == rec.Kind && spec.Name == rec.Name && spec.Critical == rec.Critical {
			delete(desired, rec.Pin)
			continue
		}
		if err := a.actuators.Deregister(rec.Pin, "actuator configuration changed"); err != nil {
			a.logger.Error("deregistering actuator", "pin", rec.Pin, "error", err)
		}
	}

	pins := make([]int, 0, len(desired))
	for pin := range desired {
		pins = append(pins, pin)
	}
	sort.Ints(pins)
	for _, pin := range pins {
		if err := a.actuators.Register(desired[pin]); err != nil {
			var conflict *gpio.ConflictError
			if errors.As(err, &conflict) {
				a.logger.Error("actuator pin conflict", "pin", pin, "error", err)
				return conflict
			}
			a.logger.Error("registering actuator", "pin", pin, "error", err)
		}
	}
	return nil
}

// =============================================================================
// Connectivity
// =============================================================================

func (a *Agent) handleBrokerLost(ev brokerLostEvent) {
	a.logger.Warn("broker session lost", "error", ev.Err)
	switch a.ctrl.Current() {
	case system.StateMQTTConnecting, system.StateMQTTConnected,
		system.StateAwaitingConfig, system.StateZoneConfigured,
		system.StateSensorsConfigured, system.StateOperational:
		a.conn.RecordDisconnect()
		a.ctrl.HandleConnectivityEvent(system.EventBrokerLost)
	default:
		// Already degraded or parked; the per-state reconnect path picks
		// it up.
		a.logger.Debug("broker loss outside connected states",
			"state", string(a.ctrl.Current()))
	}
}

// =============================================================================
// Actuator status
// =============================================================================

// publishActuatorStatuses pushes a retained status for every registered
// actuator.
func (a *Agent) publishActuatorStatuses() {
	for _, rec := range a.actuators.Records() {
		a.publishActuatorStatus(rec)
	}
}

func (a *Agent) publishActuatorStatus(rec actuator.Record) {
	topic, err := a.builder.ActuatorStatus(rec.Pin)
	if err != nil {
		a.logger.Error("actuator status address", "pin", rec.Pin, "error", err)
		return
	}
	a.publishJSON(topic, actuatorStatusPayload{
		Pin:              rec.Pin,
		Kind:             string(rec.Kind),
		Name:             rec.Name,
		Value:            rec.LastValue,
		EmergencyStopped: rec.EmergencyStopped,
	}, true)
}
