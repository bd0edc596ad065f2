// Package actuator manages the node's output channels and the emergency
// lifecycle around them.
//
// Every actuator is an Output behind a typed capability interface (relay or
// PWM-class), registered against a pin claimed from the gpio safety layer.
// The Controller is the only writer: control calls are refused while an
// actuator is emergency-stopped, EmergencyStopAll reports per-pin outcomes
// and hands the whole pin table back to safe mode, and Resume re-enables
// actuators one at a time with verification between steps.
//
// # Emergency lifecycle
//
//	NORMAL -> ACTIVE    emergencyStopAll / trigger
//	ACTIVE -> CLEARING  operator acknowledgement (flags only, hardware
//	                    stays safe)
//	ACTIVE/CLEARING -> VERIFYING -> RESUMING -> NORMAL
//	                    staged resume; any verification failure aborts the
//	                    sequence back to ACTIVE with the remainder stopped
//
// Resume order is critical actuators first, then ascending pin. The
// sequence honours context cancellation between steps so an incoming
// emergency preempts it.
package actuator
