package store

import (
	"context"
	"errors"

	"github.com/kaiser-home/nodecore/internal/actuator"
)

// Credentials are the stored wireless credentials. Their presence
// decides the boot path: absent means the node needs provisioning.
type Credentials struct {
	SSID       string `json:"ssid"`
	Passphrase string `json:"passphrase"`
}

// ZoneAssignment places the node in the site hierarchy. Sensor data
// addresses embed both zones.
type ZoneAssignment struct {
	MasterZone string `json:"master_zone"`
	Subzone    string `json:"subzone"`
}

// SensorSpec describes one input pin sampled on the measurement cadence.
type SensorSpec struct {
	Pin  int    `json:"pin"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// SaveCredentials persists wireless credentials.
func (s *Store) SaveCredentials(ctx context.Context, c Credentials) error {
	return s.Save(ctx, NamespaceNetwork, KeyCredentials, c)
}

// LoadCredentials returns the stored wireless credentials.
func (s *Store) LoadCredentials(ctx context.Context) (Credentials, error) {
	var c Credentials
	err := s.Load(ctx, NamespaceNetwork, KeyCredentials, &c)
	return c, err
}

// HasCredentials reports whether wireless credentials are stored.
func (s *Store) HasCredentials(ctx context.Context) (bool, error) {
	return s.Has(ctx, NamespaceNetwork, KeyCredentials)
}

// SaveZone persists the zone assignment.
func (s *Store) SaveZone(ctx context.Context, z ZoneAssignment) error {
	return s.Save(ctx, NamespaceConfig, KeyZone, z)
}

// LoadZone returns the stored zone assignment.
func (s *Store) LoadZone(ctx context.Context) (ZoneAssignment, error) {
	var z ZoneAssignment
	err := s.Load(ctx, NamespaceConfig, KeyZone, &z)
	return z, err
}

// SaveSensorSpecs persists the sensor configuration.
func (s *Store) SaveSensorSpecs(ctx context.Context, specs []SensorSpec) error {
	return s.Save(ctx, NamespaceConfig, KeySensors, specs)
}

// LoadSensorSpecs returns the stored sensor configuration.
func (s *Store) LoadSensorSpecs(ctx context.Context) ([]SensorSpec, error) {
	var specs []SensorSpec
	err := s.Load(ctx, NamespaceConfig, KeySensors, &specs)
	return specs, err
}

// SaveActuatorSpecs persists the actuator configuration.
func (s *Store) SaveActuatorSpecs(ctx context.Context, specs []actuator.Spec) error {
	return s.Save(ctx, NamespaceConfig, KeyActuators, specs)
}

// LoadActuatorSpecs returns the stored actuator configuration.
func (s *Store) LoadActuatorSpecs(ctx context.Context) ([]actuator.Spec, error) {
	var specs []actuator.Spec
	err := s.Load(ctx, NamespaceConfig, KeyActuators, &specs)
	return specs, err
}

// SaveReservedPins persists extra reserved pins beyond the hardware
// variant's own set.
func (s *Store) SaveReservedPins(ctx context.Context, pins []int) error {
	return s.Save(ctx, NamespaceConfig, KeyReservedPins, pins)
}

// LoadReservedPins returns the persisted reserved-pin seed.
func (s *Store) LoadReservedPins(ctx context.Context) ([]int, error) {
	var pins []int
	err := s.Load(ctx, NamespaceConfig, KeyReservedPins, &pins)
	return pins, err
}

// HasFullConfiguration reports whether zone, sensor and actuator
// documents are all present. A node with a full configuration skips the
// coordinator round-trip and goes straight to OPERATIONAL after the
// broker session is up. Empty lists count: the key's presence records
// that the coordinator applied a configuration, even a deliberately
// empty one.
func (s *Store) HasFullConfiguration(ctx context.Context) (bool, error) {
	for _, key := range []string{KeyZone, KeySensors, KeyActuators} {
		ok, err := s.Has(ctx, NamespaceConfig, key)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// IsNotFound reports whether err is the store's missing-key error.
// Convenience for boot-path call sites that treat absence as a branch,
// not a failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
