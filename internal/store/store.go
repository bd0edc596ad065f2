package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Namespaces partition the node_state table by concern.
const (
	// NamespaceNetwork holds wireless credentials.
	NamespaceNetwork = "network"

	// NamespaceConfig holds the coordinator-supplied configuration:
	// zone assignment, sensor specs, actuator specs, reserved pins.
	NamespaceConfig = "config"
)

// Well-known keys within the namespaces.
const (
	KeyCredentials  = "credentials"
	KeyZone         = "zone"
	KeySensors      = "sensors"
	KeyActuators    = "actuators"
	KeyReservedPins = "reserved_pins"
)

// Store reads and writes node state rows in SQLite.
type Store struct {
	db *sql.DB
}

// New creates a store over an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts a JSON-encoded value under namespace/key.
func (s *Store) Save(ctx context.Context, namespace, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s/%s: %w", namespace, key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO node_state (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(namespace, key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = excluded.updated_at`,
		namespace, key, string(b),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Load unmarshals the value stored under namespace/key into v.
// Returns ErrNotFound when no row exists.
func (s *Store) Load(ctx context.Context, namespace, key string, v any) error {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM node_state WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", namespace, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("loading %s/%s: %w", namespace, key, err)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("unmarshalling %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Has reports whether a value exists under namespace/key.
func (s *Store) Has(ctx context.Context, namespace, key string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM node_state WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking %s/%s: %w", namespace, key, err)
	}
	return count > 0, nil
}

// Delete removes the value under namespace/key.
// Returns ErrNotFound when no row existed.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM node_state WHERE namespace = ? AND key = ?",
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("deleting %s/%s: %w", namespace, key, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", namespace, key, ErrNotFound)
	}
	return nil
}

// DeleteNamespace removes every value in a namespace and returns the
// number of rows deleted. Deleting an empty namespace is not an error.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM node_state WHERE namespace = ?", namespace,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting namespace %s: %w", namespace, err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	return n, nil
}

// Reset wipes all persisted state, both configuration and network
// credentials. The factory-reset path: the next boot behaves like a
// first boot.
func (s *Store) Reset(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM node_state")
	if err != nil {
		return 0, fmt.Errorf("resetting node state: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // SQLite always supports RowsAffected
	return n, nil
}
