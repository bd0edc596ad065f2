package store

import "errors"

// ErrNotFound is returned when no value exists for a namespace/key pair.
var ErrNotFound = errors.New("store: key not found")
