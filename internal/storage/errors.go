package storage

import "errors"

// ErrNotFound is returned when a requested state file does not exist.
var ErrNotFound = errors.New("storage: not found")
