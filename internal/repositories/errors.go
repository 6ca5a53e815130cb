package repositories

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrUnavailable indicates a transient storage failure (connection,
	// timeout, retry budget exhausted). Safe to retry the whole operation.
	ErrUnavailable = errors.New("storage unavailable")
)
