package relationship

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced relationship or user does not exist.
	ErrNotFound = errors.New("relationship not found")
	// ErrSelfReference indicates the requester and addressee are the same user.
	ErrSelfReference = errors.New("requester and addressee are the same user")
	// ErrStoreUnavailable indicates a transient persistence failure; the
	// operation is safe to retry with the same arguments.
	ErrStoreUnavailable = errors.New("relationship store unavailable")
)

// ConflictReason identifies which precondition on the current status failed.
type ConflictReason string

const (
	ConflictAlreadyPending     ConflictReason = "already_pending"
	ConflictAlreadyFriends     ConflictReason = "already_friends"
	ConflictBlocked            ConflictReason = "blocked"
	ConflictPreviouslyRejected ConflictReason = "previously_rejected"
)

// ConflictError reports a status-precondition violation. These are
// deterministic outcomes of the input and current state and are never
// retried automatically.
type ConflictError struct {
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("relationship conflict: %s", e.Reason)
}

// NewConflict constructs a ConflictError for the given reason.
func NewConflict(reason ConflictReason) error {
	return &ConflictError{Reason: reason}
}

// AsConflict unwraps err into a ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
