package relationship

import "github.com/supnet/relations/internal/models"

// StepKind tags the write a state-machine decision calls for.
type StepKind int

const (
	// StepInsert creates a fresh row for the pair.
	StepInsert StepKind = iota
	// StepReplace deletes the existing row and creates a fresh one. Used
	// when a new request supersedes a terminal REJECTED row.
	StepReplace
	// StepUpdate transitions the existing row's status in place.
	StepUpdate
	// StepOverwrite rewrites status and direction of the existing row.
	// Only blocking does this: the blocker becomes the requester.
	StepOverwrite
	// StepDelete removes the existing row.
	StepDelete
	// StepNone leaves the store untouched.
	StepNone
)

// Step is the outcome of a state-machine decision: which write to perform
// and, for inserts and updates, the status the row ends up with.
type Step struct {
	Kind StepKind
	Next models.Status
}

// DecideSend validates a new friend request against the current edge for the
// unordered pair. existing is nil when no row exists. A REJECTED row is
// terminal-reusable: it is replaced by a fresh PENDING row rather than
// blocking the request.
func DecideSend(existing *models.Relationship) (Step, error) {
	if existing == nil {
		return Step{Kind: StepInsert, Next: models.StatusPending}, nil
	}

	switch existing.Status {
	case models.StatusPending:
		return Step{}, NewConflict(ConflictAlreadyPending)
	case models.StatusAccepted:
		return Step{}, NewConflict(ConflictAlreadyFriends)
	case models.StatusBlocked:
		return Step{}, NewConflict(ConflictBlocked)
	case models.StatusRejected:
		return Step{Kind: StepReplace, Next: models.StatusPending}, nil
	}

	return Step{}, NewConflict(ConflictAlreadyPending)
}

// DecideAccept validates accepting a pending request. existing must be the
// exact-direction row requester=friend, addressee=user; anything else is
// indistinguishable from "never sent" for the caller.
func DecideAccept(existing *models.Relationship) (Step, error) {
	if existing == nil || existing.Status != models.StatusPending {
		return Step{}, ErrNotFound
	}
	return Step{Kind: StepUpdate, Next: models.StatusAccepted}, nil
}

// DecideReject validates rejecting a pending request. Same lookup contract
// as DecideAccept.
func DecideReject(existing *models.Relationship) (Step, error) {
	if existing == nil || existing.Status != models.StatusPending {
		return Step{}, ErrNotFound
	}
	return Step{Kind: StepUpdate, Next: models.StatusRejected}, nil
}

// DecideCancel validates the requester withdrawing their own pending
// request. existing must be the exact-direction row.
func DecideCancel(existing *models.Relationship) (Step, error) {
	if existing == nil || existing.Status != models.StatusPending {
		return Step{}, ErrNotFound
	}
	return Step{Kind: StepDelete}, nil
}

// DecideRemove validates dissolving an accepted friendship. existing is the
// unordered-pair row.
func DecideRemove(existing *models.Relationship) (Step, error) {
	if existing == nil || existing.Status != models.StatusAccepted {
		return Step{}, ErrNotFound
	}
	return Step{Kind: StepDelete}, nil
}

// DecideBlock forces the pair into BLOCKED regardless of prior state. An
// existing row is overwritten so the blocker is recorded as the requester;
// an absent row is created.
func DecideBlock(existing *models.Relationship) (Step, error) {
	if existing == nil {
		return Step{Kind: StepInsert, Next: models.StatusBlocked}, nil
	}
	return Step{Kind: StepOverwrite, Next: models.StatusBlocked}, nil
}

// DecideUnblock removes a BLOCKED row. Unblocking a pair that is not
// blocked is a deliberate no-op, not an error.
func DecideUnblock(existing *models.Relationship) (Step, error) {
	if existing == nil || existing.Status != models.StatusBlocked {
		return Step{Kind: StepNone}, nil
	}
	return Step{Kind: StepDelete}, nil
}
