package events

import (
	"context"
	"time"
)

// Kind identifies a relationship domain event.
type Kind string

const (
	KindRequestSent      Kind = "friendship.request.sent"
	KindRequestAccepted  Kind = "friendship.request.accepted"
	KindRequestRejected  Kind = "friendship.request.rejected"
	KindRequestCancelled Kind = "friendship.request.cancelled"
	KindFriendRemoved    Kind = "friendship.removed"
	KindUserBlocked      Kind = "friendship.user.blocked"
)

// Event describes a committed relationship transition. ActorID is the user
// who performed the operation; OtherID is the counterpart.
type Event struct {
	Kind      Kind      `json:"kind"`
	ActorID   string    `json:"actorId"`
	OtherID   string    `json:"otherId"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes domain events. Publication is best-effort from the
// caller's perspective: a failure never rolls back the relationship write.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}
