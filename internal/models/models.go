package models

import "time"

// Status enumerates the lifecycle states of a relationship edge.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
	StatusBlocked  Status = "BLOCKED"

	// StatusSelf is a synthetic status returned by pair-status lookups when
	// both user ids are the same. It is never persisted.
	StatusSelf Status = "SELF"
)

// Valid reports whether s is a persistable relationship status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected, StatusBlocked:
		return true
	}
	return false
}

// Relationship is the persisted edge between two users. The unordered pair
// {RequesterID, AddresseeID} is unique; direction records who initiated.
type Relationship struct {
	ID          string
	RequesterID string
	AddresseeID string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// OtherParty returns the counterpart of userID on this edge.
func (r Relationship) OtherParty(userID string) string {
	if r.RequesterID == userID {
		return r.AddresseeID
	}
	return r.RequesterID
}

// PairStatus describes the relationship between two users from the first
// user's point of view. Status is empty when no edge exists.
type PairStatus struct {
	Status            Status
	IsOutgoingRequest bool
}

// User represents an account known to the relationship service. Only the
// fields the friend listing needs are loaded here.
type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// UserRef is the projection of a user returned in friend pages.
type UserRef struct {
	ID          string
	DisplayName string
}

// FriendsPage is one window over a user's accepted friends.
type FriendsPage struct {
	Items      []UserRef
	TotalCount int64
}
