package handlers

import (
	"context"

	"github.com/supnet/relations/internal/models"
)

// RelationshipService captures the relationship operations the HTTP layer
// exposes. Caller identity is taken from the request payload; verifying it
// is the concern of an upstream gateway, not this service.
type RelationshipService interface {
	SendFriendRequest(ctx context.Context, requesterID, addresseeID string) (models.Relationship, error)
	AcceptFriendRequest(ctx context.Context, userID, friendID string) (models.Relationship, error)
	RejectFriendRequest(ctx context.Context, userID, friendID string) error
	CancelFriendRequest(ctx context.Context, requesterID, addresseeID string) error
	RemoveFriend(ctx context.Context, userID, friendID string) error
	BlockUser(ctx context.Context, userID, targetID string) error
	UnblockUser(ctx context.Context, userID, targetID string) error

	GetFriendsPage(ctx context.Context, userID string, offset, limit int) (models.FriendsPage, error)
	GetIncomingRequests(ctx context.Context, userID string) ([]models.Relationship, error)
	GetOutgoingRequests(ctx context.Context, userID string) ([]models.Relationship, error)
	GetFriendshipStatus(ctx context.Context, u1, u2 string) (models.PairStatus, error)
	GetFriendsCount(ctx context.Context, userID string) (int64, error)
	AreFriends(ctx context.Context, u1, u2 string) (bool, error)
}
