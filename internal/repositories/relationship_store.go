package repositories

import (
	"context"
	"time"

	"github.com/supnet/relations/internal/models"
)

// RelationshipTx is the transactional view of the relationship store. Every
// mutation re-reads inside the same transaction; reads here observe earlier
// writes of the same transaction.
type RelationshipTx interface {
	// FindByOrderedPair matches the exact direction only.
	FindByOrderedPair(ctx context.Context, requesterID, addresseeID string) (models.Relationship, error)
	// FindByUnorderedPair matches either direction.
	FindByUnorderedPair(ctx context.Context, a, b string) (models.Relationship, error)
	// Insert fails with ErrConflict when a row for the unordered pair
	// already exists.
	Insert(ctx context.Context, rel models.Relationship) error
	// UpdateStatus fails with ErrNotFound when the row no longer exists
	// (concurrent delete).
	UpdateStatus(ctx context.Context, id string, status models.Status, now time.Time) error
	// Overwrite rewrites direction and status of an existing row.
	Overwrite(ctx context.Context, rel models.Relationship) error
	Delete(ctx context.Context, id string) error
}

// RelationshipStore is the durable table of relationship edges. Mutations
// run through Mutate so the read-decide-write sequence of a single operation
// shares one serializable transaction.
type RelationshipStore interface {
	Mutate(ctx context.Context, fn func(ctx context.Context, tx RelationshipTx) error) error

	FindByUnorderedPair(ctx context.Context, a, b string) (models.Relationship, error)
	CountAccepted(ctx context.Context, userID string) (int64, error)
	// ListAcceptedFriendIDs returns the counterpart id of every ACCEPTED
	// edge touching userID, newest edge first.
	ListAcceptedFriendIDs(ctx context.Context, userID string) ([]string, error)
	// ListByStatus returns edges where userID appears on the requested
	// side, newest first.
	ListByStatus(ctx context.Context, userID string, status models.Status, asRequester bool) ([]models.Relationship, error)
}

// UserDirectory is the identity collaborator the relationship core consumes:
// an existence check plus reference hydration for friend pages.
type UserDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
	RefsByIDs(ctx context.Context, ids []string) ([]models.UserRef, error)
}
