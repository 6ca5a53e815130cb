package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/supnet/relations/internal/events"
	"github.com/supnet/relations/internal/logging"
	"github.com/supnet/relations/internal/models"
	"github.com/supnet/relations/internal/repositories"
)

const (
	defaultStoreTimeout   = 5 * time.Second
	defaultPublishTimeout = 3 * time.Second
	defaultPageLimit      = 20
)

// ServiceConfig tunes the orchestration layer. Zero values fall back to
// defaults.
type ServiceConfig struct {
	// StoreTimeout bounds how long a single store call (including its
	// transaction) may run.
	StoreTimeout time.Duration
	// PublishTimeout bounds the best-effort event publication.
	PublishTimeout time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service orchestrates the relationship state machine over the store, the
// read cache, and the event notifier. All collaborators are passed in at
// construction; there is no ambient lookup.
type Service struct {
	store    repositories.RelationshipStore
	users    repositories.UserDirectory
	cache    *ReadCache
	notifier events.Notifier

	storeTimeout   time.Duration
	publishTimeout time.Duration
	now            func() time.Time
}

// NewService wires the relationship service from its collaborators.
func NewService(store repositories.RelationshipStore, users repositories.UserDirectory, cache *ReadCache, notifier events.Notifier, cfg ServiceConfig) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if notifier == nil {
		notifier = events.NopNotifier{}
	}

	return &Service{
		store:          store,
		users:          users,
		cache:          cache,
		notifier:       notifier,
		storeTimeout:   cfg.StoreTimeout,
		publishTimeout: cfg.PublishTimeout,
		now:            cfg.Now,
	}
}

// SendFriendRequest creates a PENDING edge from requester to addressee.
// A REJECTED edge for the pair is replaced by a fresh request; any other
// existing edge is a conflict.
func (s *Service) SendFriendRequest(ctx context.Context, requesterID, addresseeID string) (models.Relationship, error) {
	if requesterID == addresseeID {
		return models.Relationship{}, ErrSelfReference
	}

	for _, id := range []string{requesterID, addresseeID} {
		exists, err := s.userExists(ctx, id)
		if err != nil {
			return models.Relationship{}, err
		}
		if !exists {
			return models.Relationship{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
	}

	var created models.Relationship
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findUnordered(ctx, tx, requesterID, addresseeID)
		if err != nil {
			return err
		}

		step, err := DecideSend(existing)
		if err != nil {
			return err
		}

		if step.Kind == StepReplace {
			if err := tx.Delete(ctx, existing.ID); err != nil {
				return err
			}
		}

		created = models.Relationship{
			ID:          uuid.NewString(),
			RequesterID: requesterID,
			AddresseeID: addresseeID,
			Status:      step.Next,
			CreatedAt:   s.now(),
		}
		if err := tx.Insert(ctx, created); err != nil {
			// Two concurrent requests for the same pair race on the
			// unordered-pair index; the loser observes a conflict.
			if errors.Is(err, repositories.ErrConflict) {
				return NewConflict(ConflictAlreadyPending)
			}
			if errors.Is(err, repositories.ErrNotFound) {
				return fmt.Errorf("user vanished: %w", ErrNotFound)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return models.Relationship{}, err
	}

	s.finishWrite(ctx, requesterID, addresseeID, events.Event{
		Kind:      events.KindRequestSent,
		ActorID:   requesterID,
		OtherID:   addresseeID,
		Timestamp: s.now(),
	})

	return created, nil
}

// AcceptFriendRequest transitions the pending request friend->user to
// ACCEPTED.
func (s *Service) AcceptFriendRequest(ctx context.Context, userID, friendID string) (models.Relationship, error) {
	var accepted models.Relationship
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findOrdered(ctx, tx, friendID, userID)
		if err != nil {
			return err
		}

		step, err := DecideAccept(existing)
		if err != nil {
			return err
		}

		now := s.now()
		if err := tx.UpdateStatus(ctx, existing.ID, step.Next, now); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}

		accepted = *existing
		accepted.Status = step.Next
		accepted.UpdatedAt = &now
		return nil
	})
	if err != nil {
		return models.Relationship{}, err
	}

	s.finishWrite(ctx, userID, friendID, events.Event{
		Kind:      events.KindRequestAccepted,
		ActorID:   userID,
		OtherID:   friendID,
		Timestamp: s.now(),
	})

	return accepted, nil
}

// RejectFriendRequest transitions the pending request friend->user to
// REJECTED. The pair may send a fresh request afterwards.
func (s *Service) RejectFriendRequest(ctx context.Context, userID, friendID string) error {
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findOrdered(ctx, tx, friendID, userID)
		if err != nil {
			return err
		}

		step, err := DecideReject(existing)
		if err != nil {
			return err
		}

		if err := tx.UpdateStatus(ctx, existing.ID, step.Next, s.now()); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.finishWrite(ctx, userID, friendID, events.Event{
		Kind:      events.KindRequestRejected,
		ActorID:   userID,
		OtherID:   friendID,
		Timestamp: s.now(),
	})

	return nil
}

// CancelFriendRequest withdraws the pending request requester->addressee.
func (s *Service) CancelFriendRequest(ctx context.Context, requesterID, addresseeID string) error {
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findOrdered(ctx, tx, requesterID, addresseeID)
		if err != nil {
			return err
		}

		if _, err := DecideCancel(existing); err != nil {
			return err
		}

		return tx.Delete(ctx, existing.ID)
	})
	if err != nil {
		return err
	}

	s.finishWrite(ctx, requesterID, addresseeID, events.Event{
		Kind:      events.KindRequestCancelled,
		ActorID:   requesterID,
		OtherID:   addresseeID,
		Timestamp: s.now(),
	})

	return nil
}

// RemoveFriend dissolves an accepted friendship. Both parties are notified.
func (s *Service) RemoveFriend(ctx context.Context, userID, friendID string) error {
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findUnordered(ctx, tx, userID, friendID)
		if err != nil {
			return err
		}

		if _, err := DecideRemove(existing); err != nil {
			return err
		}

		return tx.Delete(ctx, existing.ID)
	})
	if err != nil {
		return err
	}

	now := s.now()
	s.finishWrite(ctx, userID, friendID,
		events.Event{Kind: events.KindFriendRemoved, ActorID: userID, OtherID: friendID, Timestamp: now},
		events.Event{Kind: events.KindFriendRemoved, ActorID: friendID, OtherID: userID, Timestamp: now},
	)

	return nil
}

// BlockUser forces the pair into BLOCKED, creating the edge if absent and
// recording userID as the blocker.
func (s *Service) BlockUser(ctx context.Context, userID, targetID string) error {
	if userID == targetID {
		return ErrSelfReference
	}

	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		existing, err := findUnordered(ctx, tx, userID, targetID)
		if err != nil {
			return err
		}

		step, err := DecideBlock(existing)
		if err != nil {
			return err
		}

		now := s.now()
		switch step.Kind {
		case StepInsert:
			rel := models.Relationship{
				ID:          uuid.NewString(),
				RequesterID: userID,
				AddresseeID: targetID,
				Status:      step.Next,
				CreatedAt:   now,
			}
			if err := tx.Insert(ctx, rel); err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return fmt.Errorf("user %s: %w", targetID, ErrNotFound)
				}
				return err
			}
			return nil
		default:
			updated := *existing
			updated.RequesterID = userID
			updated.AddresseeID = targetID
			updated.Status = step.Next
			updated.UpdatedAt = &now
			return tx.Overwrite(ctx, updated)
		}
	})
	if err != nil {
		return err
	}

	s.finishWrite(ctx, userID, targetID, events.Event{
		Kind:      events.KindUserBlocked,
		ActorID:   userID,
		OtherID:   targetID,
		Timestamp: s.now(),
	})

	return nil
}

// UnblockUser deletes the BLOCKED edge for the pair. Unblocking a pair that
// is not blocked is a silent no-op.
func (s *Service) UnblockUser(ctx context.Context, userID, targetID string) error {
	deleted := false
	err := s.mutate(ctx, func(ctx context.Context, tx repositories.RelationshipTx) error {
		deleted = false
		existing, err := findUnordered(ctx, tx, userID, targetID)
		if err != nil {
			return err
		}

		step, err := DecideUnblock(existing)
		if err != nil {
			return err
		}
		if step.Kind == StepNone {
			return nil
		}

		if err := tx.Delete(ctx, existing.ID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return err
	}

	if deleted {
		if err := s.cache.InvalidatePair(ctx, userID, targetID); err != nil {
			logging.FromContext(ctx).Error("invalidate relationship cache", "error", err)
		}
	}

	return nil
}

// GetFriendshipStatus reports the edge status between two users from u1's
// point of view. Identical ids yield the synthetic SELF status.
func (s *Service) GetFriendshipStatus(ctx context.Context, u1, u2 string) (models.PairStatus, error) {
	if u1 == u2 {
		return models.PairStatus{Status: models.StatusSelf}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rel, err := s.store.FindByUnorderedPair(ctx, u1, u2)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.PairStatus{}, nil
		}
		return models.PairStatus{}, s.storeErr(err)
	}

	return models.PairStatus{
		Status:            rel.Status,
		IsOutgoingRequest: rel.RequesterID == u1,
	}, nil
}

// AreFriends reports whether an ACCEPTED edge exists for the pair.
func (s *Service) AreFriends(ctx context.Context, u1, u2 string) (bool, error) {
	if u1 == u2 {
		return false, nil
	}

	if friends, ok := s.cache.AreFriends(ctx, u1, u2); ok {
		return friends, nil
	}

	status, err := s.GetFriendshipStatus(ctx, u1, u2)
	if err != nil {
		return false, err
	}

	friends := status.Status == models.StatusAccepted
	s.cache.StoreAreFriends(ctx, u1, u2, friends)
	return friends, nil
}

// GetFriendsCount returns the number of accepted friends of userID.
func (s *Service) GetFriendsCount(ctx context.Context, userID string) (int64, error) {
	if count, ok := s.cache.FriendsCount(ctx, userID); ok {
		return count, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	count, err := s.store.CountAccepted(storeCtx, userID)
	if err != nil {
		return 0, s.storeErr(err)
	}

	s.cache.StoreFriendsCount(ctx, userID, count)
	return count, nil
}

// GetFriendsPage returns one window over userID's accepted friends plus the
// total count. Pagination is computed in-process over the full id list; the
// list is assumed small enough to hold in memory.
func (s *Service) GetFriendsPage(ctx context.Context, userID string, offset, limit int) (models.FriendsPage, error) {
	ids, err := s.friendIDs(ctx, userID)
	if err != nil {
		return models.FriendsPage{}, err
	}

	page := models.FriendsPage{TotalCount: int64(len(ids))}

	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if offset >= len(ids) {
		page.Items = []models.UserRef{}
		return page, nil
	}

	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	window := ids[offset:end]

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	refs, err := s.users.RefsByIDs(storeCtx, window)
	cancel()
	if err != nil {
		return models.FriendsPage{}, s.storeErr(err)
	}

	// Directory results carry no ordering guarantee; restore the edge
	// recency order of the id list.
	byID := make(map[string]models.UserRef, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref
	}

	page.Items = make([]models.UserRef, 0, len(window))
	for _, id := range window {
		if ref, ok := byID[id]; ok {
			page.Items = append(page.Items, ref)
		}
	}

	return page, nil
}

// GetIncomingRequests lists pending requests addressed to userID.
func (s *Service) GetIncomingRequests(ctx context.Context, userID string) ([]models.Relationship, error) {
	return s.listByStatus(ctx, userID, models.StatusPending, false)
}

// GetOutgoingRequests lists pending requests sent by userID.
func (s *Service) GetOutgoingRequests(ctx context.Context, userID string) ([]models.Relationship, error) {
	return s.listByStatus(ctx, userID, models.StatusPending, true)
}

func (s *Service) listByStatus(ctx context.Context, userID string, status models.Status, asRequester bool) ([]models.Relationship, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	rels, err := s.store.ListByStatus(ctx, userID, status, asRequester)
	if err != nil {
		return nil, s.storeErr(err)
	}
	return rels, nil
}

func (s *Service) friendIDs(ctx context.Context, userID string) ([]string, error) {
	if ids, ok := s.cache.FriendIDs(ctx, userID); ok {
		return ids, nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	ids, err := s.store.ListAcceptedFriendIDs(storeCtx, userID)
	if err != nil {
		return nil, s.storeErr(err)
	}

	s.cache.StoreFriendIDs(ctx, userID, ids)
	return ids, nil
}

func (s *Service) userExists(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	exists, err := s.users.Exists(ctx, id)
	if err != nil {
		return false, s.storeErr(err)
	}
	return exists, nil
}

// mutate runs fn through the store's transactional boundary with a bounded
// timeout and maps storage-level failures into the domain taxonomy.
func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context, tx repositories.RelationshipTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if err := s.store.Mutate(ctx, fn); err != nil {
		return s.storeErr(err)
	}
	return nil
}

// finishWrite runs the post-commit tail of a mutating operation: cache
// invalidation for both affected users, then best-effort event publication.
// Event failures are logged and absorbed; the committed write stands.
func (s *Service) finishWrite(ctx context.Context, a, b string, evts ...events.Event) {
	if err := s.cache.InvalidatePair(ctx, a, b); err != nil {
		logging.FromContext(ctx).Error("invalidate relationship cache", "error", err)
	}

	// The write is already committed; publication must not be cut short by
	// the caller abandoning the request.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	for _, event := range evts {
		if err := s.notifier.Publish(pubCtx, event); err != nil {
			logging.FromContext(ctx).Error("publish relationship event",
				"kind", string(event.Kind), "actorId", event.ActorID, "error", err)
		}
	}
}

// storeErr maps storage failures onto the domain taxonomy. Domain errors
// pass through untouched.
func (s *Service) storeErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSelfReference) {
		return err
	}
	if _, ok := AsConflict(err); ok {
		return err
	}

	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func findOrdered(ctx context.Context, tx repositories.RelationshipTx, requesterID, addresseeID string) (*models.Relationship, error) {
	rel, err := tx.FindByOrderedPair(ctx, requesterID, addresseeID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}

func findUnordered(ctx context.Context, tx repositories.RelationshipTx, a, b string) (*models.Relationship, error) {
	rel, err := tx.FindByUnorderedPair(ctx, a, b)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rel, nil
}
