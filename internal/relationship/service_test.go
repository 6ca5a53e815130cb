package relationship

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/supnet/relations/internal/cache"
	"github.com/supnet/relations/internal/events"
	"github.com/supnet/relations/internal/models"
	"github.com/supnet/relations/internal/repositories"
)

type memStore struct {
	mu        sync.Mutex
	rows      map[string]models.Relationship
	mutateErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]models.Relationship)}
}

func (s *memStore) Mutate(ctx context.Context, fn func(ctx context.Context, tx repositories.RelationshipTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mutateErr != nil {
		return s.mutateErr
	}

	snapshot := make(map[string]models.Relationship, len(s.rows))
	for id, row := range s.rows {
		snapshot[id] = row
	}

	if err := fn(ctx, &memTx{rows: s.rows}); err != nil {
		s.rows = snapshot
		return err
	}
	return nil
}

func (s *memStore) FindByUnorderedPair(_ context.Context, a, b string) (models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findPair(s.rows, a, b)
}

func (s *memStore) CountAccepted(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, row := range s.rows {
		if row.Status == models.StatusAccepted && (row.RequesterID == userID || row.AddresseeID == userID) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) ListAcceptedFriendIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.Relationship
	for _, row := range s.rows {
		if row.Status == models.StatusAccepted && (row.RequesterID == userID || row.AddresseeID == userID) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.OtherParty(userID))
	}
	return ids, nil
}

func (s *memStore) ListByStatus(_ context.Context, userID string, status models.Status, asRequester bool) ([]models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.Relationship
	for _, row := range s.rows {
		if row.Status != status {
			continue
		}
		if asRequester && row.RequesterID == userID {
			rows = append(rows, row)
		}
		if !asRequester && row.AddresseeID == userID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows, nil
}

func (s *memStore) seed(rel models.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rel.ID] = rel
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memTx struct {
	rows map[string]models.Relationship
}

func (t *memTx) FindByOrderedPair(_ context.Context, requesterID, addresseeID string) (models.Relationship, error) {
	for _, row := range t.rows {
		if row.RequesterID == requesterID && row.AddresseeID == addresseeID {
			return row, nil
		}
	}
	return models.Relationship{}, repositories.ErrNotFound
}

func (t *memTx) FindByUnorderedPair(_ context.Context, a, b string) (models.Relationship, error) {
	return findPair(t.rows, a, b)
}

func (t *memTx) Insert(_ context.Context, rel models.Relationship) error {
	if _, err := findPair(t.rows, rel.RequesterID, rel.AddresseeID); err == nil {
		return repositories.ErrConflict
	}
	t.rows[rel.ID] = rel
	return nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, status models.Status, now time.Time) error {
	row, ok := t.rows[id]
	if !ok {
		return repositories.ErrNotFound
	}
	row.Status = status
	row.UpdatedAt = &now
	t.rows[id] = row
	return nil
}

func (t *memTx) Overwrite(_ context.Context, rel models.Relationship) error {
	if _, ok := t.rows[rel.ID]; !ok {
		return repositories.ErrNotFound
	}
	t.rows[rel.ID] = rel
	return nil
}

func (t *memTx) Delete(_ context.Context, id string) error {
	if _, ok := t.rows[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(t.rows, id)
	return nil
}

func findPair(rows map[string]models.Relationship, a, b string) (models.Relationship, error) {
	for _, row := range rows {
		if (row.RequesterID == a && row.AddresseeID == b) || (row.RequesterID == b && row.AddresseeID == a) {
			return row, nil
		}
	}
	return models.Relationship{}, repositories.ErrNotFound
}

type memUsers struct {
	refs map[string]models.UserRef
}

func newMemUsers(ids ...string) *memUsers {
	refs := make(map[string]models.UserRef, len(ids))
	for _, id := range ids {
		refs[id] = models.UserRef{ID: id, DisplayName: "name-" + id}
	}
	return &memUsers{refs: refs}
}

func (u *memUsers) Exists(_ context.Context, id string) (bool, error) {
	_, ok := u.refs[id]
	return ok, nil
}

func (u *memUsers) RefsByIDs(_ context.Context, ids []string) ([]models.UserRef, error) {
	var refs []models.UserRef
	for _, id := range ids {
		if ref, ok := u.refs[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

type recordingNotifier struct {
	mu         sync.Mutex
	events     []events.Event
	publishErr error
}

func (n *recordingNotifier) Publish(_ context.Context, event events.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.publishErr != nil {
		return n.publishErr
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) kinds() []events.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]events.Kind, 0, len(n.events))
	for _, event := range n.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type testEnv struct {
	service  *Service
	store    *memStore
	users    *memUsers
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T, userIDs ...string) *testEnv {
	t.Helper()

	kv, err := cache.NewKV(cache.Config{LocalGCInterval: time.Hour})
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}

	store := newMemStore()
	users := newMemUsers(userIDs...)
	notifier := &recordingNotifier{}

	var tick int64
	now := func() time.Time {
		tick++
		return time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Second)
	}

	service := NewService(store, users, NewReadCache(kv, time.Minute, time.Second), notifier, ServiceConfig{Now: now})

	return &testEnv{service: service, store: store, users: users, notifier: notifier}
}

func TestSendFriendRequestCreatesPending(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	rel, err := env.service.SendFriendRequest(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("send friend request: %v", err)
	}

	if rel.Status != models.StatusPending {
		t.Fatalf("expected PENDING got %s", rel.Status)
	}
	if rel.RequesterID != "user-1" || rel.AddresseeID != "user-2" {
		t.Fatalf("unexpected direction: %+v", rel)
	}
	if rel.ID == "" {
		t.Fatalf("expected an assigned id")
	}

	kinds := env.notifier.kinds()
	if len(kinds) != 1 || kinds[0] != events.KindRequestSent {
		t.Fatalf("unexpected events: %v", kinds)
	}
}

func TestSendFriendRequestSelf(t *testing.T) {
	env := newTestEnv(t, "user-5")

	if _, err := env.service.SendFriendRequest(context.Background(), "user-5", "user-5"); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference got %v", err)
	}
	if env.store.rowCount() != 0 {
		t.Fatalf("expected no rows after self request")
	}
}

func TestSendFriendRequestUnknownUser(t *testing.T) {
	env := newTestEnv(t, "user-1")

	if _, err := env.service.SendFriendRequest(context.Background(), "user-1", "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestSendFriendRequestConflictPrecedence(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	cases := []struct {
		name   string
		status models.Status
		reason ConflictReason
	}{
		{"pending", models.StatusPending, ConflictAlreadyPending},
		{"accepted", models.StatusAccepted, ConflictAlreadyFriends},
		{"blocked", models.StatusBlocked, ConflictBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env.store.mu.Lock()
			env.store.rows = map[string]models.Relationship{
				"rel-1": {ID: "rel-1", RequesterID: "user-2", AddresseeID: "user-1", Status: tc.status, CreatedAt: time.Now()},
			}
			env.store.mu.Unlock()

			_, err := env.service.SendFriendRequest(ctx, "user-1", "user-2")
			conflict, ok := AsConflict(err)
			if !ok {
				t.Fatalf("expected conflict, got %v", err)
			}
			if conflict.Reason != tc.reason {
				t.Fatalf("expected reason %q got %q", tc.reason, conflict.Reason)
			}
		})
	}
}

func TestReRequestAfterRejection(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	first, err := env.service.SendFriendRequest(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}

	if err := env.service.RejectFriendRequest(ctx, "user-2", "user-1"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	second, err := env.service.SendFriendRequest(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("re-request after rejection: %v", err)
	}

	if second.ID == first.ID {
		t.Fatalf("expected a fresh row, got the old id %s", first.ID)
	}
	if second.Status != models.StatusPending {
		t.Fatalf("expected PENDING got %s", second.Status)
	}
	if env.store.rowCount() != 1 {
		t.Fatalf("expected exactly one row, got %d", env.store.rowCount())
	}
}

func TestAcceptSymmetricStatus(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	accepted, err := env.service.AcceptFriendRequest(ctx, "user-2", "user-1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.StatusAccepted {
		t.Fatalf("expected ACCEPTED got %s", accepted.Status)
	}
	if accepted.UpdatedAt == nil {
		t.Fatalf("expected updatedAt to be set on transition")
	}

	fromRequester, err := env.service.GetFriendshipStatus(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("status from requester: %v", err)
	}
	if fromRequester.Status != models.StatusAccepted || !fromRequester.IsOutgoingRequest {
		t.Fatalf("unexpected status from requester: %+v", fromRequester)
	}

	fromAddressee, err := env.service.GetFriendshipStatus(ctx, "user-2", "user-1")
	if err != nil {
		t.Fatalf("status from addressee: %v", err)
	}
	if fromAddressee.Status != models.StatusAccepted || fromAddressee.IsOutgoingRequest {
		t.Fatalf("unexpected status from addressee: %+v", fromAddressee)
	}

	friends, err := env.service.AreFriends(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("are friends: %v", err)
	}
	if !friends {
		t.Fatalf("expected users to be friends")
	}
}

func TestAcceptWrongDirection(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The requester cannot accept their own request.
	if _, err := env.service.AcceptFriendRequest(ctx, "user-1", "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestCancelFriendRequest(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := env.service.CancelFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if env.store.rowCount() != 0 {
		t.Fatalf("expected row to be deleted")
	}

	if err := env.service.CancelFriendRequest(ctx, "user-1", "user-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second cancel: expected ErrNotFound got %v", err)
	}
}

func TestRemoveFriendConvergesCounts(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := env.service.AcceptFriendRequest(ctx, "user-2", "user-1"); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, id := range []string{"user-1", "user-2"} {
		count, err := env.service.GetFriendsCount(ctx, id)
		if err != nil {
			t.Fatalf("count %s: %v", id, err)
		}
		if count != 1 {
			t.Fatalf("expected count 1 for %s got %d", id, count)
		}
	}

	if err := env.service.RemoveFriend(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	for _, id := range []string{"user-1", "user-2"} {
		count, err := env.service.GetFriendsCount(ctx, id)
		if err != nil {
			t.Fatalf("count %s after remove: %v", id, err)
		}
		if count != 0 {
			t.Fatalf("expected count 0 for %s after remove, got %d", id, count)
		}
	}

	kinds := env.notifier.kinds()
	removed := 0
	for _, kind := range kinds {
		if kind == events.KindFriendRemoved {
			removed++
		}
	}
	if removed != 2 {
		t.Fatalf("expected both parties notified of removal, got %d events", removed)
	}
}

func TestBlockOverwritesDirection(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := env.service.BlockUser(ctx, "user-2", "user-1"); err != nil {
		t.Fatalf("block: %v", err)
	}

	fromBlocker, err := env.service.GetFriendshipStatus(ctx, "user-2", "user-1")
	if err != nil {
		t.Fatalf("status from blocker: %v", err)
	}
	if fromBlocker.Status != models.StatusBlocked || !fromBlocker.IsOutgoingRequest {
		t.Fatalf("expected blocker to be recorded as requester: %+v", fromBlocker)
	}

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err == nil {
		t.Fatalf("expected blocked conflict")
	} else if conflict, ok := AsConflict(err); !ok || conflict.Reason != ConflictBlocked {
		t.Fatalf("expected blocked conflict got %v", err)
	}

	if err := env.service.BlockUser(ctx, "user-1", "user-1"); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("self block: expected ErrSelfReference got %v", err)
	}
}

func TestUnblockIsIdempotent(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	ctx := context.Background()

	if err := env.service.BlockUser(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("block: %v", err)
	}

	if err := env.service.UnblockUser(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("first unblock: %v", err)
	}
	if err := env.service.UnblockUser(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("second unblock: %v", err)
	}

	if env.store.rowCount() != 0 {
		t.Fatalf("expected edge to be absent after unblock")
	}

	status, err := env.service.GetFriendshipStatus(ctx, "user-1", "user-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Status != "" {
		t.Fatalf("expected no relationship, got %s", status.Status)
	}
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	env.notifier.publishErr = errors.New("broker down")

	rel, err := env.service.SendFriendRequest(context.Background(), "user-1", "user-2")
	if err != nil {
		t.Fatalf("expected success despite publish failure, got %v", err)
	}
	if rel.Status != models.StatusPending {
		t.Fatalf("unexpected status %s", rel.Status)
	}
	if env.store.rowCount() != 1 {
		t.Fatalf("expected committed row to stand")
	}
}

func TestStoreUnavailable(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2")
	env.store.mutateErr = repositories.ErrUnavailable

	if _, err := env.service.SendFriendRequest(context.Background(), "user-1", "user-2"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable got %v", err)
	}
}

func TestGetFriendsPageBoundary(t *testing.T) {
	ids := []string{"user-9"}
	for i := 0; i < 25; i++ {
		ids = append(ids, fmt.Sprintf("friend-%02d", i))
	}
	env := newTestEnv(t, ids...)
	ctx := context.Background()

	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		env.store.seed(models.Relationship{
			ID:          fmt.Sprintf("rel-%02d", i),
			RequesterID: "user-9",
			AddresseeID: fmt.Sprintf("friend-%02d", i),
			Status:      models.StatusAccepted,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}

	page, err := env.service.GetFriendsPage(ctx, "user-9", 20, 10)
	if err != nil {
		t.Fatalf("friends page: %v", err)
	}

	if page.TotalCount != 25 {
		t.Fatalf("expected total 25 got %d", page.TotalCount)
	}
	if len(page.Items) != 5 {
		t.Fatalf("expected 5 items got %d", len(page.Items))
	}

	// Newest edges come first, so the last page holds the oldest friends.
	if page.Items[len(page.Items)-1].ID != "friend-00" {
		t.Fatalf("expected oldest friend last, got %s", page.Items[len(page.Items)-1].ID)
	}

	beyond, err := env.service.GetFriendsPage(ctx, "user-9", 40, 10)
	if err != nil {
		t.Fatalf("page beyond end: %v", err)
	}
	if len(beyond.Items) != 0 || beyond.TotalCount != 25 {
		t.Fatalf("unexpected page beyond end: %+v", beyond)
	}
}

func TestPendingRequestListings(t *testing.T) {
	env := newTestEnv(t, "user-1", "user-2", "user-3")
	ctx := context.Background()

	if _, err := env.service.SendFriendRequest(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("send 1->2: %v", err)
	}
	if _, err := env.service.SendFriendRequest(ctx, "user-3", "user-2"); err != nil {
		t.Fatalf("send 3->2: %v", err)
	}

	incoming, err := env.service.GetIncomingRequests(ctx, "user-2")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(incoming) != 2 {
		t.Fatalf("expected 2 incoming requests got %d", len(incoming))
	}
	if incoming[0].RequesterID != "user-3" {
		t.Fatalf("expected newest request first, got %s", incoming[0].RequesterID)
	}

	outgoing, err := env.service.GetOutgoingRequests(ctx, "user-1")
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(outgoing) != 1 || outgoing[0].AddresseeID != "user-2" {
		t.Fatalf("unexpected outgoing requests: %+v", outgoing)
	}
}

func TestGetFriendshipStatusSelf(t *testing.T) {
	env := newTestEnv(t, "user-1")

	status, err := env.service.GetFriendshipStatus(context.Background(), "user-1", "user-1")
	if err != nil {
		t.Fatalf("self status: %v", err)
	}
	if status.Status != models.StatusSelf {
		t.Fatalf("expected synthetic SELF status, got %q", status.Status)
	}
}
