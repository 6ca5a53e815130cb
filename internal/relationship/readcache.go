package relationship

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/supnet/relations/internal/cache"
	"github.com/supnet/relations/internal/logging"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultNegativeTTL = 30 * time.Second
)

// ReadCache memoizes the derived friend-id list, friend count, and pairwise
// are-friends checks. Entries are derived, never authoritative: a miss or a
// backend failure falls through to the store, and writes invalidate every
// key that could name the affected users.
type ReadCache struct {
	kv          cache.KV
	ttl         time.Duration
	negativeTTL time.Duration
}

// NewReadCache wraps kv with the relationship cache key schema. Empty friend
// lists are stored under the shorter negativeTTL so an empty result cannot
// poison the cache for long.
func NewReadCache(kv cache.KV, ttl, negativeTTL time.Duration) *ReadCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = defaultNegativeTTL
	}
	return &ReadCache{kv: kv, ttl: ttl, negativeTTL: negativeTTL}
}

func friendListKey(userID string) string  { return "friends:list:" + userID }
func friendCountKey(userID string) string { return "friends:count:" + userID }

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "friends:pair:" + a + ":" + b
}

// FriendIDs returns the cached friend-id list for userID.
func (c *ReadCache) FriendIDs(ctx context.Context, userID string) ([]string, bool) {
	raw, err := c.kv.Get(ctx, friendListKey(userID))
	if err != nil {
		return nil, false
	}

	ids := []string{}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		logging.FromContext(ctx).Warn("discarding malformed cached friend list", "userId", userID, "error", err)
		_ = c.kv.Del(ctx, friendListKey(userID))
		return nil, false
	}

	return ids, true
}

// StoreFriendIDs caches the friend-id list for userID.
func (c *ReadCache) StoreFriendIDs(ctx context.Context, userID string, ids []string) {
	if ids == nil {
		ids = []string{}
	}

	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}

	ttl := c.ttl
	if len(ids) == 0 {
		ttl = c.negativeTTL
	}

	if err := c.kv.Set(ctx, friendListKey(userID), string(raw), ttl); err != nil {
		logging.FromContext(ctx).Warn("cache friend list", "userId", userID, "error", err)
	}
}

// FriendsCount returns the cached accepted-friend count for userID.
func (c *ReadCache) FriendsCount(ctx context.Context, userID string) (int64, bool) {
	raw, err := c.kv.Get(ctx, friendCountKey(userID))
	if err != nil {
		return 0, false
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		_ = c.kv.Del(ctx, friendCountKey(userID))
		return 0, false
	}

	return count, true
}

// StoreFriendsCount caches the accepted-friend count for userID.
func (c *ReadCache) StoreFriendsCount(ctx context.Context, userID string, count int64) {
	ttl := c.ttl
	if count == 0 {
		ttl = c.negativeTTL
	}

	if err := c.kv.Set(ctx, friendCountKey(userID), strconv.FormatInt(count, 10), ttl); err != nil {
		logging.FromContext(ctx).Warn("cache friends count", "userId", userID, "error", err)
	}
}

// AreFriends returns the cached pairwise friendship check.
func (c *ReadCache) AreFriends(ctx context.Context, a, b string) (bool, bool) {
	raw, err := c.kv.Get(ctx, pairKey(a, b))
	if err != nil {
		return false, false
	}
	return raw == "1", true
}

// StoreAreFriends caches the pairwise friendship check.
func (c *ReadCache) StoreAreFriends(ctx context.Context, a, b string, friends bool) {
	value := "0"
	ttl := c.negativeTTL
	if friends {
		value = "1"
		ttl = c.ttl
	}

	if err := c.kv.Set(ctx, pairKey(a, b), value, ttl); err != nil {
		logging.FromContext(ctx).Warn("cache pair check", "error", err)
	}
}

// InvalidatePair drops every cached shape naming either user of the pair:
// both friend lists, both counts, and the pairwise check.
func (c *ReadCache) InvalidatePair(ctx context.Context, a, b string) error {
	return c.kv.Del(ctx,
		friendListKey(a),
		friendListKey(b),
		friendCountKey(a),
		friendCountKey(b),
		pairKey(a, b),
	)
}
