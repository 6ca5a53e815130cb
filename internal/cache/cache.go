package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("cache: key not found")

// KV is the key-value surface the read caches are built on. Entries are
// derived data, never authoritative; every operation is best-effort.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// Config selects and configures the cache backend. Leaving RedisAddr empty
// picks the in-process backend.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LocalGCInterval time.Duration
	LocalPubSubBuf  int
}

// NewKV returns a KV backed by Redis when RedisAddr is set, otherwise an
// in-process cache.
func NewKV(cfg Config) (KV, error) {
	if cfg.RedisAddr != "" {
		return newRedisKV(cfg)
	}
	return newLocalKV(cfg.LocalGCInterval), nil
}

// NewPubSub returns a PubSub backed by Redis when RedisAddr is set,
// otherwise an in-process fan-out.
func NewPubSub(cfg Config) (PubSub, error) {
	if cfg.RedisAddr != "" {
		return newRedisPubSub(cfg)
	}
	buf := cfg.LocalPubSubBuf
	if buf <= 0 {
		buf = 256
	}
	return newLocalPubSub(buf), nil
}
