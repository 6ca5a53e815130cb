package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisDialTimeout = 5 * time.Second

// redisKV implements KV on a Redis client.
type redisKV struct {
	client *goredis.Client
}

func newRedisClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

func newRedisKV(cfg Config) (*redisKV, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisKV{client: client}, nil
}

func (r *redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// redisPubSub implements PubSub on Redis channels.
type redisPubSub struct {
	client *goredis.Client
}

func newRedisPubSub(cfg Config) (*redisPubSub, error) {
	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	return &redisPubSub{client: client}, nil
}

func (r *redisPubSub) Publish(ctx context.Context, channel, message string) error {
	return r.client.Publish(ctx, channel, message).Err()
}

func (r *redisPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	ps := r.client.Subscribe(ctx, channels...)
	out := make(chan *Message, 256)

	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()

	cancel := func() {
		_ = ps.Close()
	}
	return out, cancel, nil
}
