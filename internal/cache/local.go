package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	data     string
	expireAt time.Time
	noExpiry bool
}

func (e localEntry) expired(now time.Time) bool {
	return !e.noExpiry && now.After(e.expireAt)
}

// localKV is an in-process KV with per-entry TTLs and a background sweeper.
// It backs single-node deployments and tests where no Redis is configured.
type localKV struct {
	mu     sync.RWMutex
	items  map[string]localEntry
	stopGC chan struct{}
	once   sync.Once
}

func newLocalKV(gcInterval time.Duration) *localKV {
	if gcInterval <= 0 {
		gcInterval = 30 * time.Second
	}
	c := &localKV{
		items:  make(map[string]localEntry),
		stopGC: make(chan struct{}),
	}
	go c.runGC(gcInterval)
	return c
}

// Close stops the background sweeper.
func (c *localKV) Close() {
	c.once.Do(func() { close(c.stopGC) })
}

func (c *localKV) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.items {
				if e.expired(now) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

func (c *localKV) Get(_ context.Context, key string) (string, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}

	if e.expired(now) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", ErrNotFound
	}

	return e.data, nil
}

func (c *localKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	e := localEntry{data: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	} else {
		e.noExpiry = true
	}

	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

func (c *localKV) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.items, key)
	}
	c.mu.Unlock()
	return nil
}

// localPubSub is an in-process channel fan-out implementing PubSub.
type localPubSub struct {
	mu      sync.RWMutex
	subs    map[string][]chan *Message
	bufSize int
}

func newLocalPubSub(bufSize int) *localPubSub {
	return &localPubSub{
		subs:    make(map[string][]chan *Message),
		bufSize: bufSize,
	}
}

// Publish delivers message to every subscriber of channel. Slow subscribers
// whose buffers are full miss the message rather than block the publisher.
func (p *localPubSub) Publish(_ context.Context, channel, message string) error {
	p.mu.RLock()
	subs := p.subs[channel]
	p.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- &Message{Channel: channel, Payload: message}:
		default:
		}
	}
	return nil
}

func (p *localPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *Message, func(), error) {
	sub := make(chan *Message, p.bufSize)

	p.mu.Lock()
	for _, channel := range channels {
		p.subs[channel] = append(p.subs[channel], sub)
	}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			for _, channel := range channels {
				entries := p.subs[channel]
				for i, entry := range entries {
					if entry == sub {
						p.subs[channel] = append(entries[:i], entries[i+1:]...)
						break
					}
				}
			}
			p.mu.Unlock()
			close(sub)
		})
	}

	return sub, cancel, nil
}
