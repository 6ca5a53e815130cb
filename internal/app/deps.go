package app

import (
	"time"

	"github.com/supnet/relations/internal/cache"
	"github.com/supnet/relations/internal/config"
	"github.com/supnet/relations/internal/db"
	"github.com/supnet/relations/internal/events"
	"github.com/supnet/relations/internal/handlers"
	"github.com/supnet/relations/internal/middleware"
	"github.com/supnet/relations/internal/relationship"
	"github.com/supnet/relations/internal/repositories"
)

// buildDependencies wires together the concrete store, cache, notifier, and
// service used by the HTTP handlers.
func buildDependencies(pool db.Pool, kv cache.KV, ps cache.PubSub, cfg config.Config) handlers.Dependencies {
	store := repositories.NewPostgresRelationshipRepository(pool)
	users := repositories.NewPostgresUserRepository(pool)
	readCache := relationship.NewReadCache(kv, cfg.CacheTTL, cfg.NegativeCacheTTL)

	var notifier events.Notifier = events.NopNotifier{}
	if ps != nil {
		notifier = events.NewPubSubNotifier(ps, cfg.EventChannel)
	}

	service := relationship.NewService(store, users, readCache, notifier, relationship.ServiceConfig{
		StoreTimeout:   cfg.StoreTimeout,
		PublishTimeout: cfg.PublishTimeout,
	})

	return handlers.Dependencies{
		Relationships: service,
		Limiter:       middleware.NewIPRateLimiter(30, time.Minute, 10, 5*time.Minute),
		DB:            pool,
	}
}
