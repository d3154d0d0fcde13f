// Package app wires the storefront components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/cache"
	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/docstore"
	"github.com/flicky/storefront/internal/events"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/service"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Broker is a RabbitMQ connection with the storefront queues declared.
type Broker struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	Publisher *events.AMQPPublisher
}

// ConnectBroker dials RabbitMQ, declares the order, reconcile and dead-letter
// queues and returns a publisher over the same channel.
func ConnectBroker(url string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open RabbitMQ channel: %w", err)
	}
	if err := events.SetupRabbitMQ(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("setup RabbitMQ: %w", err)
	}
	return &Broker{Conn: conn, Channel: ch, Publisher: events.NewAMQPPublisher(ch)}, nil
}

func (b *Broker) Close() {
	_ = b.Channel.Close()
	_ = b.Conn.Close()
}

// OpenStore connects the configured document store backend. The returned
// func releases whatever the backend holds.
func OpenStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client, log *slog.Logger) (docstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		return docstore.NewMemoryStore(), func() {}, nil
	case "redis":
		return docstore.NewRedisStore(redisClient, cfg.Store.TxMaxRetries, log), func() {}, nil
	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = cfg.DB.MaxConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}

		store := docstore.NewPostgresStore(pool, cfg.Store.TxMaxRetries, log)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Info("connected to PostgreSQL")
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// Storefront is the state layer a view binds to.
type Storefront struct {
	Auth         *service.AuthService
	Catalog      *service.CatalogStore
	CatalogCache *cache.CatalogCache
	Cart         *service.CartStore
	Orders       *service.OrderStore
	Checkout     *service.Checkout
	Session      *service.Session
}

// NewStorefront builds every store over one document store. Pass the
// Publisher of a Broker from ConnectBroker to emit order and reconcile
// events; publisher may be nil to run without them.
func NewStorefront(cfg *config.Config, store docstore.Store, redisClient *redis.Client, publisher events.Publisher, log *slog.Logger) *Storefront {
	users := repository.NewUserRepository(store)
	products := repository.NewProductRepository(store)
	categories := repository.NewCategoryRepository(store)
	carts := repository.NewCartRepository(store, log)
	orders := repository.NewOrderRepository(store)

	catalogCache := cache.NewCatalogCache(
		repository.Catalog{Products: products, Categories: categories},
		redisClient, cfg.Cache.CatalogTTL, log,
	)

	auth := service.NewAuthService(users, cfg.JWT.Secret, cfg.JWT.Expiration, log)
	cart := service.NewCartStore(store, carts, products, service.CartRetry{
		Attempts: cfg.Cart.AddRetryAttempts,
		Delay:    cfg.Cart.AddRetryDelay,
	}, log)
	orderStore := service.NewOrderStore(orders, publisher, log)

	return &Storefront{
		Auth:         auth,
		Catalog:      service.NewCatalogStore(catalogCache, log),
		CatalogCache: catalogCache,
		Cart:         cart,
		Orders:       orderStore,
		Checkout:     service.NewCheckout(auth, cart, orderStore, publisher, log),
		Session:      service.NewSession(auth, cart, orderStore, log),
	}
}
