package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/models"
)

const (
	orderKeyPrefix   = "payments:order:"
	userOrdersPrefix = "payments:user_orders:"
	defaultCacheTTL  = 5 * time.Minute
)

// RedisOrderCache implements OrderCache using Redis.
type RedisOrderCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisClient opens a client for cfg.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisOrderCache creates a Redis-backed order cache.
func NewRedisOrderCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisOrderCache {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	return &RedisOrderCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns nil, nil on a cache miss.
func (c *RedisOrderCache) Get(ctx context.Context, id string) (*models.Order, error) {
	data, err := c.client.Get(ctx, orderKeyPrefix+id).Bytes()
	if err == redis.Nil {
		c.logger.Debug("Cache miss", zap.String("order_id", id))
		return nil, nil
	}
	if err != nil {
		c.logger.Error("Cache get error", zap.String("order_id", id), zap.Error(err))
		return nil, err
	}

	var order models.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}

	c.logger.Debug("Cache hit", zap.String("order_id", id))
	return &order, nil
}

func (c *RedisOrderCache) Set(ctx context.Context, order *models.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, orderKeyPrefix+order.ID, data, c.ttl).Err(); err != nil {
		c.logger.Error("Cache set error", zap.String("order_id", order.ID), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisOrderCache) Delete(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, orderKeyPrefix+id).Err(); err != nil {
		c.logger.Error("Cache delete error", zap.String("order_id", id), zap.Error(err))
		return err
	}
	return nil
}

func (c *RedisOrderCache) GetByUserID(ctx context.Context, userID string) ([]*models.Order, error) {
	data, err := c.client.Get(ctx, userOrdersPrefix+userID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orders []*models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *RedisOrderCache) SetByUserID(ctx context.Context, userID string, orders []*models.Order) error {
	data, err := json.Marshal(orders)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, userOrdersPrefix+userID, data, c.ttl).Err()
}

func (c *RedisOrderCache) InvalidateByUserID(ctx context.Context, userID string) error {
	return c.client.Del(ctx, userOrdersPrefix+userID).Err()
}

type cacheBypassKey struct{}

// WithoutCache marks ctx so CachedOrderStore reads go straight to the store
// and are not written back to the cache. Payment preconditions use it: a
// read-through miss racing a payment update could otherwise cache the old
// row for a whole TTL.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheBypassKey{}, true)
}

func cacheBypassed(ctx context.Context) bool {
	bypass, _ := ctx.Value(cacheBypassKey{}).(bool)
	return bypass
}

// CachedOrderStore is a read-through cache in front of an OrderStore. Reads
// by id and per-user listings are served from the cache; every write drops
// the affected keys after the store commits. Cache failures are logged and
// never fail the call. Lookups by reference always hit the store.
type CachedOrderStore struct {
	store  OrderStore
	cache  OrderCache
	logger *zap.Logger
}

func NewCachedOrderStore(store OrderStore, cache OrderCache, logger *zap.Logger) *CachedOrderStore {
	return &CachedOrderStore{store: store, cache: cache, logger: logger}
}

func (s *CachedOrderStore) Create(ctx context.Context, order *models.Order) error {
	if err := s.store.Create(ctx, order); err != nil {
		return err
	}
	s.invalidate(ctx, order.ID, order.UserID)
	return nil
}

func (s *CachedOrderStore) GetByID(ctx context.Context, id string) (*models.Order, error) {
	if cacheBypassed(ctx) {
		return s.store.GetByID(ctx, id)
	}
	if cached, err := s.cache.Get(ctx, id); err == nil && cached != nil {
		return cached, nil
	}

	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, order); err != nil {
		s.logger.Warn("Failed to cache order", zap.String("order_id", id), zap.Error(err))
	}
	return order, nil
}

func (s *CachedOrderStore) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	return s.store.FindByReference(ctx, reference)
}

func (s *CachedOrderStore) ListByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	if cached, err := s.cache.GetByUserID(ctx, userID); err == nil && cached != nil {
		return cached, nil
	}

	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetByUserID(ctx, userID, orders); err != nil {
		s.logger.Warn("Failed to cache user orders", zap.String("user_id", userID), zap.Error(err))
	}
	return orders, nil
}

func (s *CachedOrderStore) AttachPayPalOrderID(ctx context.Context, id, paypalOrderID string) (*models.Order, error) {
	order, err := s.store.AttachPayPalOrderID(ctx, id, paypalOrderID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, order.ID, order.UserID)
	return order, nil
}

func (s *CachedOrderStore) ApplyPaymentUpdate(ctx context.Context, id string, decide PaymentDecider) (models.OrderStatus, *models.Order, error) {
	previous, order, err := s.store.ApplyPaymentUpdate(ctx, id, decide)
	if err != nil {
		return "", nil, err
	}
	s.invalidate(ctx, order.ID, order.UserID)
	return previous, order, nil
}

func (s *CachedOrderStore) invalidate(ctx context.Context, id, userID string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.Warn("Failed to invalidate cached order", zap.String("order_id", id), zap.Error(err))
	}
	if err := s.cache.InvalidateByUserID(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate cached user orders", zap.String("user_id", userID), zap.Error(err))
	}
}
