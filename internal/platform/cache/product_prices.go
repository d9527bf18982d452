package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/api/internal/services"
)

const (
	defaultKeyPrefix = "storefront:product:"
	defaultTTL       = 5 * time.Minute
)

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ProductPriceCache serves product reads for the cart from Redis, falling back to the
// underlying reader on a miss. Redis failures degrade to uncached reads.
type ProductPriceCache struct {
	next   services.ProductReader
	client redisClient
	ttl    time.Duration
	prefix string
	logger func(context.Context, string, map[string]any)
}

// ProductPriceCacheDeps wires the cache.
type ProductPriceCacheDeps struct {
	Next      services.ProductReader
	Client    redisClient
	TTL       time.Duration
	KeyPrefix string
	Logger    func(context.Context, string, map[string]any)
}

var _ services.ProductReader = (*ProductPriceCache)(nil)

// NewRedisClient builds a go-redis client for the given address.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewProductPriceCache wraps next with a Redis read-through cache.
func NewProductPriceCache(deps ProductPriceCacheDeps) (*ProductPriceCache, error) {
	if deps.Next == nil {
		return nil, errors.New("product cache: product reader is required")
	}
	if deps.Client == nil {
		return nil, errors.New("product cache: redis client is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := strings.TrimSpace(deps.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ProductPriceCache{
		next:   deps.Next,
		client: deps.Client,
		ttl:    ttl,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Get returns the cached product or loads and caches it.
func (c *ProductPriceCache) Get(ctx context.Context, productID string) (services.Product, error) {
	key := c.key(productID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var product services.Product
		decodeErr := json.Unmarshal(raw, &product)
		if decodeErr == nil {
			return product, nil
		}
		c.logger(ctx, "product_cache.decode_failed", map[string]any{"productId": productID, "error": decodeErr.Error()})
	case errors.Is(err, redis.Nil):
	default:
		c.logger(ctx, "product_cache.read_failed", map[string]any{"productId": productID, "error": err.Error()})
	}

	product, err := c.next.Get(ctx, productID)
	if err != nil {
		return services.Product{}, err
	}

	data, err := json.Marshal(product)
	if err != nil {
		return product, nil
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger(ctx, "product_cache.write_failed", map[string]any{"productId": productID, "error": err.Error()})
	}
	return product, nil
}

// Invalidate drops the cached entry for a product.
func (c *ProductPriceCache) Invalidate(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, c.key(productID)).Err(); err != nil {
		return fmt.Errorf("product cache: invalidate %s: %w", productID, err)
	}
	return nil
}

func (c *ProductPriceCache) key(productID string) string {
	return c.prefix + strings.TrimSpace(productID)
}
