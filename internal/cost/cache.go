package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sales-sync/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheEntry is one resolved acquisition cost. Entries are written as a
// single SET per key, so readers never observe a torn entry.
type CacheEntry struct {
	SKU       string    `json:"sku"`
	Barcode   string    `json:"barcode,omitempty"`
	Name      string    `json:"name,omitempty"`
	Cost      float64   `json:"cost"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CostCache is the shared, read-mostly cost cache. Entries expire after the
// configured TTL; the product-sync pipeline refreshes them via Put.
type CostCache interface {
	Get(ctx context.Context, sku string) (*CacheEntry, error)
	GetByBarcode(ctx context.Context, barcode string) (*CacheEntry, error)
	Put(ctx context.Context, entry CacheEntry) error
}

// RedisCache backs CostCache with Redis so cache contents survive restarts.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: util.NamedLogger("cost.cache"),
	}, nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func skuKey(sku string) string         { return "cost:sku:" + sku }
func barcodeKey(barcode string) string { return "cost:barcode:" + barcode }

// Get returns the cached entry for a SKU, or nil on a miss or expired entry.
func (c *RedisCache) Get(ctx context.Context, sku string) (*CacheEntry, error) {
	return c.get(ctx, skuKey(sku))
}

// GetByBarcode returns the cached entry for a barcode, or nil on a miss.
func (c *RedisCache) GetByBarcode(ctx context.Context, barcode string) (*CacheEntry, error) {
	if barcode == "" {
		return nil, nil
	}
	return c.get(ctx, barcodeKey(barcode))
}

func (c *RedisCache) get(ctx context.Context, key string) (*CacheEntry, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cost cache get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry behaves like a miss; the next Put replaces it.
		c.logger.Warn("Dropping corrupt cost cache entry", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry under its SKU key and, when present, its barcode key.
// Each key is replaced with one atomic SET carrying the TTL.
func (c *RedisCache) Put(ctx context.Context, entry CacheEntry) error {
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cost cache marshal: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, skuKey(entry.SKU), raw, c.ttl)
	if entry.Barcode != "" {
		pipe.Set(ctx, barcodeKey(entry.Barcode), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cost cache put: %w", err)
	}
	return nil
}
