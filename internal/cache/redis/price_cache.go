package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each pair's
// latest observed price is stored at key "qubet:price:{pair}" with fields
// "price" and "ts" (Unix nanosecond timestamp), so round detail reads never
// touch the chain RPC.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(pair string) string {
	return Key("price", pair)
}

// SetPrice stores the latest price and timestamp for a pair.
func (pc *PriceCache) SetPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(pair), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", pair, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a pair. It returns
// domain.ErrNotFound when no price has been cached.
func (pc *PriceCache) GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(pair)).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", pair, err)
	}
	if len(vals) == 0 {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", pair, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", pair, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
