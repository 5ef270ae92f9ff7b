package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RateLimiter provides admission control: a request either proceeds or is
// rejected outright, never queued.
type RateLimiter interface {
	// Allow reports whether a request for the given key is permitted under a
	// sliding window of `limit` requests per `window`. Allowed requests are
	// counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// PriceCache caches the most recent observed price per pair so read paths do
// not touch the chain RPC.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price decimal.Decimal, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been cached for the pair.
	GetPrice(ctx context.Context, pair string) (decimal.Decimal, time.Time, error)
}
