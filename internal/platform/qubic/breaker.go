package qubic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/quforge/qubet/internal/domain"
)

// Breaker wraps gobreaker with the failure bookkeeping the admin surface
// reports: last failure time and the moment an open breaker will admit
// its next probe.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker
	cooldown time.Duration

	mu            sync.Mutex
	lastFailureAt time.Time
	openedAt      time.Time
}

// NewBreaker creates a breaker that opens after failures consecutive
// errors and admits a single probe call once cooldown has elapsed.
func NewBreaker(name string, failures uint32, cooldown time.Duration) *Breaker {
	b := &Breaker{cooldown: cooldown}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 4xx means the gateway is up and rejected the request; a stream of
		// bogus deposit hashes must not cut off price fetches.
		IsSuccessful: func(err error) bool {
			return !ServerFault(err)
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.mu.Lock()
				b.openedAt = time.Now()
				b.mu.Unlock()
			}
		},
	})
	return b
}

// Execute runs fn through the breaker. Calls rejected by an open breaker
// return domain.ErrCircuitOpen without invoking fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.ErrCircuitOpen
		}
		if ServerFault(err) {
			b.mu.Lock()
			b.lastFailureAt = time.Now()
			b.mu.Unlock()
		}
		return err
	}
	return nil
}

// State reports the breaker's current state for the admin rollup.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	lastFailure := b.lastFailureAt
	openedAt := b.openedAt
	b.mu.Unlock()

	st := domain.BreakerState{
		Name:         b.cb.Name(),
		FailureCount: int64(b.cb.Counts().ConsecutiveFailures),
	}
	switch b.cb.State() {
	case gobreaker.StateOpen:
		st.State = "open"
		st.RetryAt = openedAt.Add(b.cooldown)
	case gobreaker.StateHalfOpen:
		st.State = "half_open"
	default:
		st.State = "closed"
	}
	if !lastFailure.IsZero() {
		st.LastFailureAt = lastFailure
	}
	return st
}

// GuardedClient is the RPC surface the engine uses: every call runs through
// the circuit breaker with its own deadline, regardless of the caller's
// context.
type GuardedClient struct {
	client  *Client
	breaker *Breaker
	timeout time.Duration
}

// NewGuardedClient wraps client with breaker. timeout bounds each call.
func NewGuardedClient(client *Client, breaker *Breaker, timeout time.Duration) *GuardedClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GuardedClient{client: client, breaker: breaker, timeout: timeout}
}

// Breaker exposes the underlying breaker for status reporting.
func (g *GuardedClient) Breaker() *Breaker { return g.breaker }

func (g *GuardedClient) CurrentPrice(ctx context.Context, pair string) (PricePoint, error) {
	var out PricePoint
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		out, err = g.client.CurrentPrice(callCtx, pair)
		return err
	})
	return out, err
}

func (g *GuardedClient) TickInfo(ctx context.Context) (TickInfo, error) {
	var out TickInfo
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		out, err = g.client.TickInfo(callCtx)
		return err
	})
	return out, err
}

func (g *GuardedClient) LookupTransfer(ctx context.Context, txHash string) (TransferInfo, error) {
	var out TransferInfo
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		out, err = g.client.LookupTransfer(callCtx, txHash)
		return err
	})
	return out, err
}

func (g *GuardedClient) BroadcastTransfer(ctx context.Context, dest string, amountQu int64, ref string) (BroadcastResult, error) {
	var out BroadcastResult
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		out, err = g.client.BroadcastTransfer(callCtx, dest, amountQu, ref)
		return err
	})
	return out, err
}
