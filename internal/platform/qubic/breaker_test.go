package qubic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quforge/qubet/internal/domain"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker("rpc", 3, time.Minute)
	boom := errors.New("upstream down")

	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called, "open breaker must not invoke the call")

	st := b.State()
	assert.Equal(t, "open", st.State)
	assert.False(t, st.RetryAt.IsZero())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker("rpc", 2, 60*time.Millisecond)
	boom := errors.New("upstream down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return boom })
	}
	require.ErrorIs(t, b.Execute(func() error { return nil }), domain.ErrCircuitOpen)

	time.Sleep(80 * time.Millisecond)

	// First call after cooldown is the probe; success closes the breaker.
	err := b.Execute(func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State().State)

	require.NoError(t, b.Execute(func() error { return nil }))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker("rpc", 2, 50*time.Millisecond)
	boom := errors.New("upstream down")

	for i := 0; i < 2; i++ {
		_ = b.Execute(func() error { return boom })
	}
	time.Sleep(70 * time.Millisecond)

	require.ErrorIs(t, b.Execute(func() error { return boom }), boom)
	require.ErrorIs(t, b.Execute(func() error { return nil }), domain.ErrCircuitOpen)
	assert.Equal(t, "open", b.State().State)
}

func TestGuardedClientShortCircuitsWhenOpen(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	breaker := NewBreaker("rpc", 2, time.Minute)
	guarded := NewGuardedClient(client, breaker, time.Second)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := guarded.TickInfo(ctx)
		require.Error(t, err)
	}
	require.Equal(t, int64(2), hits.Load())

	_, err := guarded.TickInfo(ctx)
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.Equal(t, int64(2), hits.Load(), "open breaker must not reach the network")
}

func TestClientCurrentPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/price", r.URL.Path)
		require.Equal(t, "QU/USDT", r.URL.Query().Get("pair"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pair":"QU/USDT","price":"0.00000152","timestamp":1756400000}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	pp, err := client.CurrentPrice(context.Background(), "QU/USDT")
	require.NoError(t, err)
	assert.Equal(t, "QU/USDT", pp.Pair)
	assert.Equal(t, "0.00000152", pp.Price.String())
	assert.Equal(t, int64(1756400000), pp.Timestamp.Unix())
}

func TestClientLookupTransferNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	_, err := client.LookupTransfer(context.Background(), "deadbeef")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, err.Error(), "status 404")
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/transfers/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	mux.HandleFunc("/v1/price", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pair":"QU/USDT","price":"0.00000152","timestamp":1756400000}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	breaker := NewBreaker("rpc", 5, time.Minute)
	guarded := NewGuardedClient(client, breaker, time.Second)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := guarded.LookupTransfer(ctx, "BOGUS")
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, "closed", breaker.State().State)

	// Price fetches still reach the gateway after a run of bad hashes.
	pp, err := guarded.CurrentPrice(ctx, "QU/USDT")
	require.NoError(t, err)
	assert.Equal(t, "0.00000152", pp.Price.String())
}

func TestBreakerCountsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	breaker := NewBreaker("rpc", 2, time.Minute)
	guarded := NewGuardedClient(client, breaker, time.Second)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := guarded.LookupTransfer(ctx, "deadbeef")
		require.Error(t, err)
		require.NotErrorIs(t, err, domain.ErrNotFound)
	}

	_, err := guarded.CurrentPrice(ctx, "QU/USDT")
	require.ErrorIs(t, err, domain.ErrCircuitOpen)
}
