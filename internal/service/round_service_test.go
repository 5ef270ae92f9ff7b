package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quforge/qubet/internal/domain"
)

func newRoundFixture(t *testing.T) (*RoundService, *memStore, *fakeChain) {
	t.Helper()
	store := newMemStore()
	chain := newFakeChain()
	cfg := RoundConfig{
		Pairs:           []string{"QU/USDT"},
		FeeBps:          300,
		MinBetQu:        10,
		MaxBetQu:        1_000_000,
		ResolutionDelay: 0,
	}
	svc := NewRoundService(roundStoreView{store}, store, houseStoreView{store}, newFakePriceCache(), chain, cfg, discardLogger())
	return svc, store, chain
}

func fundAccount(t *testing.T, store *memStore, addr string, amount int64) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.Account{Address: addr}))
	require.NoError(t, store.ApplyDelta(context.Background(), addr, domain.BalanceDelta{BalanceQu: amount}))
}

func seedActiveRound(store *memStore, id string, openAt time.Time, dur domain.RoundDuration) {
	store.CreateRound(domain.Round{
		ID:       id,
		Pair:     "QU/USDT",
		Duration: dur,
		Status:   domain.RoundActive,
		OpenAt:   openAt,
		CloseAt:  openAt.Add(dur.Window()),
	})
}

func TestPlaceBetValidation(t *testing.T) {
	svc, store, _ := newRoundFixture(t)
	ctx := context.Background()
	addr := testAddress("alice")
	fundAccount(t, store, addr, 10_000)
	seedActiveRound(store, "r1", time.Now(), domain.Duration60s)

	_, err := svc.PlaceBet(ctx, addr, "r1", "sideways", 100)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 5)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 2_000_000)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.PlaceBet(ctx, addr, "missing", domain.SideUp, 100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPlaceBetDebitsAndGrowsPool(t *testing.T) {
	svc, store, _ := newRoundFixture(t)
	ctx := context.Background()
	addr := testAddress("alice")
	fundAccount(t, store, addr, 10_000)
	seedActiveRound(store, "r1", time.Now(), domain.Duration60s)

	_, err := svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 700)
	require.NoError(t, err)

	acct, err := store.GetByAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(9300), acct.BalanceQu)
	assert.Equal(t, int64(700), acct.Totals.WageredQu)

	r, err := store.GetRoundByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(700), r.UpPoolQu)
}

func TestPlaceBetRejectedOnLockedRound(t *testing.T) {
	svc, store, _ := newRoundFixture(t)
	ctx := context.Background()
	addr := testAddress("alice")
	fundAccount(t, store, addr, 10_000)
	seedActiveRound(store, "r1", time.Now(), domain.Duration60s)

	_, err := store.Lock(ctx, "r1", decimal.RequireFromString("1.5"))
	require.NoError(t, err)

	_, err = svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 100)
	require.ErrorIs(t, err, domain.ErrRoundClosed)

	acct, err := store.GetByAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), acct.BalanceQu, "rejected bet must not debit")
}

// A 700/300 up/down pool resolving up at a 3% fee pays a 100 qu up-bettor
// 100 + floor(100*300*0.97/700) = 141 qu.
func TestSettlementPariMutuelPayout(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()

	winner := testAddress("alice")
	whale := testAddress("whale")
	loser := testAddress("bob")
	fundAccount(t, store, winner, 1_000)
	fundAccount(t, store, whale, 1_000)
	fundAccount(t, store, loser, 1_000)

	openAt := time.Now().Add(-2 * time.Minute)
	seedActiveRound(store, "r1", openAt, domain.Duration60s)

	_, err := svc.PlaceBet(ctx, winner, "r1", domain.SideUp, 100)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, whale, "r1", domain.SideUp, 600)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, loser, "r1", domain.SideDown, 300)
	require.NoError(t, err)

	chain.prices["QU/USDT"] = decimal.RequireFromString("1.00")
	now := openAt.Add(domain.Duration60s.Window())
	require.NoError(t, svc.lockDue(ctx, now))

	chain.prices["QU/USDT"] = decimal.RequireFromString("1.10")
	now = now.Add(domain.Duration60s.Window())
	require.NoError(t, svc.resolveDue(ctx, now))
	require.NoError(t, svc.settleResolved(ctx))

	acct, err := store.GetByAddress(ctx, winner)
	require.NoError(t, err)
	// 1000 - 100 stake + 141 payout
	assert.Equal(t, int64(1041), acct.BalanceQu)
	assert.Equal(t, 1, acct.Wins)
	assert.Equal(t, 1, acct.Streak)

	lost, err := store.GetByAddress(ctx, loser)
	require.NoError(t, err)
	assert.Equal(t, int64(700), lost.BalanceQu)
	assert.Equal(t, 1, lost.Losses)
	assert.Equal(t, -1, lost.Streak)

	// Conservation: payouts + fee == pool total.
	house, err := store.GetHouse(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), house.PayoutsQu+house.FeesQu)
	assert.Equal(t, int64(1), house.RoundsSettled)

	r, err := store.GetRoundByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettled, r.Status)
	assert.Equal(t, domain.OutcomeUp, r.Outcome)
}

// With nobody on the down side no odds are computable, so resolution refunds
// every up-bettor their exact stake as a push.
func TestSettlementZeroPoolRefundsAll(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()

	addr := testAddress("alice")
	fundAccount(t, store, addr, 1_000)

	openAt := time.Now().Add(-2 * time.Minute)
	seedActiveRound(store, "r1", openAt, domain.Duration60s)

	_, err := svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 400)
	require.NoError(t, err)

	chain.prices["QU/USDT"] = decimal.RequireFromString("1.00")
	now := openAt.Add(domain.Duration60s.Window())
	require.NoError(t, svc.lockDue(ctx, now))
	chain.prices["QU/USDT"] = decimal.RequireFromString("2.00")
	require.NoError(t, svc.resolveDue(ctx, now.Add(domain.Duration60s.Window())))
	require.NoError(t, svc.settleResolved(ctx))

	acct, err := store.GetByAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), acct.BalanceQu, "stake refunded exactly")
	assert.Equal(t, 1, acct.Pushes)
	assert.Zero(t, acct.Wins)

	house, err := store.GetHouse(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(400), house.RefundsQu)
	assert.Zero(t, house.FeesQu, "no fee on a refunded round")
}

func TestSettlementPushOutcomeRefundsBothSides(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()

	up := testAddress("alice")
	down := testAddress("bob")
	fundAccount(t, store, up, 1_000)
	fundAccount(t, store, down, 1_000)

	openAt := time.Now().Add(-2 * time.Minute)
	seedActiveRound(store, "r1", openAt, domain.Duration60s)

	_, err := svc.PlaceBet(ctx, up, "r1", domain.SideUp, 250)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, down, "r1", domain.SideDown, 250)
	require.NoError(t, err)

	// Identical lock and resolve price.
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.2345")
	now := openAt.Add(domain.Duration60s.Window())
	require.NoError(t, svc.lockDue(ctx, now))
	require.NoError(t, svc.resolveDue(ctx, now.Add(domain.Duration60s.Window())))
	require.NoError(t, svc.settleResolved(ctx))

	for _, addr := range []string{up, down} {
		acct, err := store.GetByAddress(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000), acct.BalanceQu)
		assert.Equal(t, 1, acct.Pushes)
	}
}

func TestSettlementRunsAtMostOnce(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()

	addr := testAddress("alice")
	other := testAddress("bob")
	fundAccount(t, store, addr, 1_000)
	fundAccount(t, store, other, 1_000)

	openAt := time.Now().Add(-2 * time.Minute)
	seedActiveRound(store, "r1", openAt, domain.Duration60s)
	_, err := svc.PlaceBet(ctx, addr, "r1", domain.SideUp, 100)
	require.NoError(t, err)
	_, err = svc.PlaceBet(ctx, other, "r1", domain.SideDown, 100)
	require.NoError(t, err)

	chain.prices["QU/USDT"] = decimal.RequireFromString("1.00")
	now := openAt.Add(domain.Duration60s.Window())
	require.NoError(t, svc.lockDue(ctx, now))
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.50")
	require.NoError(t, svc.resolveDue(ctx, now.Add(domain.Duration60s.Window())))

	require.NoError(t, svc.settleResolved(ctx))
	// A second pass must not pay anyone again.
	require.NoError(t, svc.settleResolved(ctx))

	acct, err := store.GetByAddress(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, int64(1097), acct.BalanceQu, "100 stake -> 197 payout, only once")

	house, err := store.GetHouse(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), house.RoundsSettled)
}

func TestProcessLanesOpensMissingRounds(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.00")

	require.NoError(t, svc.ProcessLanes(ctx, time.Now()))

	for _, dur := range domain.RoundDurations {
		r, err := store.GetActive(ctx, "QU/USDT", dur)
		require.NoError(t, err, "lane %d must have an active round", dur)
		assert.Equal(t, domain.RoundActive, r.Status)
	}
}

func TestProcessLanesFullLifecycle(t *testing.T) {
	svc, store, chain := newRoundFixture(t)
	ctx := context.Background()
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.00")

	start := time.Now()
	require.NoError(t, svc.ProcessLanes(ctx, start))

	r, err := store.GetActive(ctx, "QU/USDT", domain.Duration30s)
	require.NoError(t, err)

	// Betting window closes: the round locks and a fresh one opens.
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.05")
	require.NoError(t, svc.ProcessLanes(ctx, start.Add(31*time.Second)))

	locked, err := store.GetRoundByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundLocked, locked.Status)
	assert.Equal(t, "1.05", locked.StartPrice.String())

	next, err := store.GetActive(ctx, "QU/USDT", domain.Duration30s)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, next.ID, "a new round must take over the lane")

	// Measurement window elapses: the round resolves and settles.
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.10")
	require.NoError(t, svc.ProcessLanes(ctx, start.Add(62*time.Second)))

	done, err := store.GetRoundByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundSettled, done.Status)
	assert.Equal(t, domain.OutcomeUp, done.Outcome)

	snaps, err := store.ListSnapshots(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "lock", snaps[0].Source)
	assert.Equal(t, "resolve", snaps[1].Source)
}

func TestLockDeferredWhenBreakerOpen(t *testing.T) {
	store := newMemStore()
	chain := newFakeChain()
	cache := newFakePriceCache()
	cfg := RoundConfig{Pairs: []string{"QU/USDT"}, FeeBps: 300, MinBetQu: 10, MaxBetQu: 1_000_000}
	svc := NewRoundService(roundStoreView{store}, store, houseStoreView{store}, cache, chain, cfg, discardLogger())
	ctx := context.Background()

	openAt := time.Now().Add(-2 * time.Minute)
	seedActiveRound(store, "r1", openAt, domain.Duration60s)

	// A cached price exists but must never substitute for a live lock price.
	require.NoError(t, cache.SetPrice(ctx, "QU/USDT", decimal.RequireFromString("0.99"), time.Now()))
	chain.priceErr = domain.ErrCircuitOpen

	err := svc.lockDue(ctx, openAt.Add(domain.Duration60s.Window()))
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	r, err := store.GetRoundByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundActive, r.Status, "lane retries on the next tick")
	assert.True(t, r.StartPrice.IsZero())
}

func TestResolveDeferredWhenBreakerOpen(t *testing.T) {
	store := newMemStore()
	chain := newFakeChain()
	cache := newFakePriceCache()
	cfg := RoundConfig{Pairs: []string{"QU/USDT"}, FeeBps: 300, MinBetQu: 10, MaxBetQu: 1_000_000}
	svc := NewRoundService(roundStoreView{store}, store, houseStoreView{store}, cache, chain, cfg, discardLogger())
	ctx := context.Background()

	openAt := time.Now().Add(-3 * time.Minute)
	store.CreateRound(domain.Round{
		ID:         "r1",
		Pair:       "QU/USDT",
		Duration:   domain.Duration60s,
		Status:     domain.RoundLocked,
		OpenAt:     openAt,
		CloseAt:    openAt.Add(domain.Duration60s.Window()),
		StartPrice: decimal.RequireFromString("1.00"),
	})

	// A days-old cached price would produce a bogus outcome; the round must
	// hold instead.
	require.NoError(t, cache.SetPrice(ctx, "QU/USDT", decimal.RequireFromString("1.00"), time.Now().Add(-48*time.Hour)))
	chain.priceErr = domain.ErrCircuitOpen

	err := svc.resolveDue(ctx, time.Now())
	require.ErrorIs(t, err, domain.ErrCircuitOpen)

	r, err := store.GetRoundByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundLocked, r.Status)

	// Chain back, next tick resolves normally.
	chain.priceErr = nil
	chain.prices["QU/USDT"] = decimal.RequireFromString("1.20")
	require.NoError(t, svc.resolveDue(ctx, time.Now()))
	r, err = store.GetRoundByID(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RoundResolved, r.Status)
	assert.Equal(t, domain.OutcomeUp, r.Outcome)
}
