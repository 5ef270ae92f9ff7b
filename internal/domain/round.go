package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundDuration is the fixed length of a pari-mutuel round.
type RoundDuration int

const (
	Duration30s  RoundDuration = 30
	Duration60s  RoundDuration = 60
	Duration120s RoundDuration = 120
)

// RoundDurations lists every supported lane duration.
var RoundDurations = []RoundDuration{Duration30s, Duration60s, Duration120s}

// Valid reports whether d is a supported round duration.
func (d RoundDuration) Valid() bool {
	switch d {
	case Duration30s, Duration60s, Duration120s:
		return true
	}
	return false
}

// Window returns the duration as a time.Duration.
func (d RoundDuration) Window() time.Duration {
	return time.Duration(d) * time.Second
}

// RoundStatus is the lifecycle state of a round. Transitions are forward-only:
// pending -> active -> locked -> resolved -> settled.
type RoundStatus string

const (
	RoundPending  RoundStatus = "pending"
	RoundActive   RoundStatus = "active"
	RoundLocked   RoundStatus = "locked"
	RoundResolved RoundStatus = "resolved"
	RoundSettled  RoundStatus = "settled"
)

// Side is the direction of an up/down bet.
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// Valid reports whether s is a known bet side.
func (s Side) Valid() bool {
	return s == SideUp || s == SideDown
}

// Outcome is the resolution result of a round.
type Outcome string

const (
	OutcomeUp   Outcome = "up"
	OutcomeDown Outcome = "down"
	OutcomePush Outcome = "push"
)

// Round is one fixed-duration pari-mutuel round on a price pair. Exactly one
// round per (pair, duration) lane is active at any time.
type Round struct {
	ID           string          `json:"id"`
	Pair         string          `json:"pair"`
	Duration     RoundDuration   `json:"duration"`
	Status       RoundStatus     `json:"status"`
	OpenAt       time.Time       `json:"open_at"`
	CloseAt      time.Time       `json:"close_at"`
	UpPoolQu     int64           `json:"up_pool_qu"`
	DownPoolQu   int64           `json:"down_pool_qu"`
	StartPrice   decimal.Decimal `json:"start_price"`
	ResolvePrice decimal.Decimal `json:"resolve_price"`
	Outcome      Outcome         `json:"outcome,omitempty"`
}

// TotalPoolQu returns the combined stake across both sides.
func (r Round) TotalPoolQu() int64 {
	return r.UpPoolQu + r.DownPoolQu
}

// ComputeOutcome derives the round outcome from its start and resolve prices.
func ComputeOutcome(start, resolve decimal.Decimal) Outcome {
	switch resolve.Cmp(start) {
	case 1:
		return OutcomeUp
	case -1:
		return OutcomeDown
	default:
		return OutcomePush
	}
}

// WinnerPayoutQu computes the total payout (stake plus winnings) for a single
// winning entry: stake + stake * (losingPool * (1 - fee)) / winningPool,
// rounded down to a whole QU. The remainder stays with the house, so the
// per-round conservation sum(payouts) + fee == pool total holds exactly.
func WinnerPayoutQu(stakeQu, winningPoolQu, losingPoolQu int64, feeBps int64) int64 {
	if winningPoolQu <= 0 {
		return 0
	}
	stake := decimal.NewFromInt(stakeQu)
	losing := decimal.NewFromInt(losingPoolQu)
	keep := decimal.NewFromInt(10000 - feeBps).Div(decimal.NewFromInt(10000))

	winnings := stake.Mul(losing).Mul(keep).Div(decimal.NewFromInt(winningPoolQu))
	return stakeQu + winnings.Floor().IntPart()
}

// PayoutMultiplier returns the projected gross multiplier for a winning stake
// on the given side with the current pools, e.g. 1.97 when both pools are
// equal at a 3% fee. Returns zero when the side's pool is empty.
func (r Round) PayoutMultiplier(side Side, feeBps int64) decimal.Decimal {
	winning, losing := r.UpPoolQu, r.DownPoolQu
	if side == SideDown {
		winning, losing = losing, winning
	}
	if winning <= 0 {
		return decimal.Zero
	}
	keep := decimal.NewFromInt(10000 - feeBps).Div(decimal.NewFromInt(10000))
	return decimal.NewFromInt(1).Add(
		decimal.NewFromInt(losing).Mul(keep).Div(decimal.NewFromInt(winning)),
	).Round(4)
}

// PoolPercent returns the side's share of the combined pool in percent,
// rounded to two decimals. Returns zero for an empty round.
func (r Round) PoolPercent(side Side) decimal.Decimal {
	total := r.TotalPoolQu()
	if total == 0 {
		return decimal.Zero
	}
	pool := r.UpPoolQu
	if side == SideDown {
		pool = r.DownPoolQu
	}
	return decimal.NewFromInt(pool).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(total)).
		Round(2)
}

// RoundEntry is a single bet placed into a round. PayoutQu stays nil until
// the round settles; it then holds the credited payout (stake included for
// winners, the refunded stake for pushes, zero for losers).
type RoundEntry struct {
	ID        int64     `json:"id"`
	RoundID   string    `json:"round_id"`
	Address   string    `json:"address"`
	Side      Side      `json:"side"`
	AmountQu  int64     `json:"amount_qu"`
	PayoutQu  *int64    `json:"payout_qu,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceSnapshot records a price observation tied to a round, taken at lock
// and at resolution.
type PriceSnapshot struct {
	ID        int64           `json:"id"`
	RoundID   string          `json:"round_id"`
	Price     decimal.Decimal `json:"price"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
}

// RoundFilter narrows round listings.
type RoundFilter struct {
	Pair     string
	Duration RoundDuration
	Status   RoundStatus
}
