// Package domain holds the core types, store interfaces, and sentinel errors
// of the settlement engine. It has no dependencies on storage, transport, or
// external services.
package domain

import (
	"regexp"
	"time"
)

// addressPattern matches a 60-character uppercase base-26 QU address.
var addressPattern = regexp.MustCompile(`^[A-Z]{60}$`)

// ValidAddress reports whether s is a well-formed QU address.
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// AccountTotals are lifetime accumulators for a single account. They only
// ever grow; the live balance is derived from their differences.
type AccountTotals struct {
	DepositedQu int64 `json:"deposited_qu"`
	WithdrawnQu int64 `json:"withdrawn_qu"`
	WageredQu   int64 `json:"wagered_qu"`
	WonQu       int64 `json:"won_qu"`
	RefundedQu  int64 `json:"refunded_qu"`
	LostQu      int64 `json:"lost_qu"`
}

// Account is a single user ledger row keyed by address.
//
// Invariant: BalanceQu >= 0 at all times, and BalanceQu reconciles with the
// sum of all confirmed transactions touching the account.
type Account struct {
	Address    string        `json:"address"`
	BalanceQu  int64         `json:"balance_qu"`
	Totals     AccountTotals `json:"totals"`
	Wins       int           `json:"wins"`
	Losses     int           `json:"losses"`
	Pushes     int           `json:"pushes"`
	Streak     int           `json:"streak"`
	BestStreak int           `json:"best_streak"`
	// APIToken is set at creation and never re-exposed after the first
	// response. Read paths must leave it empty.
	APIToken  string    `json:"api_token,omitempty"`
	Frozen    bool      `json:"frozen"`
	CreatedAt time.Time `json:"created_at"`
}

// TransactionKind classifies a ledger transaction.
type TransactionKind string

const (
	TxDeposit    TransactionKind = "deposit"
	TxWithdrawal TransactionKind = "withdrawal"
	TxWager      TransactionKind = "wager"
	TxPayout     TransactionKind = "payout"
	TxRefund     TransactionKind = "refund"
)

// TransactionStatus is the settlement status of a transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxConfirmed TransactionStatus = "confirmed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is a single ledger movement. For deposits, ExternalRef carries
// the on-chain transfer hash and acts as the idempotency key.
type Transaction struct {
	ID          string            `json:"id"`
	Address     string            `json:"address"`
	Kind        TransactionKind   `json:"kind"`
	AmountQu    int64             `json:"amount_qu"`
	Status      TransactionStatus `json:"status"`
	ExternalRef string            `json:"external_ref,omitempty"`
	// Destination is the payout address for withdrawals.
	Destination string    `json:"destination,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BalanceDelta is one atomic adjustment applied to an account row. BalanceQu
// may be negative (debit); total columns only ever increase.
type BalanceDelta struct {
	BalanceQu   int64
	DepositedQu int64
	WithdrawnQu int64
	WageredQu   int64
	WonQu       int64
	RefundedQu  int64
	LostQu      int64
}

// GameResult records the effect of one settled entry on the account's
// win/loss statistics.
type GameResult string

const (
	ResultWin  GameResult = "win"
	ResultLoss GameResult = "loss"
	ResultPush GameResult = "push"
)
