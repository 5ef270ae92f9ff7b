package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AccountStore persists accounts. Mutations are scoped to a single row and
// must be atomic.
type AccountStore interface {
	// Create inserts a new zero-balance account. Returns ErrAlreadyExists if
	// the address is taken.
	Create(ctx context.Context, a Account) error
	GetByAddress(ctx context.Context, address string) (Account, error)
	// GetByToken resolves an API token to its owning account. Returns
	// ErrNotFound for unknown tokens.
	GetByToken(ctx context.Context, token string) (Account, error)
	// ApplyDelta atomically adjusts balance and totals. It fails with
	// ErrInsufficientBalance when the delta would drive the balance negative
	// and ErrAccountFrozen when the account is frozen.
	ApplyDelta(ctx context.Context, address string, d BalanceDelta) error
	// SetFrozen halts (or resumes) all further mutation of the account.
	SetFrozen(ctx context.Context, address string, frozen bool) error
	// Leaderboard returns accounts ordered by net winnings descending.
	Leaderboard(ctx context.Context, limit int) ([]Account, error)
	Count(ctx context.Context) (int64, error)
}

// TransactionStore reads ledger transactions. Writes happen only through the
// atomic LedgerStore operations.
type TransactionStore interface {
	GetByID(ctx context.Context, id string) (Transaction, error)
	ListByAddress(ctx context.Context, address string, opts ListOpts) ([]Transaction, error)
	// GetDeposit looks up a confirmed or pending deposit by its on-chain
	// transfer hash.
	GetDeposit(ctx context.Context, txHash string) (Transaction, error)
	ListPendingWithdrawals(ctx context.Context) ([]Transaction, error)
}

// EntrySettlement describes the settlement of one round entry. Payout is nil
// for losing entries, which receive no ledger credit.
type EntrySettlement struct {
	EntryID  int64
	Address  string
	Result   GameResult
	StakeQu  int64
	PayoutQu int64
	Payout   *Transaction
}

// EscrowSettlement describes the terminal disposition of one escrow row.
type EscrowSettlement struct {
	EscrowID string
	Address  string
	Status   EscrowStatus
	StakeQu  int64
	PayoutQu int64
	Payout   *Transaction
}

// LedgerStore executes mutations that touch an account row together with a
// transaction row (and possibly a round entry or escrow). Each method either
// commits all of its effects or none of them.
type LedgerStore interface {
	// CreditWithTx inserts tx and applies d as one unit. Used for deposits,
	// withdrawal compensation, and standalone credits. Returns
	// ErrDuplicateDeposit when a deposit's ExternalRef was already recorded.
	CreditWithTx(ctx context.Context, tx Transaction, d BalanceDelta) error
	// ReserveWithdrawal debits the balance and records a pending withdrawal
	// in the same unit, so reserved funds cannot be spent twice while the
	// on-chain payout is in flight.
	ReserveWithdrawal(ctx context.Context, tx Transaction) error
	// ConfirmWithdrawal marks a pending withdrawal confirmed and bumps the
	// withdrawn total. No-op (false) unless the transaction is pending.
	ConfirmWithdrawal(ctx context.Context, txID string) (bool, error)
	// FailWithdrawal marks a pending withdrawal failed and applies the
	// compensating balance credit. No-op (false) unless pending.
	FailWithdrawal(ctx context.Context, txID string) (bool, error)
	// PlaceRoundBet debits the stake, records the wager transaction, inserts
	// the entry, and grows the round's pool — all against a round that is
	// still active. Returns ErrRoundClosed otherwise.
	PlaceRoundBet(ctx context.Context, e RoundEntry, wager Transaction) error
	// SettleRoundEntry applies one entry settlement: sets the entry payout
	// (guarded on payout being unset), credits the account, and updates the
	// win/loss/push counters and streaks.
	SettleRoundEntry(ctx context.Context, s EntrySettlement) error
	// JoinMarket debits the stake, records the wager transaction, and
	// inserts the escrow row against a market that is still joinable.
	// Returns ErrMarketClosed otherwise.
	JoinMarket(ctx context.Context, es Escrow, wager Transaction) error
	// SettleEscrow applies one escrow settlement: moves the escrow to its
	// terminal status (guarded on held), credits the account if funds are
	// released or refunded, and updates the account statistics.
	SettleEscrow(ctx context.Context, s EscrowSettlement) error
}

// RoundStore persists rounds, entries, and price snapshots. All status
// changes go through guarded transitions: they apply only when the current
// status equals the expected prior status, so concurrent scheduler
// invocations collapse to at most one effective transition.
type RoundStore interface {
	Create(ctx context.Context, r Round) error
	GetByID(ctx context.Context, id string) (Round, error)
	// GetActive returns the lane's currently active round, or ErrNotFound.
	GetActive(ctx context.Context, pair string, d RoundDuration) (Round, error)
	List(ctx context.Context, f RoundFilter, opts ListOpts) ([]Round, error)
	ListByStatus(ctx context.Context, status RoundStatus) ([]Round, error)
	// Transition moves the round from -> to; reports whether it applied.
	Transition(ctx context.Context, id string, from, to RoundStatus) (bool, error)
	// Lock records the start price while moving active -> locked.
	Lock(ctx context.Context, id string, startPrice decimal.Decimal) (bool, error)
	// Resolve records the resolve price and outcome while moving
	// locked -> resolved.
	Resolve(ctx context.Context, id string, price decimal.Decimal, out Outcome) (bool, error)
	ListEntries(ctx context.Context, roundID string) ([]RoundEntry, error)
	AddSnapshot(ctx context.Context, s PriceSnapshot) error
	ListSnapshots(ctx context.Context, roundID string) ([]PriceSnapshot, error)
	// OpenPoolQu sums the pools of all non-terminal rounds (exposure).
	OpenPoolQu(ctx context.Context) (int64, error)
	// ListSettledBefore returns settled rounds closed before the cutoff, for
	// cold-storage archival.
	ListSettledBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]Round, error)
}

// MarketStore persists markets and their escrows.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// List returns markets filtered by status; empty status lists all.
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Transition(ctx context.Context, id string, from, to MarketStatus) (bool, error)
	// Resolve records the winning option while moving from -> resolved.
	Resolve(ctx context.Context, id string, from MarketStatus, option int) (bool, error)
	// ListClosingSoon returns open markets whose close time falls within
	// (now, now+window]. Time-indexed; never a full scan.
	ListClosingSoon(ctx context.Context, now time.Time, window time.Duration) ([]Market, error)
	ListResolvingSoon(ctx context.Context, now time.Time, window time.Duration) ([]Market, error)
	// ListCloseDue returns joinable markets whose close time has passed.
	ListCloseDue(ctx context.Context, now time.Time) ([]Market, error)
	// ListResolveDue returns closed markets whose resolve time has passed.
	ListResolveDue(ctx context.Context, now time.Time) ([]Market, error)
	// StatusCounts aggregates live market counts by status.
	StatusCounts(ctx context.Context) (map[MarketStatus]int64, error)
	ListEscrows(ctx context.Context, marketID string) ([]Escrow, error)
	EscrowStatusCounts(ctx context.Context) (map[EscrowStatus]int64, error)
	// HeldEscrowQu sums all currently held escrow (exposure).
	HeldEscrowQu(ctx context.Context) (int64, error)
	// ListTerminalBefore returns resolved/voided markets whose resolve time
	// passed before the cutoff, for cold-storage archival.
	ListTerminalBefore(ctx context.Context, cutoff time.Time, opts ListOpts) ([]Market, error)
}

// HouseStore persists the running house counters.
type HouseStore interface {
	Apply(ctx context.Context, d HouseDelta) error
	Get(ctx context.Context) (HouseBank, error)
}

// StatusStore persists small operational key-value state (cron health) and
// reports storage usage.
type StatusStore interface {
	Set(ctx context.Context, key, value string) error
	// Get returns ErrNotFound for unset keys.
	Get(ctx context.Context, key string) (string, error)
	StorageSizeBytes(ctx context.Context) (int64, error)
}
