// Package service implements the settlement engine's business logic on top of
// the domain store interfaces. Services never talk to Postgres, Redis, or the
// chain RPC directly; everything arrives through interfaces so tests can run
// against in-memory fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/platform/qubic"
)

// TransferSource verifies and submits on-chain QU transfers. Satisfied by
// qubic.GuardedClient.
type TransferSource interface {
	LookupTransfer(ctx context.Context, txHash string) (qubic.TransferInfo, error)
	BroadcastTransfer(ctx context.Context, dest string, amountQu int64, ref string) (qubic.BroadcastResult, error)
}

// LedgerService owns accounts, deposits, and withdrawals.
type LedgerService struct {
	accounts domain.AccountStore
	txs      domain.TransactionStore
	ledger   domain.LedgerStore
	chain    TransferSource
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	accounts domain.AccountStore,
	txs domain.TransactionStore,
	ledger domain.LedgerStore,
	chain TransferSource,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		accounts: accounts,
		txs:      txs,
		ledger:   ledger,
		chain:    chain,
		logger:   logger,
	}
}

// GetOrCreateAccount returns the account for address, creating it with a
// fresh API token on first sight. The token is present on the returned
// account only when created is true; it is never re-exposed afterwards.
func (s *LedgerService) GetOrCreateAccount(ctx context.Context, address string) (domain.Account, bool, error) {
	if !domain.ValidAddress(address) {
		return domain.Account{}, false, fmt.Errorf("ledger_service: %w: malformed address", domain.ErrValidation)
	}

	acct, err := s.accounts.GetByAddress(ctx, address)
	if err == nil {
		acct.APIToken = ""
		return acct, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, false, fmt.Errorf("ledger_service: get account %q: %w", address, err)
	}

	acct = domain.Account{
		Address:   address,
		APIToken:  uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	if createErr := s.accounts.Create(ctx, acct); createErr != nil {
		// Lost a creation race: another request made the account first.
		if errors.Is(createErr, domain.ErrAlreadyExists) {
			existing, getErr := s.accounts.GetByAddress(ctx, address)
			if getErr != nil {
				return domain.Account{}, false, fmt.Errorf("ledger_service: get account after race %q: %w", address, getErr)
			}
			existing.APIToken = ""
			return existing, false, nil
		}
		return domain.Account{}, false, fmt.Errorf("ledger_service: create account %q: %w", address, createErr)
	}

	s.logger.InfoContext(ctx, "ledger_service: account created",
		slog.String("address", address),
	)
	return acct, true, nil
}

// GetAccount returns the account for address with the API token stripped.
func (s *LedgerService) GetAccount(ctx context.Context, address string) (domain.Account, error) {
	acct, err := s.accounts.GetByAddress(ctx, address)
	if err != nil {
		return domain.Account{}, fmt.Errorf("ledger_service: get account %q: %w", address, err)
	}
	acct.APIToken = ""
	return acct, nil
}

// Authenticate resolves an API token to its owning account. Returns
// ErrUnauthorized for unknown tokens.
func (s *LedgerService) Authenticate(ctx context.Context, token string) (domain.Account, error) {
	if token == "" {
		return domain.Account{}, domain.ErrUnauthorized
	}
	acct, err := s.accounts.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, domain.ErrUnauthorized
		}
		return domain.Account{}, fmt.Errorf("ledger_service: authenticate: %w", err)
	}
	acct.APIToken = ""
	return acct, nil
}

// VerifyAndCreditDeposit looks the transfer up on chain and credits the
// account once. A txHash that was already credited returns
// ErrDuplicateDeposit; an unconfirmed or mismatched transfer returns
// ErrValidation.
func (s *LedgerService) VerifyAndCreditDeposit(ctx context.Context, address, txHash string) (domain.Transaction, error) {
	if txHash == "" {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: tx hash required", domain.ErrValidation)
	}

	// Known hashes short-circuit before the chain call; the unique ref guard
	// in CreditWithTx still covers the concurrent first-credit race.
	if _, err := s.txs.GetDeposit(ctx, txHash); err == nil {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: transfer %s already credited",
			domain.ErrDuplicateDeposit, txHash)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Transaction{}, fmt.Errorf("ledger_service: check deposit %s: %w", txHash, err)
	}

	transfer, err := s.chain.LookupTransfer(ctx, txHash)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger_service: lookup transfer %s: %w", txHash, err)
	}
	if !transfer.Confirmed {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: transfer %s not confirmed", domain.ErrValidation, txHash)
	}
	if transfer.Dest != address {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: transfer %s destination mismatch", domain.ErrValidation, txHash)
	}
	if transfer.AmountQu <= 0 {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: transfer %s has no amount", domain.ErrValidation, txHash)
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		Address:     address,
		Kind:        domain.TxDeposit,
		AmountQu:    transfer.AmountQu,
		Status:      domain.TxConfirmed,
		ExternalRef: txHash,
		CreatedAt:   time.Now().UTC(),
	}
	delta := domain.BalanceDelta{
		BalanceQu:   transfer.AmountQu,
		DepositedQu: transfer.AmountQu,
	}
	if err := s.ledger.CreditWithTx(ctx, tx, delta); err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger_service: credit deposit %s: %w", txHash, err)
	}

	s.logger.InfoContext(ctx, "ledger_service: deposit credited",
		slog.String("address", address),
		slog.String("tx_hash", txHash),
		slog.Int64("amount_qu", transfer.AmountQu),
	)
	return tx, nil
}

// RequestWithdrawal reserves amountQu from the balance and records a pending
// withdrawal to dest. The on-chain transfer happens later in
// ProcessPendingWithdrawals; the reservation guarantees the funds cannot be
// wagered or withdrawn twice in the meantime.
func (s *LedgerService) RequestWithdrawal(ctx context.Context, address string, amountQu int64, dest string) (domain.Transaction, error) {
	if amountQu <= 0 {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: withdrawal amount must be positive", domain.ErrValidation)
	}
	if !domain.ValidAddress(dest) {
		return domain.Transaction{}, fmt.Errorf("ledger_service: %w: malformed destination address", domain.ErrValidation)
	}

	tx := domain.Transaction{
		ID:          uuid.NewString(),
		Address:     address,
		Kind:        domain.TxWithdrawal,
		AmountQu:    amountQu,
		Status:      domain.TxPending,
		Destination: dest,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.ledger.ReserveWithdrawal(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("ledger_service: reserve withdrawal: %w", err)
	}

	s.logger.InfoContext(ctx, "ledger_service: withdrawal reserved",
		slog.String("address", address),
		slog.String("tx_id", tx.ID),
		slog.Int64("amount_qu", amountQu),
	)
	return tx, nil
}

// ProcessPendingWithdrawals broadcasts each pending withdrawal on chain and
// confirms it, or applies the compensating credit when the broadcast fails.
// Scheduler job; errors on one withdrawal never block the rest.
func (s *LedgerService) ProcessPendingWithdrawals(ctx context.Context, now time.Time) error {
	pending, err := s.txs.ListPendingWithdrawals(ctx)
	if err != nil {
		return fmt.Errorf("ledger_service: list pending withdrawals: %w", err)
	}

	var firstErr error
	for _, tx := range pending {
		result, broadcastErr := s.chain.BroadcastTransfer(ctx, tx.Destination, tx.AmountQu, tx.ID)
		if broadcastErr != nil {
			// Breaker open means the chain is unreachable, not that the
			// transfer failed. Leave the withdrawal pending for the next run.
			if errors.Is(broadcastErr, domain.ErrCircuitOpen) {
				s.logger.WarnContext(ctx, "ledger_service: withdrawal deferred, breaker open",
					slog.String("tx_id", tx.ID),
				)
				if firstErr == nil {
					firstErr = broadcastErr
				}
				continue
			}
			applied, failErr := s.ledger.FailWithdrawal(ctx, tx.ID)
			if failErr != nil {
				// The reservation debit stands but the compensating credit
				// could not be recorded. Freeze the account until an
				// operator reconciles it.
				if frzErr := s.accounts.SetFrozen(ctx, tx.Address, true); frzErr != nil {
					s.logger.ErrorContext(ctx, "ledger_service: freeze account",
						slog.String("address", tx.Address),
						slog.String("error", frzErr.Error()),
					)
				}
				s.logger.ErrorContext(ctx, "ledger_service: withdrawal compensation failed, account frozen",
					slog.String("tx_id", tx.ID),
					slog.String("address", tx.Address),
					slog.String("error", failErr.Error()),
				)
				if firstErr == nil {
					firstErr = fmt.Errorf("ledger_service: compensate withdrawal %s: %w: %s",
						tx.ID, domain.ErrLedgerInconsistency, failErr)
				}
				continue
			}
			if applied {
				s.logger.WarnContext(ctx, "ledger_service: withdrawal failed, balance restored",
					slog.String("tx_id", tx.ID),
					slog.Int64("amount_qu", tx.AmountQu),
					slog.String("error", broadcastErr.Error()),
				)
			}
			continue
		}

		applied, confirmErr := s.ledger.ConfirmWithdrawal(ctx, tx.ID)
		if confirmErr != nil {
			s.logger.ErrorContext(ctx, "ledger_service: confirm withdrawal",
				slog.String("tx_id", tx.ID),
				slog.String("error", confirmErr.Error()),
			)
			if firstErr == nil {
				firstErr = confirmErr
			}
			continue
		}
		if applied {
			s.logger.InfoContext(ctx, "ledger_service: withdrawal confirmed",
				slog.String("tx_id", tx.ID),
				slog.String("chain_tx", result.TxHash),
				slog.Int64("amount_qu", tx.AmountQu),
			)
		}
	}
	return firstErr
}

// History returns the account's transactions, newest first.
func (s *LedgerService) History(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Transaction, error) {
	txs, err := s.txs.ListByAddress(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: history for %q: %w", address, err)
	}
	return txs, nil
}

// Leaderboard returns accounts ranked by net winnings, tokens stripped.
func (s *LedgerService) Leaderboard(ctx context.Context, limit int) ([]domain.Account, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	accts, err := s.accounts.Leaderboard(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: leaderboard: %w", err)
	}
	for i := range accts {
		accts[i].APIToken = ""
	}
	return accts, nil
}
