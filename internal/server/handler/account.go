package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/server/middleware"
	"github.com/quforge/qubet/internal/service"
)

// accountLedger is the slice of the ledger service the account endpoints
// use.
type accountLedger interface {
	GetOrCreateAccount(ctx context.Context, address string) (domain.Account, bool, error)
	GetAccount(ctx context.Context, address string) (domain.Account, error)
	Authenticate(ctx context.Context, token string) (domain.Account, error)
	VerifyAndCreditDeposit(ctx context.Context, address, txHash string) (domain.Transaction, error)
	RequestWithdrawal(ctx context.Context, address string, amountQu int64, dest string) (domain.Transaction, error)
	History(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Transaction, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.Account, error)
}

// AccountHandler serves the account, deposit, withdrawal, and history
// endpoints.
type AccountHandler struct {
	ledger accountLedger
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(ledger *service.LedgerService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{ledger: ledger, logger: logger}
}

type accountRequest struct {
	Address string `json:"address"`
	// TxHash, when present, credits an on-chain deposit after verification.
	TxHash string `json:"tx_hash,omitempty"`
}

type accountResponse struct {
	Account domain.Account      `json:"account"`
	Created bool                `json:"created,omitempty"`
	Deposit *domain.Transaction `json:"deposit,omitempty"`
}

// CreateOrDeposit creates the account on first sight and, when a tx_hash is
// supplied, verifies the transfer on chain and credits it once. Creation is
// tokenless, but crediting a deposit moves money and so requires the
// account's own token. The API token appears in the response only on
// creation.
// POST /account
func (h *AccountHandler) CreateOrDeposit(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if req.TxHash != "" {
		token := middleware.BearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "deposit requires api token")
			return
		}
		caller, err := h.ledger.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api token")
			return
		}
		if caller.Address != req.Address {
			writeError(w, http.StatusForbidden, "token does not match address")
			return
		}
	}

	acct, created, err := h.ledger.GetOrCreateAccount(r.Context(), req.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := accountResponse{Account: acct, Created: created}
	if req.TxHash != "" {
		deposit, err := h.ledger.VerifyAndCreditDeposit(r.Context(), req.Address, req.TxHash)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.Deposit = &deposit
		// Re-read so the response carries the credited balance; the token
		// from creation must survive the refresh.
		token := resp.Account.APIToken
		updated, getErr := h.ledger.GetAccount(r.Context(), req.Address)
		if getErr == nil {
			resp.Account = updated
			resp.Account.APIToken = token
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// GetAccount returns the authenticated caller's account.
// GET /account
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Account: acct})
}

type withdrawRequest struct {
	AmountQu    int64  `json:"amount_qu"`
	Destination string `json:"destination"`
}

// Withdraw reserves the amount and queues an on-chain transfer.
// POST /account/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	tx, err := h.ledger.RequestWithdrawal(r.Context(), acct.Address, req.AmountQu, req.Destination)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"withdrawal": tx})
}

// History returns the caller's transactions, newest first.
// GET /history
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	txs, err := h.ledger.History(r.Context(), acct.Address, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Leaderboard returns accounts ranked by net winnings.
// GET /leaderboard
func (h *AccountHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := parseListOpts(r).Limit
	accts, err := h.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": accts})
}
