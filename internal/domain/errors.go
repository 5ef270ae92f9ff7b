package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrValidation          = errors.New("validation failed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrRateLimited         = errors.New("rate limited")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateDeposit    = errors.New("duplicate deposit")
	ErrRoundClosed         = errors.New("round closed for betting")
	ErrMarketClosed        = errors.New("market closed for joining")
	ErrCircuitOpen         = errors.New("circuit breaker open")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrAccountFrozen       = errors.New("account frozen pending reconciliation")
	ErrLedgerInconsistency = errors.New("ledger inconsistency")
)
