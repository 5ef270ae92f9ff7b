package domain

import "time"

// HouseBank aggregates platform-level fee, payout, and exposure figures. Fee
// and payout counters are maintained incrementally at settlement time;
// exposure is always computed live from non-terminal rounds and markets.
type HouseBank struct {
	FeesQu          int64 `json:"fees_qu"`
	PayoutsQu       int64 `json:"payouts_qu"`
	RefundsQu       int64 `json:"refunds_qu"`
	WageredQu       int64 `json:"wagered_qu"`
	RoundsSettled   int64 `json:"rounds_settled"`
	MarketsResolved int64 `json:"markets_resolved"`
	// ExposureQu is the sum of all open round pools plus held escrow.
	ExposureQu int64 `json:"exposure_qu"`
}

// NetQu is the house's running profit: fees retained minus nothing else, as
// payouts are funded from losing stakes, not house capital.
func (h HouseBank) NetQu() int64 {
	return h.FeesQu
}

// HouseDelta is one increment applied to the house counters when a round
// settles or a market resolves.
type HouseDelta struct {
	FeesQu          int64
	PayoutsQu       int64
	RefundsQu       int64
	WageredQu       int64
	RoundsSettled   int64
	MarketsResolved int64
}

// BreakerState is a point-in-time snapshot of the RPC circuit breaker,
// exposed on the admin surface.
type BreakerState struct {
	Name          string    `json:"name"`
	State         string    `json:"state"` // closed | open | half_open
	FailureCount  int64     `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitzero"`
	RetryAt       time.Time `json:"retry_at,omitzero"`
}

// Well-known system_status keys.
const (
	StatusKeyLastCronRun    = "last_cron_run"
	StatusKeyLastCronErrors = "last_cron_errors"
	StatusKeyLastArchiveRun = "last_archive_run"
)
