package domain

import "time"

// MarketStatus is the lifecycle state of an escrow market. closing_soon and
// resolving_soon are advisory flags set within a configurable lookahead
// window; the terminal states are resolved and voided.
type MarketStatus string

const (
	MarketOpen          MarketStatus = "open"
	MarketClosingSoon   MarketStatus = "closing_soon"
	MarketClosed        MarketStatus = "closed"
	MarketResolvingSoon MarketStatus = "resolving_soon"
	MarketResolved      MarketStatus = "resolved"
	MarketVoided        MarketStatus = "voided"
)

// Terminal reports whether the status admits no further transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketResolved || s == MarketVoided
}

// Market is a multi-option escrow-based prediction market.
type Market struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Options  []string     `json:"options"`
	Status   MarketStatus `json:"status"`
	CloseAt  time.Time    `json:"close_at"`
	ResolveAt time.Time   `json:"resolve_at"`
	// ResolvedOption indexes into Options once the market resolves; -1 before.
	ResolvedOption int       `json:"resolved_option"`
	CreatedAt      time.Time `json:"created_at"`
}

// EscrowStatus is the lifecycle state of escrowed funds. held funds are
// unavailable for withdrawal; release and refund are terminal.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowLost     EscrowStatus = "lost"
	EscrowRefunded EscrowStatus = "refunded"
)

// Escrow earmarks a bettor's stake on one market option until resolution.
type Escrow struct {
	ID       string       `json:"id"`
	MarketID string       `json:"market_id"`
	Address  string       `json:"address"`
	Option   int          `json:"option"`
	AmountQu int64        `json:"amount_qu"`
	Status   EscrowStatus `json:"status"`
	// JoinTxID references the wager transaction created when the escrow was
	// placed.
	JoinTxID  string    `json:"join_tx_id"`
	CreatedAt time.Time `json:"created_at"`
}
