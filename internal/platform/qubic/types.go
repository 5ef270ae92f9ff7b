package qubic

import (
	"time"

	"github.com/shopspring/decimal"
)

// TickInfo is the chain's current tick and epoch.
type TickInfo struct {
	Tick  uint64 `json:"tick"`
	Epoch uint32 `json:"epoch"`
}

// PricePoint is one observed price for a pair.
type PricePoint struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// TransferInfo describes an on-chain QU transfer, used to verify deposits.
type TransferInfo struct {
	TxHash    string `json:"tx_hash"`
	Source    string `json:"source"`
	Dest      string `json:"dest"`
	AmountQu  int64  `json:"amount_qu"`
	Tick      uint64 `json:"tick"`
	Confirmed bool   `json:"confirmed"`
}

// BroadcastResult is the chain's acknowledgement of a submitted transfer.
type BroadcastResult struct {
	TxHash string `json:"tx_hash"`
	Tick   uint64 `json:"tick"`
}
