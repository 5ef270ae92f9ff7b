package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/server/middleware"
	"github.com/quforge/qubet/internal/service"
)

// MarketHandler serves the prediction market endpoints. Creation,
// resolution, and voiding are operator-only and routed behind the operator
// secret.
type MarketHandler struct {
	markets *service.MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets *service.MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, logger: logger}
}

// ListMarkets returns markets, optionally filtered by status.
// GET /markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))
	markets, err := h.markets.ListMarkets(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// GetMarket returns one market with its escrows.
// GET /markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, escrows, err := h.markets.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m, "escrows": escrows})
}

type joinRequest struct {
	Option   int   `json:"option"`
	AmountQu int64 `json:"amount_qu"`
}

// Join escrows the caller's stake on one option.
// POST /markets/{id}/join
func (h *MarketHandler) Join(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req joinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	es, err := h.markets.Join(r.Context(), acct.Address, r.PathValue("id"), req.Option, req.AmountQu)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"escrow": es})
}

type createMarketRequest struct {
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	CloseAt   time.Time `json:"close_at"`
	ResolveAt time.Time `json:"resolve_at"`
}

// CreateMarket opens a new market. Operator-only.
// POST /markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), req.Question, req.Options, req.CloseAt, req.ResolveAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"market": m})
}

type resolveRequest struct {
	Option int `json:"option"`
}

// Resolve settles a closed market on the winning option. Operator-only.
// POST /markets/{id}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	m, err := h.markets.Resolve(r.Context(), r.PathValue("id"), req.Option)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m})
}

// Void cancels a market and refunds all escrows. Operator-only.
// POST /markets/{id}/void
func (h *MarketHandler) Void(w http.ResponseWriter, r *http.Request) {
	m, err := h.markets.Void(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market": m})
}
