package handler

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/server/middleware"
	"github.com/quforge/qubet/internal/service"
)

// RoundHandler serves the round listing, detail, and betting endpoints.
type RoundHandler struct {
	rounds *service.RoundService
	feeBps int64
	logger *slog.Logger
}

// NewRoundHandler creates a RoundHandler. feeBps feeds the projected payout
// multipliers on the detail view.
func NewRoundHandler(rounds *service.RoundService, feeBps int64, logger *slog.Logger) *RoundHandler {
	return &RoundHandler{rounds: rounds, feeBps: feeBps, logger: logger}
}

// ListRounds returns rounds filtered by pair, duration, and status. With no
// status filter it lists the currently active rounds.
// GET /rounds
func (h *RoundHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.RoundFilter{
		Pair:   q.Get("pair"),
		Status: domain.RoundStatus(q.Get("status")),
	}
	if v := q.Get("duration"); v != "" {
		d := parseDuration(v)
		if !d.Valid() {
			writeError(w, http.StatusBadRequest, "duration must be 30, 60, or 120")
			return
		}
		f.Duration = d
	}

	if f.Pair == "" && f.Duration == 0 && f.Status == "" {
		rounds, err := h.rounds.ActiveRounds(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
		return
	}

	rounds, err := h.rounds.ListRounds(r.Context(), f, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rounds": rounds})
}

type sideView struct {
	PoolQu      int64           `json:"pool_qu"`
	PoolPercent decimal.Decimal `json:"pool_percent"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

type roundDetail struct {
	domain.Round
	Up        sideView               `json:"up"`
	Down      sideView               `json:"down"`
	Entries   []domain.RoundEntry    `json:"entries"`
	Snapshots []domain.PriceSnapshot `json:"snapshots"`
}

// GetRound returns one round with computed pool percentages and projected
// payout multipliers per side.
// GET /rounds/{id}
func (h *RoundHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	round, entries, snaps, err := h.rounds.GetRound(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail := roundDetail{
		Round: round,
		Up: sideView{
			PoolQu:      round.UpPoolQu,
			PoolPercent: round.PoolPercent(domain.SideUp),
			Multiplier:  round.PayoutMultiplier(domain.SideUp, h.feeBps),
		},
		Down: sideView{
			PoolQu:      round.DownPoolQu,
			PoolPercent: round.PoolPercent(domain.SideDown),
			Multiplier:  round.PayoutMultiplier(domain.SideDown, h.feeBps),
		},
		Entries:   entries,
		Snapshots: snaps,
	}
	writeJSON(w, http.StatusOK, detail)
}

type betRequest struct {
	Side     domain.Side `json:"side"`
	AmountQu int64       `json:"amount_qu"`
}

// PlaceBet stakes the caller on one side of an active round.
// POST /rounds/{id}/bet
func (h *RoundHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	acct, ok := middleware.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req betRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	entry, err := h.rounds.PlaceBet(r.Context(), acct.Address, r.PathValue("id"), req.Side, req.AmountQu)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
}

// parseDuration maps the query value to a RoundDuration; unknown values stay
// invalid and are rejected by the caller.
func parseDuration(v string) domain.RoundDuration {
	switch v {
	case "30":
		return domain.Duration30s
	case "60":
		return domain.Duration60s
	case "120":
		return domain.Duration120s
	}
	return 0
}
