package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quforge/qubet/internal/domain"
	"github.com/quforge/qubet/internal/service"
)

// Ticker triggers one scheduler pass. Satisfied by scheduler.Scheduler.
type Ticker interface {
	Tick(ctx context.Context) bool
}

// adminRollup is the slice of the admin service these endpoints use.
type adminRollup interface {
	Status(ctx context.Context) (service.AdminStatus, error)
	Stats(ctx context.Context) (service.PlatformStats, error)
	CronHealth(ctx context.Context) (lastRun, lastErrors string)
}

type houseSummary interface {
	Summary(ctx context.Context) (domain.HouseBank, error)
}

// AdminHandler serves the operator surfaces: manual cron trigger, the status
// rollup, and the public stats and house views.
type AdminHandler struct {
	admin  adminRollup
	house  houseSummary
	ticker Ticker
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin *service.AdminService, house *service.HouseService, ticker Ticker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, house: house, ticker: ticker, logger: logger}
}

// Cron triggers one scheduler tick and reports the outcome of the most
// recent pass. Safe to race the internal timer: a tick already in flight
// makes this a recorded no-op.
// GET /cron (operator secret)
func (h *AdminHandler) Cron(w http.ResponseWriter, r *http.Request) {
	ran := h.ticker.Tick(r.Context())
	lastRun, lastErrors := h.admin.CronHealth(r.Context())
	resp := map[string]any{
		"triggered":     ran,
		"skipped":       !ran,
		"last_cron_run": lastRun,
	}
	if lastErrors != "" {
		resp["last_cron_errors"] = lastErrors
	}
	writeJSON(w, http.StatusOK, resp)
}

// Status returns the read-only operator rollup.
// GET /admin/status (operator secret)
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Stats returns the public platform aggregate.
// GET /stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// House returns the house bank with live exposure.
// GET /house
func (h *AdminHandler) House(w http.ResponseWriter, r *http.Request) {
	bank, err := h.house.Summary(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bank)
}
