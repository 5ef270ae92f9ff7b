package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quforge/qubet/internal/domain"
)

// writeJSON marshals v and writes it with the given status. A marshal
// failure degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the engine's sentinel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeError(w, http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrAccountFrozen):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrDuplicateDeposit):
		writeError(w, http.StatusConflict, "deposit already credited")
	case errors.Is(err, domain.ErrRoundClosed):
		writeError(w, http.StatusConflict, "round closed for betting")
	case errors.Is(err, domain.ErrMarketClosed):
		writeError(w, http.StatusConflict, "market closed for joining")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, domain.ErrCircuitOpen), errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON parses the request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.ErrValidation
	}
	return nil
}

// parseListOpts extracts pagination parameters. Defaults: limit=50, max 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}
