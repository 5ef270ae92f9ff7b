package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quforge/qubet/internal/service"
)

type fakeTicker struct{ ran bool }

func (f fakeTicker) Tick(context.Context) bool { return f.ran }

type fakeAdmin struct {
	lastRun    string
	lastErrors string
}

func (f fakeAdmin) Status(context.Context) (service.AdminStatus, error) {
	return service.AdminStatus{}, nil
}

func (f fakeAdmin) Stats(context.Context) (service.PlatformStats, error) {
	return service.PlatformStats{}, nil
}

func (f fakeAdmin) CronHealth(context.Context) (string, string) {
	return f.lastRun, f.lastErrors
}

func newCronFixture(admin fakeAdmin, ran bool) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		ticker: fakeTicker{ran: ran},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCronReportsLastRun(t *testing.T) {
	h := newCronFixture(fakeAdmin{lastRun: "2026-08-29T10:00:00Z"}, true)

	rec := httptest.NewRecorder()
	h.Cron(rec, httptest.NewRequest(http.MethodGet, "/cron", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["triggered"])
	assert.Equal(t, false, resp["skipped"])
	assert.Equal(t, "2026-08-29T10:00:00Z", resp["last_cron_run"])
	assert.NotContains(t, resp, "last_cron_errors")
}

func TestCronSurfacesLastErrors(t *testing.T) {
	h := newCronFixture(fakeAdmin{
		lastRun:    "2026-08-29T10:00:00Z",
		lastErrors: "rounds: price unavailable",
	}, false)

	rec := httptest.NewRecorder()
	h.Cron(rec, httptest.NewRequest(http.MethodGet, "/cron", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["triggered"])
	assert.Equal(t, true, resp["skipped"])
	assert.Equal(t, "rounds: price unavailable", resp["last_cron_errors"])
}
