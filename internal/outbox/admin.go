package outbox

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/k1networth/ugc-offers/internal/shared/httpx"
)

// AdminHandler exposes operator endpoints for the outbox.
type AdminHandler struct {
	Log       *slog.Logger
	Processor *Processor
	Store     Store
}

func (h *AdminHandler) Routes() []httpx.Route {
	return []httpx.Route{
		{Pattern: "POST /outbox/process", Handler: h.Process},
		{Pattern: "GET /outbox/pending", Handler: h.Pending},
		{Pattern: "GET /outbox/stats", Handler: h.Stats},
	}
}

// Process runs one drain pass and waits for it.
func (h *AdminHandler) Process(w http.ResponseWriter, r *http.Request) {
	res, err := h.Processor.ProcessOnce(r.Context())
	if err != nil {
		h.Log.Error("outbox_process_failed", slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "drain pass failed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := h.Store.FetchPending(r.Context(), limit)
	if err != nil {
		h.Log.Error("outbox_pending_failed", slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	if events == nil {
		events = []Event{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

type statsResponse struct {
	Counts                  map[Status]int64 `json:"counts"`
	Exhausted               int64            `json:"exhausted"`
	OldestPendingAgeSeconds float64          `json:"oldest_pending_age_seconds"`
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Store.Stats(r.Context())
	if err != nil {
		h.Log.Error("outbox_stats_failed", slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, statsResponse{
		Counts:                  st.Counts,
		Exhausted:               st.Exhausted,
		OldestPendingAgeSeconds: st.OldestPendingAge.Seconds(),
	})
}
