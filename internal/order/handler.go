package order

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/k1networth/ugc-offers/internal/order/model"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/shared/httpx"
	"github.com/k1networth/ugc-offers/internal/shared/requestid"
)

type Handler struct {
	Log     *slog.Logger
	Service *Service
}

func (h *Handler) Routes() []httpx.Route {
	return []httpx.Route{
		{Pattern: "POST /orders", Handler: h.CreateOrder},
		{Pattern: "GET /orders/{id}", Handler: h.GetOrder},
		{Pattern: "POST /orders/{id}/activate", Handler: h.ActivateOrder},
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req model.CreateOrderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		msg := "invalid json"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", msg)
		return
	}
	if dec.More() {
		httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}

	created, err := h.Service.Create(r.Context(), req)
	if err != nil {
		var verr model.ValidationError
		if errors.As(err, &verr) {
			httpx.WriteError(w, r, http.StatusBadRequest, "validation_error", verr.Error())
			return
		}
		h.Log.Error("order_create_failed", requestid.Attr(r.Context()), slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.Service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
			return
		}
		h.Log.Error("order_get_failed", requestid.Attr(r.Context()), slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, o)
}

// ActivateOrder commits the status change together with the outbox event;
// delivery to the bus happens later and never fails this request.
func (h *Handler) ActivateOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.Service.Activate(r.Context(), id)
	switch {
	case err == nil:
		h.Log.Info("order_activated", requestid.Attr(r.Context()), slog.String("order_id", o.ID.String()))
		httpx.WriteJSON(w, http.StatusOK, o)
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, ErrAlreadyActive):
		httpx.WriteError(w, r, http.StatusConflict, "already_active", err.Error())
	case errors.Is(err, ErrNotActivatable):
		httpx.WriteError(w, r, http.StatusConflict, "invalid_status", err.Error())
	default:
		h.Log.Error("order_activate_failed", requestid.Attr(r.Context()), slog.String("order_id", id.String()), slog.String("err", err.Error()))
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
		return uuid.Nil, false
	}
	return id, true
}
