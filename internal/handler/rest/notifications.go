// Package rest exposes the notification reconciliation surface. Clients call
// it after a WebSocket reconnect to catch up on frames missed while offline.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pulsesocial/pulse/internal/handler/ws"
	"github.com/pulsesocial/pulse/internal/service"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Handler struct {
	notifier *service.Notifier
	logger   *slog.Logger
}

func NewHandler(notifier *service.Notifier, logger *slog.Logger) *Handler {
	return &Handler{notifier: notifier, logger: logger}
}

// Mount attaches the notification routes under /api/notifications.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/notifications", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/{id}/read", h.markRead)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := ws.Identity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid user id", nil)
		return
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "since must be RFC3339", map[string]string{"since": raw})
			return
		}
		since = t
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer", map[string]string{"limit": raw})
			return
		}
		limit = min(n, maxListLimit)
	}

	ns, err := h.notifier.ListSince(r.Context(), userID, since, limit)
	if err != nil {
		h.logger.Error("NOTIFICATION_LIST_FAILED", "err", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to list notifications", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.notifier.MarkRead(r.Context(), id); err != nil {
		h.writeStoreError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.notifier.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err, id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if _, ok := ws.Identity(r); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid user id", nil)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid notification id", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "notification not found", nil)
		return
	}
	h.logger.Error("NOTIFICATION_UPDATE_FAILED", "err", err, "notification_id", id)
	writeError(w, http.StatusInternalServerError, "internal", "notification update failed", nil)
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
