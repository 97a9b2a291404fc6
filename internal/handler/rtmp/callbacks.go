// Package rtmp terminates the media server's publish webhooks and drives the
// stream session state machine. The media server treats {code:0} as accept
// and anything else as reject.
package rtmp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pulsesocial/pulse/internal/monitor"
	"github.com/pulsesocial/pulse/internal/service"
)

const (
	actionOnPublish   = "on_publish"
	actionOnUnpublish = "on_unpublish"
)

type Handler struct {
	sessions *service.StreamSessions
	monitors *monitor.Manager
	logger   *slog.Logger
}

func NewHandler(sessions *service.StreamSessions, monitors *monitor.Manager, logger *slog.Logger) *Handler {
	return &Handler{sessions: sessions, monitors: monitors, logger: logger}
}

type callback struct {
	Action string `json:"action"`
	Stream string `json:"stream"`
	Param  string `json:"param"`
}

// parseCallback accepts either a JSON body or form encoding; media servers
// differ on which one they send.
func parseCallback(r *http.Request) (callback, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var cb callback
		if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
			return callback{}, err
		}
		return cb, nil
	}

	if err := r.ParseForm(); err != nil {
		return callback{}, err
	}
	return callback{
		Action: r.PostFormValue("action"),
		Stream: r.PostFormValue("stream"),
		Param:  r.PostFormValue("param"),
	}, nil
}

// tokenFromParam pulls the publish token out of the callback's query-string
// shaped param, e.g. "?token=abc&vhost=x".
func tokenFromParam(param string) string {
	values, err := url.ParseQuery(strings.TrimPrefix(param, "?"))
	if err != nil {
		return ""
	}
	return values.Get("token")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, err := parseCallback(r)
	if err != nil {
		h.logger.Warn("RTMP_CALLBACK_MALFORMED", "err", err)
		respond(w, http.StatusBadRequest, 1)
		return
	}

	streamID, err := strconv.ParseInt(cb.Stream, 10, 64)
	if err != nil {
		h.logger.Warn("RTMP_CALLBACK_MALFORMED", "stream", cb.Stream)
		respond(w, http.StatusBadRequest, 1)
		return
	}

	switch cb.Action {
	case actionOnPublish:
		h.onPublish(w, r, streamID, tokenFromParam(cb.Param))
	case actionOnUnpublish:
		h.onUnpublish(w, r, streamID)
	default:
		// Unknown hooks (on_play, on_dvr, ...) are acked so the media
		// server does not cut the session.
		respond(w, http.StatusOK, 0)
	}
}

func (h *Handler) onPublish(w http.ResponseWriter, r *http.Request, streamID int64, token string) {
	userID, err := h.sessions.OnPublish(r.Context(), streamID, token)
	if errors.Is(err, service.ErrRejected) {
		respond(w, http.StatusForbidden, 1)
		return
	}
	if err != nil {
		h.logger.Error("RTMP_PUBLISH_FAILED", "err", err, "stream_id", streamID)
		respond(w, http.StatusInternalServerError, 1)
		return
	}

	sid := strconv.FormatInt(streamID, 10)
	if err := h.monitors.StartMonitoring(sid, userID); err != nil && !errors.Is(err, monitor.ErrMonitorActive) {
		h.logger.Warn("MONITOR_START_FAILED", "err", err, "stream_id", sid)
	}
	respond(w, http.StatusOK, 0)
}

func (h *Handler) onUnpublish(w http.ResponseWriter, r *http.Request, streamID int64) {
	if err := h.sessions.OnUnpublish(r.Context(), streamID); err != nil {
		h.logger.Error("RTMP_UNPUBLISH_FAILED", "err", err, "stream_id", streamID)
		respond(w, http.StatusInternalServerError, 1)
		return
	}
	h.monitors.StopMonitoring(strconv.FormatInt(streamID, 10))
	respond(w, http.StatusOK, 0)
}

func respond(w http.ResponseWriter, status, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]int{"code": code})
}
