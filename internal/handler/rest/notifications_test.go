package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsesocial/pulse/internal/domain/model"
	"github.com/pulsesocial/pulse/internal/metrics"
	"github.com/pulsesocial/pulse/internal/service"
	"github.com/pulsesocial/pulse/internal/store/memory"
)

type nopPublisher struct{}

func (nopPublisher) PublishToUser(context.Context, uuid.UUID, model.PushFrame) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *service.Notifier) {
	t.Helper()
	notifier := service.NewNotifier(memory.NewNotificationStore(), nopPublisher{}, slog.Default(), metrics.New(), 24*time.Hour)
	h := NewHandler(notifier, slog.Default())

	r := chi.NewRouter()
	h.Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, notifier
}

func doRequest(t *testing.T, method, url string, userID uuid.UUID) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if userID != uuid.Nil {
		req.Header.Set("X-User-Id", userID.String())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestListReturnsUsersNotifications(t *testing.T) {
	srv, notifier := newTestServer(t)
	user := uuid.New()

	_, err := notifier.Create(context.Background(), user, model.RKUserFollowed, "t1", "b1", "")
	require.NoError(t, err)
	_, err = notifier.Create(context.Background(), uuid.New(), model.RKUserFollowed, "t2", "b2", "")
	require.NoError(t, err)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/notifications", user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Notifications []model.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Notifications, 1)
	assert.Equal(t, user, body.Notifications[0].UserID)
}

func TestListSinceFiltersOldRows(t *testing.T) {
	srv, notifier := newTestServer(t)
	user := uuid.New()

	_, err := notifier.Create(context.Background(), user, model.RKUserFollowed, "t", "b", "")
	require.NoError(t, err)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp := doRequest(t, http.MethodGet, srv.URL+"/api/notifications?since="+future, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Notifications []model.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Notifications)
}

func TestListRejectsBadParams(t *testing.T) {
	srv, _ := newTestServer(t)
	user := uuid.New()

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/notifications?since=yesterday", user)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/notifications?limit=-3", user)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "bad_request", envelope.Error.Code)
	assert.NotEmpty(t, envelope.Error.Message)
}

func TestIdentityRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/notifications", uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/notifications/"+uuid.NewString()+"/read", uuid.Nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMarkRead(t *testing.T) {
	srv, notifier := newTestServer(t)
	user := uuid.New()

	n, err := notifier.Create(context.Background(), user, model.RKUserFollowed, "t", "b", "")
	require.NoError(t, err)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/notifications/"+n.ID.String()+"/read", user)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	listResp := doRequest(t, http.MethodGet, srv.URL+"/api/notifications", user)
	var body struct {
		Notifications []model.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&body))
	require.Len(t, body.Notifications, 1)
	assert.True(t, body.Notifications[0].IsRead)
}

func TestMarkReadUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/notifications/"+uuid.NewString()+"/read", uuid.New())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDelete(t *testing.T) {
	srv, notifier := newTestServer(t)
	user := uuid.New()

	n, err := notifier.Create(context.Background(), user, model.RKUserFollowed, "t", "b", "")
	require.NoError(t, err)

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/notifications/"+n.ID.String(), user)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/notifications/"+n.ID.String(), user)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
