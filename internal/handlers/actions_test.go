package handlers_test

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/estatedir/internal/handlers/testutil"
	"github.com/charlesng35/estatedir/internal/models"
	"github.com/charlesng35/estatedir/internal/syncer"
)

func TestActionsHandler_RequiresAuth(t *testing.T) {
	env := testutil.NewEnv(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/actions"},
		{http.MethodGet, "/api/actions"},
		{http.MethodGet, "/api/sync/status"},
		{http.MethodPost, "/api/sync/now"},
	} {
		w := env.Request(route.method, route.path, nil, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, route.path)
	}
}

func TestActionsHandler_EnqueueAndList(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.AccessToken()

	w := env.Request(http.MethodPost, "/api/actions", map[string]any{
		"type": "favorite",
		"data": map[string]any{"project_id": "p1"},
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var stored models.PendingAction
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &stored)
	require.NotZero(t, stored.ID)
	require.Equal(t, "favorite", stored.Type)
	require.JSONEq(t, `{"project_id":"p1"}`, string(stored.Data))
	require.False(t, stored.Processed)
	require.NotZero(t, stored.Timestamp)

	require.EqualValues(t, 1, env.Sync.Status().Pending)

	list := env.Request(http.MethodGet, testutil.Query("/api/actions", url.Values{"limit": {"10"}}), nil, token)
	require.Equal(t, http.StatusOK, list.Code)
	resp := testutil.DecodeResponse(t, list)
	var actions []models.PendingAction
	testutil.DecodeInto(t, resp.Data, &actions)
	require.Len(t, actions, 1)
	require.Equal(t, 1, resp.Meta.Total)
}

func TestActionsHandler_EnqueueValidation(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.AccessToken()

	cases := map[string]map[string]any{
		"missing type":        {"data": map[string]any{"a": 1}},
		"url without method":  {"type": "note", "url": "https://example.com/api"},
		"method without url":  {"type": "note", "method": "POST"},
		"unsupported method":  {"type": "note", "url": "https://example.com/api", "method": "TRACE"},
		"relative replay url": {"type": "note", "url": "/api/notes", "method": "POST"},
	}
	for name, body := range cases {
		w := env.Request(http.MethodPost, "/api/actions", body, token)
		require.Equal(t, http.StatusBadRequest, w.Code, name)
		require.Equal(t, "BAD_REQUEST", testutil.DecodeResponse(t, w).Error.Code, name)
	}
}

func TestActionsHandler_SyncNowReplaysQueue(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.AccessToken()

	w := env.Request(http.MethodPost, "/api/actions", map[string]any{
		"type":   "enquiry",
		"data":   map[string]any{"message": "call me"},
		"url":    env.Upstream.URL("/replay"),
		"method": "post",
	}, token)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	sync := env.Request(http.MethodPost, "/api/sync/now", nil, token)
	require.Equal(t, http.StatusOK, sync.Code, sync.Body.String())
	var payload struct {
		Result syncer.Result `json:"result"`
		Status syncer.Status `json:"status"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, sync).Data, &payload)
	require.False(t, payload.Result.Skipped)
	require.Equal(t, 1, payload.Result.Processed)
	require.Zero(t, payload.Status.Pending)
	require.NotNil(t, payload.Status.LastSyncAt)
	require.EqualValues(t, 1, env.Upstream.Replays.Load())

	status := env.Request(http.MethodGet, "/api/sync/status", nil, token)
	require.Equal(t, http.StatusOK, status.Code)
	var st syncer.Status
	testutil.DecodeInto(t, testutil.DecodeResponse(t, status).Data, &st)
	require.True(t, st.Online)
	require.False(t, st.Syncing)
}

func TestActionsHandler_SyncNowSkippedOffline(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.AccessToken()
	env.Sync.SetOnline(false)

	w := env.Request(http.MethodPost, "/api/actions", map[string]any{"type": "favorite"}, token)
	require.Equal(t, http.StatusAccepted, w.Code)

	sync := env.Request(http.MethodPost, "/api/sync/now", nil, token)
	require.Equal(t, http.StatusOK, sync.Code)
	var payload struct {
		Result syncer.Result `json:"result"`
		Status syncer.Status `json:"status"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, sync).Data, &payload)
	require.True(t, payload.Result.Skipped)
	require.False(t, payload.Status.Online)
	require.EqualValues(t, 1, payload.Status.Pending)
}
