package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenced/models"
)

func TestGetActivityDefaultsToOffline(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	rr := httptest.NewRecorder()
	h.GetActivity(rr, httptest.NewRequest(http.MethodGet, "/activity", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp models.ActivityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.SourceDiscord, resp.Source)
	assert.False(t, resp.Online)
	assert.Nil(t, resp.OnlineSince)
}

func TestGetActivityReflectsStoredRecord(t *testing.T) {
	t.Parallel()
	engine := newTestEngine()
	require.NoError(t, engine.HandleDiscordActivity(context.Background(), json.RawMessage(`{"status":"online"}`)))
	h := NewPresenceHandler(engine, testLogger())

	rr := httptest.NewRecorder()
	h.GetActivity(rr, httptest.NewRequest(http.MethodGet, "/activity", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp models.ActivityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Online)
	assert.NotNil(t, resp.OnlineSince)
	assert.JSONEq(t, `{"status":"online"}`, string(resp.Payload))
}

func TestGetActivityRejectsPost(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	rr := httptest.NewRecorder()
	h.GetActivity(rr, httptest.NewRequest(http.MethodPost, "/activity", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestVSCodeActivityValidation(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sessionId":`},
		{"missing session id", `{"file":"a.go"}`},
		{"negative line", `{"sessionId":"s1","line":-3}`},
		{"negative column", `{"sessionId":"s1","column":-1}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/vscode-activity", strings.NewReader(tt.body))
			h.VSCodeActivity(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestVSCodeActivityAcceptThenDrop(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())
	body := `{"sessionId":"s1","workspace":"w","file":"main.go","line":10}`

	rr := httptest.NewRecorder()
	h.VSCodeActivity(rr, httptest.NewRequest(http.MethodPost, "/vscode-activity", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)
	var ok models.IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ok))
	assert.Equal(t, "ok", ok.Status)

	// The same content straight after is acknowledged but dropped.
	rr = httptest.NewRecorder()
	h.VSCodeActivity(rr, httptest.NewRequest(http.MethodPost, "/vscode-activity", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var dropped models.IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dropped))
	assert.Equal(t, "dropped", dropped.Status)
	assert.Equal(t, "no_meaningful_change", dropped.Reason)
}

func TestVSCodeActivityRateLimitHint(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	rr := httptest.NewRecorder()
	h.VSCodeActivity(rr, httptest.NewRequest(http.MethodPost, "/vscode-activity",
		strings.NewReader(`{"sessionId":"s1","file":"a.go","line":1}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	// Meaningfully different content inside the cooldown carries a retry hint.
	rr = httptest.NewRecorder()
	h.VSCodeActivity(rr, httptest.NewRequest(http.MethodPost, "/vscode-activity",
		strings.NewReader(`{"sessionId":"s1","file":"b.go","line":1}`)))
	require.Equal(t, http.StatusAccepted, rr.Code)
	var dropped models.IngestResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dropped))
	assert.Equal(t, "rate_limited", dropped.Reason)
	assert.Greater(t, dropped.RetryAfterMs, int64(0))
}

func TestVSCodeHeartbeatAcceptsEmptyBody(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	rr := httptest.NewRecorder()
	h.VSCodeHeartbeat(rr, httptest.NewRequest(http.MethodPost, "/vscode-heartbeat", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.VSCodeHeartbeat(rr, httptest.NewRequest(http.MethodPost, "/vscode-heartbeat",
		strings.NewReader(`{"sessionId":"s1"}`)))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVSCodeSessionStartRequiresID(t *testing.T) {
	t.Parallel()
	h := NewPresenceHandler(newTestEngine(), testLogger())

	rr := httptest.NewRecorder()
	h.VSCodeSessionStart(rr, httptest.NewRequest(http.MethodPost, "/vscode-session-start",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	h.VSCodeSessionStart(rr, httptest.NewRequest(http.MethodPost, "/vscode-session-start",
		strings.NewReader(`{"sessionId":"s1"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	var sess models.Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, models.SessionActive, sess.Status)
}

func TestVSCodeCleanupReportsSession(t *testing.T) {
	t.Parallel()
	engine := newTestEngine()
	h := NewPresenceHandler(engine, testLogger())

	rr := httptest.NewRecorder()
	h.VSCodeSessionStart(rr, httptest.NewRequest(http.MethodPost, "/vscode-session-start",
		strings.NewReader(`{"sessionId":"s1"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.VSCodeCleanup(rr, httptest.NewRequest(http.MethodPost, "/vscode-cleanup", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status  string          `json:"status"`
		Session *models.Session `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "s1", resp.Session.ID)
	assert.Equal(t, models.SessionEnded, resp.Session.Status)
	assert.Equal(t, models.EndReasonManual, resp.Session.EndReason)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	h := NewHealthHandler(newTestEngine())

	rr := httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "presenced", resp.Service)
	assert.Contains(t, resp.Sources, models.SourceDiscord)
	assert.Contains(t, resp.Sources, models.SourceVSCode)

	rr = httptest.NewRecorder()
	h.Health(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
