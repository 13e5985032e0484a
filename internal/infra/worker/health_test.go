package worker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Status
}

func TestHealthServer_Liveness(t *testing.T) {
	server := NewHealthServer(":0", nil, testLogger())

	rec := httptest.NewRecorder()
	server.handleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decodeStatus(t, rec))
}

func TestHealthServer_Readiness(t *testing.T) {
	server := NewHealthServer(":0", nil, testLogger())

	rec := httptest.NewRecorder()
	server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", decodeStatus(t, rec))

	server.SetReady(true)

	rec = httptest.NewRecorder()
	server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeStatus(t, rec))

	server.SetReady(false)

	rec = httptest.NewRecorder()
	server.handleReadiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServer_StateEndpoint(t *testing.T) {
	state := "STOPPED"
	server := NewHealthServer(":0", func() string { return state }, testLogger())

	rec := httptest.NewRecorder()
	server.handleState(rec, httptest.NewRequest(http.MethodGet, "/health/state", nil))

	var resp stateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "STOPPED", resp.State)

	state = "READY"
	rec = httptest.NewRecorder()
	server.handleState(rec, httptest.NewRequest(http.MethodGet, "/health/state", nil))

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "READY", resp.State)
}

func TestHealthServer_StateEndpoint_NoProvider(t *testing.T) {
	server := NewHealthServer(":0", nil, testLogger())

	rec := httptest.NewRecorder()
	server.handleState(rec, httptest.NewRequest(http.MethodGet, "/health/state", nil))

	var resp stateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "UNKNOWN", resp.State)
}
