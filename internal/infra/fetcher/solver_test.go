package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSolver_Solve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			URL string `json:"url"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://blocked.example/feed.xml", req.URL)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusOK,
			"body":   "<rss/>",
		})
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL)
	body, status, err := solver.Solve(context.Background(), "https://blocked.example/feed.xml")

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []byte("<rss/>"), body)
}

func TestHTTPSolver_RelaysUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": http.StatusForbidden,
			"body":   "",
		})
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL)
	_, status, err := solver.Solve(context.Background(), "https://blocked.example/feed.xml")

	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestHTTPSolver_SolverEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	solver := NewHTTPSolver(srv.URL)
	_, status, err := solver.Solve(context.Background(), "https://blocked.example/feed.xml")

	require.Error(t, err)
	assert.Equal(t, http.StatusBadGateway, status)
}
