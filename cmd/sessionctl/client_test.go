package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDecodesASuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"state": "streaming"})
	}))
	defer srv.Close()

	resp, err := newAPIClient(srv.URL).get("/status")
	require.NoError(t, err)
	assert.Equal(t, "streaming", resp["state"])
}

func TestGetSurfacesTheServerErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "symbol not found"})
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).get("/symbols/GME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol not found")
}

func TestPostSendsAJSONBody(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}))
	defer srv.Close()

	resp, err := newAPIClient(srv.URL).post("/symbols", map[string]string{"symbol": "TSLA"})
	require.NoError(t, err)
	assert.Equal(t, "TSLA", gotBody["symbol"])
	assert.Equal(t, "pending", resp["status"])
}

func TestDeleteHitsTheRightPath(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"status": "removed"})
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).delete("/symbols/AAPL")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/symbols/AAPL", gotPath)
}
