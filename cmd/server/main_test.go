package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/app"
	"github.com/soaringjerry/opine/internal/config"
)

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, *app.App) {
	t.Helper()
	logger := app.NewLogger(cfg.Log, io.Discard)
	a, err := app.New(context.Background(), cfg, logger)
	require.NoError(t, err)
	srv := httptest.NewServer(newEngine(cfg, a, logger))
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close()
	})
	return srv, a
}

func TestEngineHealth(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory
	srv, _ := newTestServer(t, &cfg)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Language", "hi-IN,en;q=0.5")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hi", body["locale"])
	assert.Equal(t, true, body["ok"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/queue")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
