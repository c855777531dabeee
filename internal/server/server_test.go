package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomweb-oauth/internal/common/logging"
	"dicomweb-oauth/internal/oauth2"
)

type staticSource []oauth2.Snapshot

func (s staticSource) Snapshots(context.Context) []oauth2.Snapshot { return s }

func TestNewRouter_HealthChecks(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	down := func(context.Context) error { return fmt.Errorf("dial tcp: connection refused") }

	tests := []struct {
		name     string
		checks   []HealthCheck
		wantCode int
		wantBody string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", []HealthCheck{healthy}, http.StatusOK, "ok"},
		{"one failing", []HealthCheck{healthy, down}, http.StatusServiceUnavailable, "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewRouter(nil, nil, tt.checks...).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestNewRouter(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("dicomweb_oauth_cache_hits_total 1"))
	})
	router := NewRouter(metrics, staticSource{{Server: "dicom-a", Provider: "azure"}})

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/metrics", http.StatusOK, "dicomweb_oauth_cache_hits_total"},
		{"/status", http.StatusOK, `"server":"dicom-a"`},
		{"/healthz", http.StatusOK, "ok"},
		{"/missing", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestNewRouter_WithoutMetrics(t *testing.T) {
	router := NewRouter(nil, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	srv := New(NewRouter(nil, nil), "127.0.0.1:0", logging.NewNopLogger())
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestServer_StartBindError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	srv := New(NewRouter(nil, nil), ts.Listener.Addr().String(), logging.NewNopLogger())
	assert.Error(t, srv.Start())
}

func TestServer_Serves(t *testing.T) {
	srv := New(NewRouter(nil, nil), "127.0.0.1:0", logging.NewNopLogger())
	ts := httptest.NewServer(srv.srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "ok", string(body))
}
