package oauth2

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dicomweb-oauth/internal/common/errors"
	"dicomweb-oauth/internal/config"
)

func TestTransport_InjectsToken(t *testing.T) {
	tokens := newTokenServer(t, 3600, 0)

	var seen atomic.Value
	dicom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer dicom.Close()

	sc := testServer("dicom-a", tokens.URL)
	sc.URL = dicom.URL + "/dicom-web"
	m := newTestManager(t, []config.ServerConfig{sc})
	client := m.Client(nil)

	resp, err := client.Get(dicom.URL + "/dicom-web/studies")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer T1", seen.Load())

	resp, err = client.Get(dicom.URL + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "", seen.Load(), "unmapped URLs are not authenticated")
	assert.Equal(t, int32(1), tokens.calls.Load())
}

func TestTransport_RetriesOnceAfter401(t *testing.T) {
	tokens := newTokenServer(t, 3600, 0)

	var requests atomic.Int32
	dicom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(body)
	}))
	defer dicom.Close()

	sc := testServer("dicom-a", tokens.URL)
	sc.URL = dicom.URL
	m := newTestManager(t, []config.ServerConfig{sc})
	client := m.Client(nil)

	resp, err := client.Post(dicom.URL+"/studies", "application/dicom", strings.NewReader("payload"))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, int32(2), tokens.calls.Load())
}

func TestTransport_AcquisitionFailure(t *testing.T) {
	tokens := newTokenServer(t, 3600, 0)
	tokens.status.Store(http.StatusUnauthorized)

	var requests atomic.Int32
	dicom := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	}))
	defer dicom.Close()

	sc := testServer("dicom-a", tokens.URL)
	sc.URL = dicom.URL
	m := newTestManager(t, []config.ServerConfig{sc})

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, dicom.URL+"/studies", nil)
	require.NoError(t, err)
	_, err = NewTransport(m, nil).RoundTrip(req)
	require.Error(t, err)
	assert.Equal(t, errors.CodeAuthInvalidCredentials, errors.CodeOf(err))
	assert.Equal(t, int32(0), requests.Load(), "no unauthenticated request is sent")
}

// closeTracker records whether the transport released the request body
type closeTracker struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

func TestTransport_AcquisitionFailureClosesBody(t *testing.T) {
	tokens := newTokenServer(t, 3600, 0)
	tokens.status.Store(http.StatusUnauthorized)

	sc := testServer("dicom-a", tokens.URL)
	sc.URL = "https://pacs.example.com/dicom-web"
	m := newTestManager(t, []config.ServerConfig{sc})

	body := &closeTracker{Reader: strings.NewReader("instance")}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, sc.URL+"/studies", body)
	require.NoError(t, err)

	_, err = NewTransport(m, nil).RoundTrip(req)
	require.Error(t, err)
	assert.True(t, body.closed.Load(), "request body must be closed on error")
}
