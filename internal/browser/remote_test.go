// File: internal/browser/remote_test.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

func TestRemoteBackend_CreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer wire-key", r.Header.Get("Authorization"))

		var req remoteSessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "default", req.ProfileID)
		assert.True(t, req.Headless)
		assert.True(t, req.LiveView)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"rs-9","contextId":"ctx-3","wsUrl":"ws://example.invalid/devtools","liveViewUrl":"https://live.example.com/rs-9"}`)
	}))
	defer srv.Close()

	b := newRemoteBackend(schemas.BackendBrowserWire, config.RemoteBackendConfig{
		BaseURL: srv.URL, APIKey: "wire-key", LiveView: true,
	}, zap.NewNop())

	remote, err := b.createSession(context.Background(), sessionProfile{ProfileID: "default", Headless: true})
	require.NoError(t, err)
	assert.Equal(t, "rs-9", remote.ID)
	assert.Equal(t, "ctx-3", remote.ContextID)
	assert.Equal(t, "ws://example.invalid/devtools", remote.WSURL)
	assert.Equal(t, "https://live.example.com/rs-9", remote.LiveViewURL)
}

func TestRemoteBackend_CreateSessionErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"service error", http.StatusServiceUnavailable, "no capacity", "status 503"},
		{"missing ws url", http.StatusOK, `{"id":"rs-1"}`, "missing id or wsUrl"},
		{"garbage body", http.StatusOK, "{", "decode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			b := newRemoteBackend(schemas.BackendSessionForge, config.RemoteBackendConfig{BaseURL: srv.URL}, zap.NewNop())
			_, err := b.createSession(context.Background(), sessionProfile{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRemoteBackend_DeleteSession(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deleted = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	b := newRemoteBackend(schemas.BackendBrowserWire, config.RemoteBackendConfig{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, b.deleteSession(context.Background(), "rs-9"))
	assert.Equal(t, "/v1/sessions/rs-9", deleted)
}

func TestRemoteBackend_DeleteSessionGoneIsFine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	b := newRemoteBackend(schemas.BackendBrowserWire, config.RemoteBackendConfig{BaseURL: srv.URL}, zap.NewNop())
	assert.NoError(t, b.deleteSession(context.Background(), "rs-gone"))
}

func TestRemoteBackend_DeleteSessionSurvivesCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := newRemoteBackend(schemas.BackendBrowserWire, config.RemoteBackendConfig{BaseURL: srv.URL}, zap.NewNop())
	assert.NoError(t, b.deleteSession(ctx, "rs-9"), "release must still run during teardown")
}
