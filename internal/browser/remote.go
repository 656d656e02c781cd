// File: internal/browser/remote.go
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// remoteBackend attaches to a managed browser service over its session API.
// Both hosted providers speak the same contract: POST /v1/sessions returns a
// CDP websocket to dial, DELETE /v1/sessions/{id} releases the browser.
type remoteBackend struct {
	kind   schemas.BackendKind
	cfg    config.RemoteBackendConfig
	client *http.Client
	logger *zap.Logger
}

func newRemoteBackend(kind schemas.BackendKind, cfg config.RemoteBackendConfig, logger *zap.Logger) *remoteBackend {
	return &remoteBackend{
		kind:   kind,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("remote_backend").With(zap.String("backend", string(kind))),
	}
}

func (b *remoteBackend) Kind() schemas.BackendKind { return b.kind }

type remoteSessionRequest struct {
	ProfileID string           `json:"profileId,omitempty"`
	Headless  bool             `json:"headless"`
	Viewport  schemas.Viewport `json:"viewport"`
	Locale    string           `json:"locale,omitempty"`
	Timezone  string           `json:"timezone,omitempty"`
	LiveView  bool             `json:"liveView,omitempty"`
}

type remoteSessionResponse struct {
	ID          string `json:"id"`
	ContextID   string `json:"contextId"`
	WSURL       string `json:"wsUrl"`
	LiveViewURL string `json:"liveViewUrl,omitempty"`
}

func (b *remoteBackend) Open(ctx context.Context, profile sessionProfile) (*conn, error) {
	remote, err := b.createSession(ctx, profile)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), remote.WSURL)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &conn{
		kind:            b.kind,
		browserCtx:      tabCtx,
		cancels:         []context.CancelFunc{allocCancel, tabCancel},
		liveViewURL:     remote.LiveViewURL,
		remoteSessionID: remote.ID,
		remoteContextID: remote.ContextID,
		closeRemote: func(ctx context.Context) error {
			return b.deleteSession(ctx, remote.ID)
		},
	}

	// Verify the websocket actually answers before handing the conn out.
	if err := runWithContext(ctx, tabCtx, chromedp.Evaluate(`1`, nil)); err != nil {
		c.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to attach to %s session %s: %w", b.kind, remote.ID, err)
	}

	b.logger.Debug("Attached to remote browser",
		zap.String("remote_session_id", remote.ID),
		zap.Bool("live_view", remote.LiveViewURL != ""))
	return c, nil
}

func (b *remoteBackend) createSession(ctx context.Context, profile sessionProfile) (*remoteSessionResponse, error) {
	body, err := json.Marshal(remoteSessionRequest{
		ProfileID: profile.ProfileID,
		Headless:  profile.Headless,
		Viewport:  profile.Viewport,
		Locale:    profile.Locale,
		Timezone:  profile.Timezone,
		LiveView:  b.cfg.LiveView,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("/v1/sessions"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s session request failed: %w", b.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned status %d: %s", b.kind, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var remote remoteSessionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&remote); err != nil {
		return nil, fmt.Errorf("decode %s session response: %w", b.kind, err)
	}
	if remote.ID == "" || remote.WSURL == "" {
		return nil, fmt.Errorf("%s session response missing id or wsUrl", b.kind)
	}
	return &remote, nil
}

func (b *remoteBackend) deleteSession(ctx context.Context, remoteID string) error {
	// Release must go through even when the caller is already tearing down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.endpoint("/v1/sessions/"+remoteID), nil)
	if err != nil {
		return err
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s session release failed: %w", b.kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%s session release returned status %d", b.kind, resp.StatusCode)
	}
	return nil
}

func (b *remoteBackend) endpoint(path string) string {
	return strings.TrimSuffix(b.cfg.BaseURL, "/") + path
}

func (b *remoteBackend) authorize(req *http.Request) {
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
}
