// File: internal/browser/manager.go

// Package browser manages browser session lifecycles across hosting
// backends. Hosted providers are probed in priority order and the local
// chromedp backend is the terminal fallback when fallback is permitted.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// ErrNoActiveSession is returned when a session id is unknown or already
// ended. Callers use it to decide whether a restart-and-retry makes sense.
var ErrNoActiveSession = errors.New("no active browser session")

// ErrSessionCapacity is returned when starting another session would exceed
// the configured limit.
var ErrSessionCapacity = errors.New("browser session capacity reached")

const shutdownGracePeriod = 15 * time.Second

// Session is one live browser session and its page handle.
type Session struct {
	snapshot schemas.SessionSnapshot
	conn     *conn
	page     *page
}

// Snapshot returns the public view of the session.
func (s *Session) Snapshot() schemas.SessionSnapshot { return s.snapshot }

// Manager owns all browser sessions. It implements schemas.SessionProvider.
type Manager struct {
	cfg      config.BrowserConfig
	backends []backend
	local    backend
	store    *profileStore
	recorder schemas.EventRecorder
	logger   *zap.Logger

	sessions map[string]*Session
	mu       sync.Mutex
}

// NewManager builds a manager with the backend chain derived from config:
// configured hosted providers in priority order, then the local backend.
func NewManager(cfg config.BrowserConfig, recorder schemas.EventRecorder, logger *zap.Logger) *Manager {
	log := logger.Named("browser_manager")

	var remotes []backend
	if cfg.BrowserWire.Configured() {
		remotes = append(remotes, newRemoteBackend(schemas.BackendBrowserWire, cfg.BrowserWire, log))
	}
	if cfg.SessionForge.Configured() {
		remotes = append(remotes, newRemoteBackend(schemas.BackendSessionForge, cfg.SessionForge, log))
	}

	return &Manager{
		cfg:      cfg,
		backends: remotes,
		local:    newLocalBackend(log),
		store:    newProfileStore(cfg.StateDir, log),
		recorder: recorder,
		logger:   log,
		sessions: make(map[string]*Session),
	}
}

// newManagerWithBackends is the test seam for injecting fake backends.
func newManagerWithBackends(cfg config.BrowserConfig, remotes []backend, local backend, recorder schemas.EventRecorder, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		backends: remotes,
		local:    local,
		store:    newProfileStore(cfg.StateDir, logger),
		recorder: recorder,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
}

// StartSession starts (or reuses) the session with the given id. Starting
// an id whose live session has an equivalent profile is idempotent and
// returns the existing snapshot; a conflicting profile ends the old session
// and starts fresh.
func (m *Manager) StartSession(ctx context.Context, sessionID string, cfg schemas.SessionConfig) (*schemas.SessionSnapshot, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}

	m.mu.Lock()
	if existing, ok := m.sessions[sessionID]; ok {
		if existing == nil {
			// Another caller holds the reservation and is still opening.
			m.mu.Unlock()
			return nil, fmt.Errorf("session %s is already starting", sessionID)
		}
		if existing.snapshot.EquivalentProfile(cfg) {
			snap := existing.snapshot
			m.mu.Unlock()
			m.logger.Debug("Session start is idempotent, reusing live session",
				zap.String("session_id", sessionID))
			return &snap, nil
		}
		m.mu.Unlock()
		m.logger.Info("Session profile conflicts with live session, replacing",
			zap.String("session_id", sessionID))
		if _, err := m.EndSession(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("failed to replace session %s: %w", sessionID, err)
		}
		m.mu.Lock()
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (max %d)", ErrSessionCapacity, m.cfg.MaxSessions)
	}
	// Reserve the slot before the slow backend work.
	m.sessions[sessionID] = nil
	m.mu.Unlock()

	session, err := m.open(ctx, sessionID, cfg)

	m.mu.Lock()
	if err != nil {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[sessionID] = session
	m.mu.Unlock()

	if err := m.store.Put(session.snapshot); err != nil {
		m.logger.Warn("Failed to persist session state", zap.Error(err))
	}
	m.record(sessionID, "session_start", session.snapshot)

	snap := session.snapshot
	return &snap, nil
}

// open resolves the profile, walks the backend chain, and navigates to the
// start URL when one was requested.
func (m *Manager) open(ctx context.Context, sessionID string, cfg schemas.SessionConfig) (*Session, error) {
	profile := m.resolveProfile(sessionID, cfg)

	c, kind, err := m.openConn(ctx, cfg, profile)
	if err != nil {
		return nil, err
	}

	session := &Session{
		snapshot: schemas.SessionSnapshot{
			ID:              sessionID,
			Backend:         kind,
			ProfileID:       profile.ProfileID,
			Headless:        profile.Headless,
			Viewport:        profile.Viewport,
			Locale:          profile.Locale,
			Timezone:        profile.Timezone,
			LiveViewURL:     c.liveViewURL,
			RemoteSessionID: c.remoteSessionID,
			RemoteContextID: c.remoteContextID,
			Status:          schemas.SessionReady,
			StartedAt:       time.Now().UTC(),
		},
		conn: c,
		page: newPage(sessionID, c.browserCtx),
	}

	if cfg.StartURL != "" {
		timeout := m.cfg.NavigationTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if err := session.page.Navigate(ctx, cfg.StartURL, timeout); err != nil {
			// The session is still usable, the caller just did not land
			// where it asked. Surface through logs, not failure.
			m.logger.Warn("Initial navigation failed",
				zap.String("session_id", sessionID),
				zap.String("url", cfg.StartURL),
				zap.Error(err))
		}
	}
	return session, nil
}

// openConn tries backends in order until one yields a connection. An
// explicit backend preference pins the first attempt; whether failures may
// continue down the chain is controlled by the fallback flag.
func (m *Manager) openConn(ctx context.Context, cfg schemas.SessionConfig, profile sessionProfile) (*conn, schemas.BackendKind, error) {
	chain := m.backendChain(cfg.BackendPreference)
	fallback := m.cfg.FallbackOnError
	if cfg.FallbackOnError != nil {
		fallback = *cfg.FallbackOnError
	}

	var errs []error
	for i, b := range chain {
		c, err := b.Open(ctx, profile)
		if err == nil {
			if i > 0 {
				m.logger.Info("Fell back to secondary backend",
					zap.String("backend", string(b.Kind())))
			}
			return c, b.Kind(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Kind(), err))
		m.logger.Warn("Backend failed to open session",
			zap.String("backend", string(b.Kind())), zap.Error(err))
		if !fallback {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("all backends failed: %w", errors.Join(errs...))
}

// backendChain returns the probe order for a preference. Auto means hosted
// providers first, local last. An explicit hosted preference moves it to
// the front but keeps the rest as fallbacks.
func (m *Manager) backendChain(pref schemas.BackendKind) []backend {
	if pref == "" {
		pref = schemas.BackendKind(m.cfg.BackendPreference)
	}
	if pref == schemas.BackendLocal {
		return []backend{m.local}
	}

	chain := make([]backend, 0, len(m.backends)+1)
	if pref != "" && pref != schemas.BackendAuto {
		for _, b := range m.backends {
			if b.Kind() == pref {
				chain = append(chain, b)
			}
		}
		if len(chain) == 0 {
			m.logger.Warn("Requested backend is not configured, using auto order",
				zap.String("backend", string(pref)))
		}
	}
	for _, b := range m.backends {
		if len(chain) > 0 && b.Kind() == chain[0].Kind() {
			continue
		}
		chain = append(chain, b)
	}
	return append(chain, m.local)
}

// resolveProfile layers the stored snapshot for a known session, then the
// call's config, over the environment defaults. The stored layer is what
// keeps a conversation pinned to the same profile across process restarts.
func (m *Manager) resolveProfile(sessionID string, cfg schemas.SessionConfig) sessionProfile {
	profile := sessionProfile{
		ProfileID: m.cfg.DefaultProfileID,
		Headless:  m.cfg.Headless,
		Viewport:  schemas.Viewport{Width: m.cfg.ViewportWidth, Height: m.cfg.ViewportHeight},
		Locale:    m.cfg.Locale,
		Timezone:  m.cfg.Timezone,
		StateDir:  m.cfg.StateDir,
		Args:      m.cfg.Args,
	}
	if stored, ok := m.store.Load()[sessionID]; ok {
		if stored.ProfileID != "" {
			profile.ProfileID = stored.ProfileID
		}
		profile.Headless = stored.Headless
		if stored.Viewport.Width > 0 && stored.Viewport.Height > 0 {
			profile.Viewport = stored.Viewport
		}
		if stored.Locale != "" {
			profile.Locale = stored.Locale
		}
		if stored.Timezone != "" {
			profile.Timezone = stored.Timezone
		}
	}
	if cfg.ProfileID != "" {
		profile.ProfileID = cfg.ProfileID
	}
	if cfg.Headless != nil {
		profile.Headless = *cfg.Headless
	}
	if cfg.Viewport != nil {
		profile.Viewport = *cfg.Viewport
	}
	if cfg.Locale != "" {
		profile.Locale = cfg.Locale
	}
	if cfg.Timezone != "" {
		profile.Timezone = cfg.Timezone
	}
	if profile.Viewport.Width <= 0 || profile.Viewport.Height <= 0 {
		profile.Viewport = schemas.Viewport{Width: 1280, Height: 800}
	}
	return profile
}

// Page returns the live page handle for a session.
func (m *Manager) Page(sessionID string) (schemas.PageHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionID)
	}
	return session.page, nil
}

// Snapshot returns the session's current public state.
func (m *Manager) Snapshot(sessionID string) (*schemas.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok || session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveSession, sessionID)
	}
	snap := session.snapshot
	return &snap, nil
}

// EndSession closes the session and releases its backend resources. Ending
// an unknown session returns (false, nil): the desired state already holds.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok || session == nil {
		return false, nil
	}

	err := session.conn.Close(ctx)
	if storeErr := m.store.Remove(sessionID); storeErr != nil {
		m.logger.Warn("Failed to remove session state", zap.Error(storeErr))
	}
	m.record(sessionID, "session_end", map[string]any{"backend": session.snapshot.Backend})

	if err != nil {
		return true, fmt.Errorf("session %s closed with error: %w", sessionID, err)
	}
	m.logger.Info("Session ended", zap.String("session_id", sessionID))
	return true, nil
}

// Shutdown ends every live session, bounded by a grace period.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var errs []error
	for _, id := range ids {
		if _, err := m.EndSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) record(sessionID, kind string, payload any) {
	if m.recorder != nil {
		m.recorder.Record(sessionID, kind, payload)
	}
}

var _ schemas.SessionProvider = (*Manager)(nil)
