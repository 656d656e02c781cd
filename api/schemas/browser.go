package schemas

import (
	"time"
)

// -- Session Schemas --

// BackendKind identifies which browser-hosting provider a session runs on.
type BackendKind string

const (
	// BackendAuto probes remote providers in priority order and falls back
	// to the local backend when allowed.
	BackendAuto BackendKind = "auto"
	// BackendLocal is the in-process headless Chrome launched via chromedp.
	BackendLocal BackendKind = "local"
	// BackendBrowserWire is the primary managed-browser service. It is
	// probed first because it exposes a live-view URL.
	BackendBrowserWire BackendKind = "browserwire"
	// BackendSessionForge is the secondary managed-browser service.
	BackendSessionForge BackendKind = "sessionforge"
)

// SessionStatus tracks the lifecycle of a browser session.
type SessionStatus string

const (
	SessionStarting SessionStatus = "starting"
	SessionReady    SessionStatus = "ready"
	SessionEnded    SessionStatus = "ended"
	SessionFailed   SessionStatus = "failed"
)

// Viewport is the emulated page dimensions for a session.
type Viewport struct {
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// SessionConfig carries the caller-supplied options for starting a session.
// Zero values defer to environment defaults, which defer to hard-coded
// defaults (call-site > environment > built-in).
type SessionConfig struct {
	ProfileID         string      `json:"profileId,omitempty"`
	Headless          *bool       `json:"headless,omitempty"`
	BackendPreference BackendKind `json:"backend,omitempty"`
	FallbackOnError   *bool       `json:"fallbackOnError,omitempty"`
	Viewport          *Viewport   `json:"viewport,omitempty"`
	Locale            string      `json:"locale,omitempty"`
	Timezone          string      `json:"timezone,omitempty"`
	StartURL          string      `json:"startUrl,omitempty"`
}

// SessionSnapshot is the public, immutable view of a live session.
type SessionSnapshot struct {
	ID              string        `json:"id"`
	Backend         BackendKind   `json:"backend"`
	ProfileID       string        `json:"profileId"`
	Headless        bool          `json:"headless"`
	Viewport        Viewport      `json:"viewport"`
	Locale          string        `json:"locale"`
	Timezone        string        `json:"timezone"`
	LiveViewURL     string        `json:"liveViewUrl,omitempty"`
	RemoteSessionID string        `json:"remoteSessionId,omitempty"`
	RemoteContextID string        `json:"remoteContextId,omitempty"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"startedAt"`
}

// EquivalentProfile reports whether a new session config describes the same
// browser profile as the snapshot. Starting an equivalent session is
// idempotent; a conflicting one replaces the session.
func (s *SessionSnapshot) EquivalentProfile(cfg SessionConfig) bool {
	if cfg.ProfileID != "" && cfg.ProfileID != s.ProfileID {
		return false
	}
	if cfg.BackendPreference != "" && cfg.BackendPreference != BackendAuto && cfg.BackendPreference != s.Backend {
		return false
	}
	if cfg.Headless != nil && *cfg.Headless != s.Headless {
		return false
	}
	if cfg.Locale != "" && cfg.Locale != s.Locale {
		return false
	}
	if cfg.Timezone != "" && cfg.Timezone != s.Timezone {
		return false
	}
	if cfg.Viewport != nil && *cfg.Viewport != s.Viewport {
		return false
	}
	return true
}
