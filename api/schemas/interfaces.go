package schemas

import (
	"context"
	"time"
)

// -- Page Interface --

// PageHandle is a borrowed view of a session's live page. The session
// manager owns the resource; callers hold the handle only for the duration
// of one action and must serialize calls per session id.
type PageHandle interface {
	// SessionID returns the owning session's id.
	SessionID() string

	// Navigate loads an absolute URL. The timeout bounds only the initial
	// load; settle behavior is layered on top by the executor.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// WaitLoad blocks until the page fires its load event or the timeout
	// elapses. Used best-effort by the settle sequence.
	WaitLoad(ctx context.Context, timeout time.Duration) error
	// ReadyState returns document.readyState.
	ReadyState(ctx context.Context) (string, error)
	// WaitNetworkIdle blocks until no network activity for a quiet period,
	// bounded by timeout. Best-effort.
	WaitNetworkIdle(ctx context.Context, timeout time.Duration) error

	Click(ctx context.Context, css string) error
	ClickAt(ctx context.Context, x, y float64) error
	Fill(ctx context.Context, css, value string) error
	PressEnter(ctx context.Context) error
	Scroll(ctx context.Context, dx, dy float64) error

	// Eval runs a JavaScript expression and unmarshals the result into out.
	Eval(ctx context.Context, js string, out any) error
	// HTML returns the full serialized document.
	HTML(ctx context.Context) (string, error)
	// Location returns the current URL and title.
	Location(ctx context.Context) (url string, title string, err error)
	// Screenshot captures the viewport as PNG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
}

// -- Component Interfaces --

// SessionProvider is the session manager seam the executor and planner
// depend on.
type SessionProvider interface {
	StartSession(ctx context.Context, sessionID string, cfg SessionConfig) (*SessionSnapshot, error)
	Page(sessionID string) (PageHandle, error)
	EndSession(ctx context.Context, sessionID string) (bool, error)
}

// ObserveOptions tunes a single observation.
type ObserveOptions struct {
	Mode              ObserveMode
	IncludeScreenshot bool
}

// Perceiver turns a live page into observations and extractions.
type Perceiver interface {
	Observe(ctx context.Context, page PageHandle, opts ObserveOptions) (*Observation, error)
	ExtractStructured(ctx context.Context, page PageHandle) (*StructuredExtraction, error)
}

// ResolvedTarget is the outcome of vision fallback: a CSS selector when the
// snapshot still holds one, otherwise a raw bounding box. Both empty means
// no match was found and the caller must fail the action rather than guess.
type ResolvedTarget struct {
	CSS  string
	BBox *BBox
}

// IsZero reports whether resolution found nothing.
func (r ResolvedTarget) IsZero() bool { return r.CSS == "" && r.BBox == nil }

// TargetResolver resolves an action target against the last perception
// snapshot when DOM-based resolution has failed.
type TargetResolver interface {
	Resolve(ctx context.Context, page PageHandle, target *Target, last *Observation) (ResolvedTarget, error)
}

// SearchOptions bounds a single search call.
type SearchOptions struct {
	Limit   int
	Timeout time.Duration
}

// Searcher fans a query out to the configured providers and returns a
// deduplicated, reranked result list.
type Searcher interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// Decision is a stopping-step verdict for the navigation loop.
type Decision struct {
	Stop   bool
	Reason StopReason
	Note   string
}

// DecisionProvider is the optional external judgment (typically LLM-backed)
// consulted by the planner. When absent or failing, the deterministic
// coverage heuristic decides.
type DecisionProvider interface {
	Decide(ctx context.Context, frame TaskFrame, extraction *StructuredExtraction) (Decision, error)
}

// -- Telemetry --

// TelemetryEvent is one append-only observability record keyed by session.
type TelemetryEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// EventRecorder accepts telemetry events. Implementations must be safe for
// concurrent use and must never block the caller.
type EventRecorder interface {
	Record(sessionID, kind string, payload any)
}
