// File: internal/tools/registry.go

// Package tools exposes the web automation surface as named tool calls for
// an orchestration layer. Each call decodes loosely-typed JSON parameters,
// runs through the execution engine's pools, and returns a structured
// result.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/engine"
	"github.com/webpilot-ai/webpilot/internal/policy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultSessionID keys calls that do not name a session. One conversation
// maps to one session unless the caller says otherwise.
const defaultSessionID = "default"

const (
	ToolSessionStart      = "web_session_start"
	ToolObserve           = "web_observe"
	ToolAct               = "web_act"
	ToolExtractStructured = "web_extract_structured"
	ToolSearch            = "web_search"
	ToolSessionEnd        = "web_session_end"
)

// ActionRunner is the executor seam the registry depends on.
type ActionRunner interface {
	Execute(ctx context.Context, sessionID string, action schemas.Action, confirmationToken string) (*schemas.ActionExecutionResult, error)
}

type handler struct {
	browser bool
	run     func(ctx context.Context, sessionID string, params []byte) (any, error)
}

// Registry dispatches named tool calls to the underlying components.
type Registry struct {
	engine    *engine.Engine
	sessions  schemas.SessionProvider
	perceiver schemas.Perceiver
	runner    ActionRunner
	searcher  schemas.Searcher
	approver  *policy.Approver
	logger    *zap.Logger
	handlers  map[string]handler
}

func NewRegistry(
	eng *engine.Engine,
	sessions schemas.SessionProvider,
	perceiver schemas.Perceiver,
	runner ActionRunner,
	searcher schemas.Searcher,
	approver *policy.Approver,
	logger *zap.Logger,
) *Registry {
	r := &Registry{
		engine:    eng,
		sessions:  sessions,
		perceiver: perceiver,
		runner:    runner,
		searcher:  searcher,
		approver:  approver,
		logger:    logger.Named("tools"),
	}
	r.handlers = map[string]handler{
		ToolSessionStart:      {browser: true, run: r.sessionStart},
		ToolObserve:           {browser: true, run: r.observe},
		ToolAct:               {browser: true, run: r.act},
		ToolExtractStructured: {browser: true, run: r.extractStructured},
		ToolSearch:            {browser: false, run: r.search},
		ToolSessionEnd:        {browser: true, run: r.sessionEnd},
	}
	return r
}

// Names lists the registered tool names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs one tool call. Params may be nil for tools without
// parameters.
func (r *Registry) Invoke(ctx context.Context, name string, params []byte) (any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if len(params) == 0 {
		params = []byte("{}")
	}
	sessionID, err := peekSessionID(params)
	if err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", name, err)
	}

	r.logger.Debug("Dispatching tool call",
		zap.String("tool", name),
		zap.String("session_id", sessionID))

	return r.engine.Do(ctx, engine.Task{
		Tool:      name,
		SessionID: sessionID,
		Browser:   h.browser,
		Run: func(ctx context.Context) (any, error) {
			return h.run(ctx, sessionID, params)
		},
	})
}

func peekSessionID(params []byte) (string, error) {
	var envelope struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &envelope); err != nil {
		return "", err
	}
	sessionID := strings.TrimSpace(envelope.SessionID)
	if sessionID == "" {
		return defaultSessionID, nil
	}
	return sessionID, nil
}

// -- web_session_start --

type sessionStartParams struct {
	SessionID       string            `json:"sessionId,omitempty"`
	ProfileID       string            `json:"profileId,omitempty"`
	Headless        *bool             `json:"headless,omitempty"`
	Backend         string            `json:"backend,omitempty"`
	FallbackOnError *bool             `json:"fallbackOnError,omitempty"`
	Viewport        *schemas.Viewport `json:"viewport,omitempty"`
	Locale          string            `json:"locale,omitempty"`
	Timezone        string            `json:"timezone,omitempty"`
	StartURL        string            `json:"startUrl,omitempty"`
}

// SessionStartResult is the web_session_start payload.
type SessionStartResult struct {
	Success bool                     `json:"success"`
	Session *schemas.SessionSnapshot `json:"session"`
}

func (r *Registry) sessionStart(ctx context.Context, sessionID string, params []byte) (any, error) {
	var p sessionStartParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", ToolSessionStart, err)
	}
	snapshot, err := r.sessions.StartSession(ctx, sessionID, schemas.SessionConfig{
		ProfileID:         p.ProfileID,
		Headless:          p.Headless,
		BackendPreference: schemas.BackendKind(p.Backend),
		FallbackOnError:   p.FallbackOnError,
		Viewport:          p.Viewport,
		Locale:            p.Locale,
		Timezone:          p.Timezone,
		StartURL:          p.StartURL,
	})
	if err != nil {
		return nil, err
	}
	return &SessionStartResult{Success: true, Session: snapshot}, nil
}

// -- web_observe --

type observeParams struct {
	SessionID         string `json:"sessionId,omitempty"`
	Mode              string `json:"mode,omitempty"`
	IncludeScreenshot bool   `json:"includeScreenshot,omitempty"`
}

// ObserveResult is the web_observe payload.
type ObserveResult struct {
	SessionID   string               `json:"sessionId"`
	Observation *schemas.Observation `json:"observation"`
}

func (r *Registry) observe(ctx context.Context, sessionID string, params []byte) (any, error) {
	var p observeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", ToolObserve, err)
	}
	mode := schemas.ObserveMode(p.Mode)
	if mode == "" {
		mode = schemas.ObserveDOM
	}
	page, err := r.sessions.Page(sessionID)
	if err != nil {
		return nil, err
	}
	obs, err := r.perceiver.Observe(ctx, page, schemas.ObserveOptions{
		Mode:              mode,
		IncludeScreenshot: p.IncludeScreenshot,
	})
	if err != nil {
		return nil, err
	}
	return &ObserveResult{SessionID: sessionID, Observation: obs}, nil
}

// -- web_act --

type actParams struct {
	SessionID         string         `json:"sessionId,omitempty"`
	Action            schemas.Action `json:"action"`
	ConfirmationToken string         `json:"confirmationToken,omitempty"`
	ApprovalGrant     string         `json:"approvalGrant,omitempty"`
}

// ConfirmationResult replaces the execution result when policy blocks a
// high-risk action. The caller presents the detail and retries with the
// token.
type ConfirmationResult struct {
	NeedsConfirmation    bool                        `json:"needsConfirmation"`
	ConfirmationRequired *schemas.ConfirmationDetail `json:"confirmationRequired"`
}

func (r *Registry) act(ctx context.Context, sessionID string, params []byte) (any, error) {
	var p actParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", ToolAct, err)
	}
	if p.Action.Type == "" {
		return nil, errors.New("web_act requires action.type")
	}
	if p.ConfirmationToken == "" && p.ApprovalGrant != "" {
		if r.approver == nil {
			return nil, errors.New("approval grants are not configured")
		}
		token, err := r.approver.Redeem(p.ApprovalGrant)
		if err != nil {
			return nil, fmt.Errorf("redeeming approval grant: %w", err)
		}
		p.ConfirmationToken = token
	}
	result, err := r.runner.Execute(ctx, sessionID, p.Action, p.ConfirmationToken)
	if err != nil {
		return nil, err
	}
	if result.NeedsConfirmation {
		return &ConfirmationResult{
			NeedsConfirmation:    true,
			ConfirmationRequired: result.ConfirmationRequired,
		}, nil
	}
	return result, nil
}

// -- web_extract_structured --

type extractParams struct {
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url,omitempty"`
}

func (r *Registry) extractStructured(ctx context.Context, sessionID string, params []byte) (any, error) {
	var p extractParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", ToolExtractStructured, err)
	}
	if p.URL != "" {
		result, err := r.runner.Execute(ctx, sessionID, schemas.Action{
			Type: schemas.ActionNavigate,
			URL:  p.URL,
		}, "")
		if err != nil {
			return nil, err
		}
		if result.NeedsConfirmation {
			return &ConfirmationResult{
				NeedsConfirmation:    true,
				ConfirmationRequired: result.ConfirmationRequired,
			}, nil
		}
		if !result.Success {
			return nil, fmt.Errorf("navigating to %s: %s", p.URL, result.Error)
		}
	}
	page, err := r.sessions.Page(sessionID)
	if err != nil {
		return nil, err
	}
	return r.perceiver.ExtractStructured(ctx, page)
}

// -- web_search --

type searchParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// SearchToolResult is the web_search payload.
type SearchToolResult struct {
	Query   string                 `json:"query"`
	Results []schemas.SearchResult `json:"results"`
}

func (r *Registry) search(ctx context.Context, _ string, params []byte) (any, error) {
	var p searchParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("decoding %s params: %w", ToolSearch, err)
	}
	results, err := r.searcher.Search(ctx, p.Query, schemas.SearchOptions{
		Limit:   p.Limit,
		Timeout: millisDuration(p.TimeoutMs),
	})
	if err != nil {
		return nil, err
	}
	return &SearchToolResult{Query: p.Query, Results: results}, nil
}

// -- web_session_end --

// SessionEndResult reports whether a live session was actually closed.
type SessionEndResult struct {
	Closed bool `json:"closed"`
}

func (r *Registry) sessionEnd(ctx context.Context, sessionID string, _ []byte) (any, error) {
	closed, err := r.sessions.EndSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	r.engine.ForgetSession(sessionID)
	return &SessionEndResult{Closed: closed}, nil
}

func millisDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
