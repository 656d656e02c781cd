// File: internal/tools/registry_test.go
package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/engine"
	"github.com/webpilot-ai/webpilot/internal/policy"
)

const testApprovalSecret = "tools-test-secret"

type fakeSessions struct {
	startCfg  schemas.SessionConfig
	startID   string
	pageErr   error
	endCalled string
	closed    bool
}

func (f *fakeSessions) StartSession(_ context.Context, sessionID string, cfg schemas.SessionConfig) (*schemas.SessionSnapshot, error) {
	f.startID = sessionID
	f.startCfg = cfg
	return &schemas.SessionSnapshot{ID: sessionID, ProfileID: cfg.ProfileID}, nil
}

func (f *fakeSessions) Page(string) (schemas.PageHandle, error) {
	return nil, f.pageErr
}

func (f *fakeSessions) EndSession(_ context.Context, sessionID string) (bool, error) {
	f.endCalled = sessionID
	return f.closed, nil
}

type fakePerceiver struct {
	opts       schemas.ObserveOptions
	obs        *schemas.Observation
	extraction *schemas.StructuredExtraction
}

func (f *fakePerceiver) Observe(_ context.Context, _ schemas.PageHandle, opts schemas.ObserveOptions) (*schemas.Observation, error) {
	f.opts = opts
	return f.obs, nil
}

func (f *fakePerceiver) ExtractStructured(context.Context, schemas.PageHandle) (*schemas.StructuredExtraction, error) {
	return f.extraction, nil
}

type fakeRunner struct {
	sessionID string
	action    schemas.Action
	token     string
	result    *schemas.ActionExecutionResult
	err       error
}

func (f *fakeRunner) Execute(_ context.Context, sessionID string, action schemas.Action, token string) (*schemas.ActionExecutionResult, error) {
	f.sessionID = sessionID
	f.action = action
	f.token = token
	return f.result, f.err
}

type fakeSearcher struct {
	query   string
	opts    schemas.SearchOptions
	results []schemas.SearchResult
}

func (f *fakeSearcher) Search(_ context.Context, query string, opts schemas.SearchOptions) ([]schemas.SearchResult, error) {
	f.query = query
	f.opts = opts
	return f.results, nil
}

type fixture struct {
	registry  *Registry
	sessions  *fakeSessions
	perceiver *fakePerceiver
	runner    *fakeRunner
	searcher  *fakeSearcher
}

func newFixture() *fixture {
	sessions := &fakeSessions{}
	perceiver := &fakePerceiver{obs: &schemas.Observation{Title: "Example"}}
	runner := &fakeRunner{result: &schemas.ActionExecutionResult{Success: true}}
	searcher := &fakeSearcher{}
	eng := engine.New(sessions, config.EngineConfig{}, zap.NewNop())
	approver := policy.NewApprover(config.PolicyConfig{SigningSecret: testApprovalSecret})
	return &fixture{
		registry:  NewRegistry(eng, sessions, perceiver, runner, searcher, approver, zap.NewNop()),
		sessions:  sessions,
		perceiver: perceiver,
		runner:    runner,
		searcher:  searcher,
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	f := newFixture()
	_, err := f.registry.Invoke(context.Background(), "web_teleport", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestInvokeMalformedParams(t *testing.T) {
	f := newFixture()
	_, err := f.registry.Invoke(context.Background(), ToolSearch, []byte("{not json"))
	require.Error(t, err)
}

func TestSessionStartMapsParams(t *testing.T) {
	f := newFixture()
	params := []byte(`{
		"sessionId": "conv-7",
		"profileId": "research",
		"headless": false,
		"backend": "browserwire",
		"fallbackOnError": true,
		"viewport": {"width": 1440, "height": 900},
		"locale": "de-DE",
		"timezone": "Europe/Berlin",
		"startUrl": "https://example.com/pricing"
	}`)

	out, err := f.registry.Invoke(context.Background(), ToolSessionStart, params)
	require.NoError(t, err)

	result, ok := out.(*SessionStartResult)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, "conv-7", result.Session.ID)

	assert.Equal(t, "conv-7", f.sessions.startID)
	assert.Equal(t, "research", f.sessions.startCfg.ProfileID)
	require.NotNil(t, f.sessions.startCfg.Headless)
	assert.False(t, *f.sessions.startCfg.Headless)
	assert.Equal(t, schemas.BackendBrowserWire, f.sessions.startCfg.BackendPreference)
	require.NotNil(t, f.sessions.startCfg.FallbackOnError)
	assert.True(t, *f.sessions.startCfg.FallbackOnError)
	require.NotNil(t, f.sessions.startCfg.Viewport)
	assert.Equal(t, 1440, f.sessions.startCfg.Viewport.Width)
	assert.Equal(t, "Europe/Berlin", f.sessions.startCfg.Timezone)
	assert.Equal(t, "https://example.com/pricing", f.sessions.startCfg.StartURL)
}

func TestDefaultSessionIDApplied(t *testing.T) {
	f := newFixture()
	_, err := f.registry.Invoke(context.Background(), ToolSessionStart, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, defaultSessionID, f.sessions.startID)
}

func TestObserveDefaultsToDOMMode(t *testing.T) {
	f := newFixture()
	out, err := f.registry.Invoke(context.Background(), ToolObserve, []byte(`{"sessionId":"conv-7"}`))
	require.NoError(t, err)

	result, ok := out.(*ObserveResult)
	require.True(t, ok)
	assert.Equal(t, "conv-7", result.SessionID)
	assert.Equal(t, "Example", result.Observation.Title)
	assert.Equal(t, schemas.ObserveDOM, f.perceiver.opts.Mode)
	assert.False(t, f.perceiver.opts.IncludeScreenshot)
}

func TestObserveVisionMode(t *testing.T) {
	f := newFixture()
	_, err := f.registry.Invoke(context.Background(), ToolObserve,
		[]byte(`{"mode":"dom+vision","includeScreenshot":true}`))
	require.NoError(t, err)
	assert.Equal(t, schemas.ObserveDOMVision, f.perceiver.opts.Mode)
	assert.True(t, f.perceiver.opts.IncludeScreenshot)
}

func TestObservePageLookupFailure(t *testing.T) {
	f := newFixture()
	f.sessions.pageErr = errors.New("no session")
	_, err := f.registry.Invoke(context.Background(), ToolObserve, nil)
	require.Error(t, err)
}

func TestActPassesThroughResult(t *testing.T) {
	f := newFixture()
	f.runner.result = &schemas.ActionExecutionResult{
		Success:    true,
		Resolution: schemas.ResolutionDOM,
	}
	params := []byte(`{
		"sessionId": "conv-7",
		"action": {"type": "click", "target": {"css": "#buy"}},
		"confirmationToken": "tok"
	}`)

	out, err := f.registry.Invoke(context.Background(), ToolAct, params)
	require.NoError(t, err)

	result, ok := out.(*schemas.ActionExecutionResult)
	require.True(t, ok)
	assert.True(t, result.Success)
	assert.Equal(t, schemas.ActionClick, f.runner.action.Type)
	assert.Equal(t, "tok", f.runner.token)
	assert.Equal(t, "conv-7", f.runner.sessionID)
}

func TestActBlockedReturnsConfirmationEnvelope(t *testing.T) {
	f := newFixture()
	f.runner.result = &schemas.ActionExecutionResult{
		Success:           true,
		NeedsConfirmation: true,
		ConfirmationRequired: &schemas.ConfirmationDetail{
			ActionDigest: "9f2c",
			SessionID:    "default",
			CommandHint:  "confirm submit with token 9f2c",
		},
	}

	out, err := f.registry.Invoke(context.Background(), ToolAct,
		[]byte(`{"action":{"type":"submit"}}`))
	require.NoError(t, err)

	result, ok := out.(*ConfirmationResult)
	require.True(t, ok)
	assert.True(t, result.NeedsConfirmation)
	require.NotNil(t, result.ConfirmationRequired)
	assert.Equal(t, "9f2c", result.ConfirmationRequired.ActionDigest)
}

func TestActRedeemsApprovalGrant(t *testing.T) {
	f := newFixture()
	grant, err := policy.NewApprover(config.PolicyConfig{SigningSecret: testApprovalSecret}).
		Issue("conv-7", "9f2c")
	require.NoError(t, err)

	params := []byte(`{
		"sessionId": "conv-7",
		"action": {"type": "submit"},
		"approvalGrant": "` + grant + `"
	}`)
	_, err = f.registry.Invoke(context.Background(), ToolAct, params)
	require.NoError(t, err)

	want := policy.SignToken([]byte(testApprovalSecret), "conv-7", "9f2c")
	assert.Equal(t, want, f.runner.token)
}

func TestActRejectsBadApprovalGrant(t *testing.T) {
	f := newFixture()
	params := []byte(`{"action":{"type":"submit"},"approvalGrant":"not-a-grant"}`)
	_, err := f.registry.Invoke(context.Background(), ToolAct, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval grant")
	assert.Empty(t, f.runner.token)
}

func TestActRequiresActionType(t *testing.T) {
	f := newFixture()
	_, err := f.registry.Invoke(context.Background(), ToolAct, []byte(`{"action":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action.type")
}

func TestExtractNavigatesWhenURLGiven(t *testing.T) {
	f := newFixture()
	f.perceiver.extraction = &schemas.StructuredExtraction{
		URL:      "https://example.com/pricing",
		MainText: "Plans start at ten dollars a month.",
	}

	out, err := f.registry.Invoke(context.Background(), ToolExtractStructured,
		[]byte(`{"url":"https://example.com/pricing"}`))
	require.NoError(t, err)

	extraction, ok := out.(*schemas.StructuredExtraction)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/pricing", extraction.URL)
	assert.Equal(t, schemas.ActionNavigate, f.runner.action.Type)
	assert.Equal(t, "https://example.com/pricing", f.runner.action.URL)
}

func TestExtractSkipsNavigationWithoutURL(t *testing.T) {
	f := newFixture()
	f.perceiver.extraction = &schemas.StructuredExtraction{MainText: "current page"}

	_, err := f.registry.Invoke(context.Background(), ToolExtractStructured, nil)
	require.NoError(t, err)
	assert.Empty(t, f.runner.action.Type, "no navigation should be issued")
}

func TestExtractBlockedNavigationReturnsConfirmationEnvelope(t *testing.T) {
	f := newFixture()
	f.perceiver.extraction = &schemas.StructuredExtraction{
		URL:      "https://example.com/old-page",
		MainText: "stale content that must not leak through",
	}
	f.runner.result = &schemas.ActionExecutionResult{
		Success:           true,
		NeedsConfirmation: true,
		ConfirmationRequired: &schemas.ConfirmationDetail{
			ActionDigest: "4ab1",
			SessionID:    "default",
			CommandHint:  "confirm navigate with token 4ab1",
		},
	}

	out, err := f.registry.Invoke(context.Background(), ToolExtractStructured,
		[]byte(`{"url":"https://bank.example.com/account/delete"}`))
	require.NoError(t, err)

	result, ok := out.(*ConfirmationResult)
	require.True(t, ok, "blocked navigation must not fall through to extraction")
	assert.True(t, result.NeedsConfirmation)
	require.NotNil(t, result.ConfirmationRequired)
	assert.Equal(t, "4ab1", result.ConfirmationRequired.ActionDigest)
}

func TestExtractNavigationFailureSurfaces(t *testing.T) {
	f := newFixture()
	f.runner.result = &schemas.ActionExecutionResult{Success: false, Error: "net::ERR_NAME_NOT_RESOLVED"}

	_, err := f.registry.Invoke(context.Background(), ToolExtractStructured,
		[]byte(`{"url":"https://bad.invalid/"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "net::ERR_NAME_NOT_RESOLVED")
}

func TestSearchMapsOptions(t *testing.T) {
	f := newFixture()
	f.searcher.results = []schemas.SearchResult{{URL: "https://example.com", Rank: 1}}

	out, err := f.registry.Invoke(context.Background(), ToolSearch,
		[]byte(`{"query":"widget pricing","limit":5,"timeoutMs":2500}`))
	require.NoError(t, err)

	result, ok := out.(*SearchToolResult)
	require.True(t, ok)
	assert.Equal(t, "widget pricing", result.Query)
	assert.Len(t, result.Results, 1)
	assert.Equal(t, 5, f.searcher.opts.Limit)
	assert.Equal(t, 2500*time.Millisecond, f.searcher.opts.Timeout)
}

func TestSessionEndReportsClosed(t *testing.T) {
	f := newFixture()
	f.sessions.closed = true

	out, err := f.registry.Invoke(context.Background(), ToolSessionEnd,
		[]byte(`{"sessionId":"conv-7"}`))
	require.NoError(t, err)

	result, ok := out.(*SessionEndResult)
	require.True(t, ok)
	assert.True(t, result.Closed)
	assert.Equal(t, "conv-7", f.sessions.endCalled)
}

func TestSessionEndUnknownSession(t *testing.T) {
	f := newFixture()
	out, err := f.registry.Invoke(context.Background(), ToolSessionEnd, nil)
	require.NoError(t, err)

	result, ok := out.(*SessionEndResult)
	require.True(t, ok)
	assert.False(t, result.Closed)
}

func TestNamesSorted(t *testing.T) {
	f := newFixture()
	names := f.registry.Names()
	assert.Equal(t, []string{
		ToolAct,
		ToolExtractStructured,
		ToolObserve,
		ToolSearch,
		ToolSessionEnd,
		ToolSessionStart,
	}, names)
}
