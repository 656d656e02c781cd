// File: internal/executor/executor.go

// Package executor performs individual browser actions: policy gating
// first, then target resolution through a chain of strategies, then the
// page interaction itself with best-effort settling.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/policy"
	"github.com/webpilot-ai/webpilot/internal/worldmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrConfirmationRequired signals that a high-risk action was blocked
// pending a confirmation token. Internal flows use it to short-circuit;
// the tool boundary converts it into a structured result.
var ErrConfirmationRequired = errors.New("action requires confirmation")

// ErrTargetNotFound is returned when every resolution strategy failed to
// locate the action's target on the current page.
var ErrTargetNotFound = errors.New("action target not found")

const (
	minNavTimeout = 5 * time.Second
	maxNavTimeout = 120 * time.Second
	maxWaitPause  = 10 * time.Second
	settleStep    = 5 * time.Second
)

// actionOptions is the free-form options payload understood by the
// executor. Unknown fields are ignored.
type actionOptions struct {
	TimeoutMs  int     `json:"timeoutMs"`
	WaitMs     int     `json:"waitMs"`
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	Limit      int     `json:"limit"`
	Screenshot bool    `json:"screenshot"`
}

// Executor carries the collaborators one action execution touches.
type Executor struct {
	sessions  schemas.SessionProvider
	perceiver schemas.Perceiver
	resolver  schemas.TargetResolver
	searcher  schemas.Searcher
	policy    *policy.Engine
	world     *worldmodel.Arena
	recorder  schemas.EventRecorder
	cfg       config.BrowserConfig
	logger    *zap.Logger
}

func New(
	sessions schemas.SessionProvider,
	perceiver schemas.Perceiver,
	resolver schemas.TargetResolver,
	searcher schemas.Searcher,
	policyEngine *policy.Engine,
	world *worldmodel.Arena,
	recorder schemas.EventRecorder,
	cfg config.BrowserConfig,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		sessions:  sessions,
		perceiver: perceiver,
		resolver:  resolver,
		searcher:  searcher,
		policy:    policyEngine,
		world:     world,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger.Named("executor"),
	}
}

// Execute runs one action against a session. Policy verdicts and action
// failures come back as structured results; an error return means the
// session itself was unusable.
func (e *Executor) Execute(ctx context.Context, sessionID string, action schemas.Action, confirmationToken string) (*schemas.ActionExecutionResult, error) {
	page, err := e.sessions.Page(sessionID)
	if err != nil {
		return nil, err
	}

	result := &schemas.ActionExecutionResult{Action: action}

	verdict := e.policy.AssertAllowed(action, sessionID, e.sessionSite(ctx, page), confirmationToken)
	result.Risk = verdict.Risk
	if verdict.NeedsConfirmation {
		result.Success = true
		result.NeedsConfirmation = true
		result.ConfirmationRequired = e.policy.ConfirmationDetail(action, sessionID, verdict.ActionDigest)
		e.finish(sessionID, result)
		return result, nil
	}

	opts := parseOptions(action.Options)

	switch action.Type {
	case schemas.ActionNavigate:
		err = e.navigate(ctx, page, action, opts, result)
	case schemas.ActionClick:
		err = e.click(ctx, page, sessionID, action, result)
	case schemas.ActionFill:
		err = e.fill(ctx, page, sessionID, action, result)
	case schemas.ActionSubmit:
		err = e.submit(ctx, page, sessionID, action, result)
	case schemas.ActionScroll:
		err = e.scroll(ctx, page, opts, result)
	case schemas.ActionWait:
		err = e.wait(ctx, page, opts)
	case schemas.ActionExtract:
		err = e.extract(ctx, page, result)
	case schemas.ActionSearch:
		err = e.search(ctx, action, opts, result)
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}

	if err != nil {
		result.Success = false
		result.Error = err.Error()
		e.finish(sessionID, result)
		return result, nil
	}

	result.Success = true
	if observes(action.Type) {
		obsOpts := schemas.ObserveOptions{Mode: schemas.ObserveDOM, IncludeScreenshot: opts.Screenshot}
		if obs, obsErr := e.perceiver.Observe(ctx, page, obsOpts); obsErr == nil {
			result.Observation = obs
			e.world.For(sessionID).AppendObservation(obs)
		} else {
			e.logger.Warn("Post-action observation failed",
				zap.String("session_id", sessionID), zap.Error(obsErr))
		}
	}
	e.finish(sessionID, result)
	return result, nil
}

// observes reports whether an action type changes page state and therefore
// warrants a fresh snapshot in its result.
func observes(t schemas.ActionType) bool {
	switch t {
	case schemas.ActionNavigate, schemas.ActionClick, schemas.ActionFill, schemas.ActionSubmit, schemas.ActionScroll:
		return true
	}
	return false
}

func (e *Executor) finish(sessionID string, result *schemas.ActionExecutionResult) {
	e.world.For(sessionID).AppendAction(result)
	if e.recorder != nil {
		e.recorder.Record(sessionID, "action", result)
	}
}

// sessionSite returns the registered domain of the page's current location,
// used for off-site navigation escalation. Blank pages yield empty, which
// disables the escalation.
func (e *Executor) sessionSite(ctx context.Context, page schemas.PageHandle) string {
	current, _, err := page.Location(ctx)
	if err != nil {
		return ""
	}
	u, err := url.Parse(current)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return ""
	}
	return site
}

func (e *Executor) navigate(ctx context.Context, page schemas.PageHandle, action schemas.Action, opts actionOptions, result *schemas.ActionExecutionResult) error {
	u, err := url.Parse(action.URL)
	if err != nil {
		return fmt.Errorf("invalid navigation url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("navigation requires an absolute http(s) url, got %q", action.URL)
	}

	timeout := e.cfg.NavigationTimeout
	if opts.TimeoutMs > 0 {
		timeout = time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	if timeout < minNavTimeout {
		timeout = minNavTimeout
	}
	if timeout > maxNavTimeout {
		timeout = maxNavTimeout
	}

	if err := page.Navigate(ctx, action.URL, timeout); err != nil {
		return err
	}
	result.Resolution = schemas.ResolutionDOM
	e.settle(ctx, page)
	return nil
}

// click resolves the target through the strategy chain and performs the
// first interaction that lands.
func (e *Executor) click(ctx context.Context, page schemas.PageHandle, sessionID string, action schemas.Action, result *schemas.ActionExecutionResult) error {
	if action.Target.IsZero() {
		return fmt.Errorf("click requires a target")
	}

	path, err := e.interact(ctx, page, sessionID, action.Target, func(css string) error {
		return page.Click(ctx, css)
	}, func(x, y float64) error {
		return page.ClickAt(ctx, x, y)
	})
	if err != nil {
		return err
	}
	result.Resolution = path
	e.settle(ctx, page)
	return nil
}

func (e *Executor) fill(ctx context.Context, page schemas.PageHandle, sessionID string, action schemas.Action, result *schemas.ActionExecutionResult) error {
	if action.Target.IsZero() {
		return fmt.Errorf("fill requires a target")
	}

	path, err := e.interact(ctx, page, sessionID, action.Target, func(css string) error {
		return page.Fill(ctx, css, action.Value)
	}, func(x, y float64) error {
		// No selector survives for this element, so focus by coordinate and
		// set the value on whatever took focus.
		if err := page.ClickAt(ctx, x, y); err != nil {
			return err
		}
		return e.fillActiveElement(ctx, page, action.Value)
	})
	if err != nil {
		return err
	}
	result.Resolution = path
	return nil
}

func (e *Executor) fillActiveElement(ctx context.Context, page schemas.PageHandle, value string) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`(() => {
  const el = document.activeElement;
  if (!el || !('value' in el)) return false;
  el.value = %s;
  el.dispatchEvent(new Event('input', { bubbles: true }));
  el.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
})()`, string(encoded))

	var ok bool
	if err := page.Eval(ctx, js, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("focused element does not accept text input")
	}
	return nil
}

// submit clicks the target when one is given; without a target it presses
// Enter in the focused field, the common pattern for search boxes.
func (e *Executor) submit(ctx context.Context, page schemas.PageHandle, sessionID string, action schemas.Action, result *schemas.ActionExecutionResult) error {
	if action.Target.IsZero() {
		if err := page.PressEnter(ctx); err != nil {
			return err
		}
		result.Resolution = schemas.ResolutionKeyboardEnter
		e.settle(ctx, page)
		return nil
	}
	return e.click(ctx, page, sessionID, action, result)
}

func (e *Executor) scroll(ctx context.Context, page schemas.PageHandle, opts actionOptions, result *schemas.ActionExecutionResult) error {
	dx, dy := opts.DX, opts.DY
	if dx == 0 && dy == 0 {
		dy = 600
	}
	if err := page.Scroll(ctx, dx, dy); err != nil {
		return err
	}
	result.Resolution = schemas.ResolutionDOM
	return nil
}

func (e *Executor) wait(ctx context.Context, page schemas.PageHandle, opts actionOptions) error {
	pause := time.Duration(opts.WaitMs) * time.Millisecond
	if pause <= 0 {
		e.settle(ctx, page)
		return nil
	}
	if pause > maxWaitPause {
		pause = maxWaitPause
	}
	select {
	case <-time.After(pause):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extract returns both the perception snapshot and the reader-view of the
// current page.
func (e *Executor) extract(ctx context.Context, page schemas.PageHandle, result *schemas.ActionExecutionResult) error {
	obs, err := e.perceiver.Observe(ctx, page, schemas.ObserveOptions{Mode: schemas.ObserveDOM})
	if err != nil {
		return err
	}
	extraction, err := e.perceiver.ExtractStructured(ctx, page)
	if err != nil {
		return err
	}
	result.Observation = obs
	result.Extraction = extraction
	e.world.For(page.SessionID()).AppendObservation(obs)
	return nil
}

func (e *Executor) search(ctx context.Context, action schemas.Action, opts actionOptions, result *schemas.ActionExecutionResult) error {
	if e.searcher == nil {
		return fmt.Errorf("search service is not configured")
	}
	results, err := e.searcher.Search(ctx, action.Value, schemas.SearchOptions{Limit: opts.Limit})
	if err != nil {
		return err
	}
	result.SearchResults = results
	return nil
}

// interact runs the resolution chain: declared CSS, then the perception
// snapshot (which itself tries exact text, substring, and role scoring),
// then a raw bounding box. First success wins.
func (e *Executor) interact(
	ctx context.Context,
	page schemas.PageHandle,
	sessionID string,
	target *schemas.Target,
	byCSS func(css string) error,
	byPoint func(x, y float64) error,
) (schemas.ResolutionPath, error) {
	var errs []error

	if target.CSS != "" {
		if err := byCSS(target.CSS); err == nil {
			return schemas.ResolutionDOM, nil
		} else {
			errs = append(errs, fmt.Errorf("css %q: %w", target.CSS, err))
		}
	}

	if e.resolver != nil && (target.Text != "" || target.Role != "") {
		resolved, err := e.resolver.Resolve(ctx, page, target, e.world.For(sessionID).LastObservation())
		if err != nil {
			errs = append(errs, err)
		} else if resolved.CSS != "" {
			if err := byCSS(resolved.CSS); err == nil {
				return schemas.ResolutionVisionCSS, nil
			} else {
				errs = append(errs, fmt.Errorf("resolved css %q: %w", resolved.CSS, err))
			}
		} else if resolved.BBox != nil {
			x, y := resolved.BBox.Center()
			if err := byPoint(x, y); err == nil {
				return schemas.ResolutionVisionBBox, nil
			} else {
				errs = append(errs, fmt.Errorf("resolved point: %w", err))
			}
		}
	}

	if target.BBox != nil {
		x, y := target.BBox.Center()
		if err := byPoint(x, y); err == nil {
			return schemas.ResolutionVisionBBox, nil
		} else {
			errs = append(errs, fmt.Errorf("declared point: %w", err))
		}
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("%w (text=%q role=%q)", ErrTargetNotFound, target.Text, target.Role)
	}
	return "", fmt.Errorf("%w: %w", ErrTargetNotFound, errors.Join(errs...))
}

// settle gives the page a chance to reach a stable state after a mutating
// action: the load event, document readiness, the configured pause, then
// network idle. Each step is best-effort and independent; a slow page costs
// at most one step's bound.
func (e *Executor) settle(ctx context.Context, page schemas.PageHandle) {
	_ = page.WaitLoad(ctx, settleStep)
	e.awaitDocumentReady(ctx, page)

	if pause := e.settlePause(); pause > 0 {
		select {
		case <-time.After(pause):
		case <-ctx.Done():
		}
	}

	_ = page.WaitNetworkIdle(ctx, settleStep)
}

// awaitDocumentReady polls until readyState leaves "loading", bounded by
// the step timeout. Errors end the wait; the page may not answer at all.
func (e *Executor) awaitDocumentReady(ctx context.Context, page schemas.PageHandle) {
	deadline := time.Now().Add(settleStep)
	for {
		state, err := page.ReadyState(ctx)
		if err != nil || state != "loading" {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}
}

// settlePause clamps the configured settle time to the step bound.
func (e *Executor) settlePause() time.Duration {
	pause := e.cfg.SettleTime
	switch {
	case pause <= 0:
		return 0
	case pause > settleStep:
		return settleStep
	default:
		return pause
	}
}

func parseOptions(raw []byte) actionOptions {
	var opts actionOptions
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &opts)
	}
	return opts
}
