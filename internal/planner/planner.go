// File: internal/planner/planner.go

// Package planner drives one conversational turn of autonomous browsing:
// it maintains task continuity across turns, queues candidate URLs by
// provenance, visits them through the executor, and decides when the
// gathered content is sufficient.
package planner

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/textutil"
)

// pathBoosts reward URL paths that conventionally hold objective-dense
// content. Values are additive with token overlap.
var pathBoosts = map[string]float64{
	"pricing": 0.35, "contact": 0.3, "docs": 0.3, "documentation": 0.3,
	"about": 0.25, "faq": 0.25, "blog": 0.2, "support": 0.2, "features": 0.2,
}

// structuralEndpoints are machine-oriented indexes: useful for harvesting
// links, rarely the answer themselves.
var structuralEndpoints = []string{"sitemap.xml", "llms.txt"}

const structuralPenalty = 0.5

// strongMatchBar is the candidate score above which site discovery skips
// the structural-endpoint probe.
const strongMatchBar = 0.2

// ActionRunner is the executor seam the planner drives. Satisfied by
// *executor.Executor.
type ActionRunner interface {
	Execute(ctx context.Context, sessionID string, action schemas.Action, confirmationToken string) (*schemas.ActionExecutionResult, error)
}

// Planner implements the turn loop.
type Planner struct {
	exec     ActionRunner
	frames   *FrameArena
	decision schemas.DecisionProvider
	recorder schemas.EventRecorder
	cfg      config.PlannerConfig
	logger   *zap.Logger
}

// New creates a planner. The decision provider is optional; without one,
// the deterministic coverage heuristic makes every stop decision.
func New(exec ActionRunner, frames *FrameArena, decision schemas.DecisionProvider, recorder schemas.EventRecorder, cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	return &Planner{
		exec:     exec,
		frames:   frames,
		decision: decision,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger.Named("planner"),
	}
}

// turnState is the evolving state of one RunTurn call.
type turnState struct {
	frame           schemas.TaskFrame
	tokens          []string
	found           map[string]struct{}
	queue           []schemas.Candidate
	visited         map[string]struct{}
	result          *schemas.TurnResult
	probed          bool // structural endpoint probed this turn
	lastProgress    bool // previous visit gained tokens or candidates
	skippedRepeat   bool // a candidate was dropped as already visited
	screenshotTaken bool // the turn's first observation has been captured
}

// RunTurn visits candidate URLs for one turn and returns everything
// gathered, including partial progress when later visits fail.
func (p *Planner) RunTurn(ctx context.Context, sessionID string, incoming schemas.TaskFrame) (*schemas.TurnResult, error) {
	frame := p.frames.Update(sessionID, incoming)

	st := &turnState{
		frame:        frame,
		tokens:       objectiveTokens(frame),
		found:        make(map[string]struct{}),
		visited:      make(map[string]struct{}),
		result:       &schemas.TurnResult{Stop: schemas.StopMaxActions},
		lastProgress: true,
	}

	if err := p.seed(ctx, sessionID, st); err != nil {
		return nil, err
	}
	if len(st.queue) == 0 {
		st.result.Stop = schemas.StopToolError
		st.result.Notes = append(st.result.Notes, "no candidate urls could be derived for the objective")
		return st.result, nil
	}

	maxActions := p.cfg.MaxActions
	if maxActions <= 0 {
		maxActions = 6
	}

	for visits := 0; visits < maxActions; {
		candidate, ok := p.next(st)
		if !ok {
			if st.skippedRepeat {
				st.result.Stop = schemas.StopRepeatGuard
			} else {
				st.result.Stop = schemas.StopStagnation
				st.result.Notes = append(st.result.Notes, "candidate queue exhausted before coverage was reached")
			}
			break
		}

		canonical, err := schemas.CanonicalURL(candidate.URL)
		if err != nil {
			continue
		}
		if _, seen := st.visited[canonical]; seen {
			st.skippedRepeat = true
			continue
		}
		st.visited[canonical] = struct{}{}
		visits++

		extraction, visitErr := p.visit(ctx, sessionID, canonical, st)
		if visitErr != nil {
			st.result.Notes = append(st.result.Notes,
				fmt.Sprintf("visit to %s failed: %v", canonical, visitErr))
			continue
		}

		st.result.Visited = append(st.result.Visited, canonical)
		st.result.Extractions = append(st.result.Extractions, *extraction)

		gained := absorb(st, extraction, canonical)
		queueBefore := len(st.queue)
		p.discover(ctx, st, candidate, extraction)

		stop, reason := p.decide(ctx, st, extraction)
		if stop {
			st.result.Stop = reason
			break
		}

		// Progress means new objective tokens or new candidates. Two
		// consecutive visits without either is stagnation, unless the
		// budget is about to end the turn anyway.
		progress := gained > 0 || len(st.queue) > queueBefore
		if !progress && !st.lastProgress && visits < maxActions {
			st.result.Stop = schemas.StopStagnation
			break
		}
		st.lastProgress = progress
	}

	p.record(sessionID, st)
	return st.result, nil
}

// seed builds the initial candidate queue: explicit URLs from the frame,
// then domain-hint roots, then search-derived links when neither exists.
func (p *Planner) seed(ctx context.Context, sessionID string, st *turnState) error {
	for _, entity := range append(append([]string{}, st.frame.Entities...), st.frame.UserObjective) {
		for _, raw := range extractURLs(entity) {
			p.enqueue(st, schemas.Candidate{URL: raw, Source: schemas.SourceExplicit})
		}
	}

	for _, hint := range st.frame.DomainHints {
		if root := hintToRoot(hint); root != "" {
			p.enqueue(st, schemas.Candidate{URL: root, Source: schemas.SourceSiteDiscovery, Label: hint})
		}
	}

	if len(st.queue) > 0 || st.frame.UserObjective == "" {
		return nil
	}

	// Nothing to go on; fall back to web search.
	res, err := p.exec.Execute(ctx, sessionID, schemas.Action{
		Type:  schemas.ActionSearch,
		Value: st.frame.UserObjective,
	}, "")
	if err != nil {
		return err
	}
	if !res.Success {
		st.result.Notes = append(st.result.Notes, "search failed: "+res.Error)
		return nil
	}
	st.result.SearchResults = res.SearchResults
	for _, hit := range res.SearchResults {
		p.enqueue(st, schemas.Candidate{URL: hit.URL, Source: schemas.SourceSearch, Label: hit.Title})
	}
	return nil
}

func (p *Planner) enqueue(st *turnState, c schemas.Candidate) {
	maxCandidates := p.cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 12
	}
	if len(st.queue) >= maxCandidates {
		return
	}
	canonical, err := schemas.CanonicalURL(c.URL)
	if err != nil {
		return
	}
	if _, seen := st.visited[canonical]; seen {
		return
	}
	for _, existing := range st.queue {
		if ec, err := schemas.CanonicalURL(existing.URL); err == nil && ec == canonical {
			return
		}
	}
	st.queue = append(st.queue, c)
}

// next pops the best remaining candidate: source priority first, then the
// missing-token score. Returns false when the queue is exhausted.
func (p *Planner) next(st *turnState) (schemas.Candidate, bool) {
	if len(st.queue) == 0 {
		return schemas.Candidate{}, false
	}

	missing := missingTokens(st)
	sort.SliceStable(st.queue, func(i, j int) bool {
		if st.queue[i].Source != st.queue[j].Source {
			return st.queue[i].Source < st.queue[j].Source
		}
		return p.score(st, missing, st.queue[i]) > p.score(st, missing, st.queue[j])
	})

	candidate := st.queue[0]
	st.queue = st.queue[1:]
	return candidate, true
}

// score rates a candidate against the tokens still missing, with path
// pattern boosts and the structural-endpoint penalty.
func (p *Planner) score(st *turnState, missing []string, c schemas.Candidate) float64 {
	haystack := c.URL + " " + c.Label
	score := textutil.Overlap(missing, haystack)

	lowered := strings.ToLower(c.URL)
	for pattern, boost := range pathBoosts {
		if strings.Contains(lowered, pattern) {
			score += boost
		}
	}
	if isStructural(c.URL) && !objectiveWantsStructural(st.frame) {
		score -= structuralPenalty
	}
	return score
}

// visit navigates to the URL and extracts its structured content. The
// turn's first successful navigation requests a screenshot with its
// observation; later ones stay DOM-only.
func (p *Planner) visit(ctx context.Context, sessionID, target string, st *turnState) (*schemas.StructuredExtraction, error) {
	action := schemas.Action{Type: schemas.ActionNavigate, URL: target}
	if !st.screenshotTaken {
		action.Options = []byte(`{"screenshot":true}`)
	}
	nav, err := p.exec.Execute(ctx, sessionID, action, "")
	if err != nil {
		return nil, err
	}
	if nav.NeedsConfirmation {
		return nil, executor.ErrConfirmationRequired
	}
	if !nav.Success {
		return nil, fmt.Errorf("navigation failed: %s", nav.Error)
	}
	st.screenshotTaken = true

	ext, err := p.exec.Execute(ctx, sessionID, schemas.Action{Type: schemas.ActionExtract}, "")
	if err != nil {
		return nil, err
	}
	if !ext.Success {
		return nil, fmt.Errorf("extraction failed: %s", ext.Error)
	}
	if ext.Extraction == nil {
		return nil, fmt.Errorf("extraction produced no content")
	}
	return ext.Extraction, nil
}

// absorb folds a page's tokens into the cumulative found set and reports
// how many new objective tokens it contributed.
func absorb(st *turnState, extraction *schemas.StructuredExtraction, pageURL string) int {
	haystack := strings.ToLower(
		extraction.MainText + " " + strings.Join(extraction.Headings, " ") + " " + pageURL)

	gained := 0
	for _, tok := range st.tokens {
		if _, ok := st.found[tok]; ok {
			continue
		}
		if strings.Contains(haystack, tok) {
			st.found[tok] = struct{}{}
			gained++
		}
	}
	return gained
}

// discover harvests follow-up candidates from a visited page: same-site
// links, and at most one structural endpoint per turn when nothing in the
// queue looks like a strong match yet.
func (p *Planner) discover(ctx context.Context, st *turnState, visited schemas.Candidate, extraction *schemas.StructuredExtraction) {
	if visited.Source == schemas.SourceSearch {
		return
	}

	site := registeredSite(extraction.URL)
	if site == "" {
		return
	}

	for _, link := range extraction.Links {
		if registeredSite(link.URL) != site {
			continue
		}
		p.enqueue(st, schemas.Candidate{URL: link.URL, Source: schemas.SourceSiteDiscovery, Label: link.Text})
	}

	if st.probed || p.hasStrongCandidate(st) {
		return
	}
	if root := siteRoot(extraction.URL); root != "" {
		endpoint := chooseStructuralEndpoint(st.frame)
		p.enqueue(st, schemas.Candidate{URL: root + "/" + endpoint, Source: schemas.SourceSiteDiscovery, Label: endpoint})
		st.probed = true
	}
}

func (p *Planner) hasStrongCandidate(st *turnState) bool {
	missing := missingTokens(st)
	for _, c := range st.queue {
		if textutil.Overlap(missing, c.URL+" "+c.Label) >= strongMatchBar {
			return true
		}
	}
	return false
}

// decide asks the external decision provider when one is wired, falling
// back to the deterministic coverage heuristic on absence or failure.
func (p *Planner) decide(ctx context.Context, st *turnState, extraction *schemas.StructuredExtraction) (bool, schemas.StopReason) {
	if p.decision != nil {
		decision, err := p.decision.Decide(ctx, st.frame, extraction)
		if err == nil {
			if decision.Stop {
				reason := decision.Reason
				if reason == "" {
					reason = schemas.StopFinalizedByModel
				}
				return true, reason
			}
			return false, ""
		}
		p.logger.Warn("Decision provider failed, using coverage heuristic", zap.Error(err))
	}

	minText := p.cfg.MinPageText
	if minText <= 0 {
		minText = 220
	}
	threshold := p.cfg.CoverageThreshold
	if threshold <= 0 {
		threshold = 0.62
	}

	if len(extraction.MainText) < minText {
		return false, ""
	}
	if Coverage(st.tokens, st.found) < threshold {
		return false, ""
	}
	return true, schemas.StopEnoughInfo
}

// Coverage is the fraction of objective tokens found so far. Monotone
// non-decreasing over a turn because found only grows.
func Coverage(tokens []string, found map[string]struct{}) float64 {
	if len(tokens) == 0 {
		return 1
	}
	return float64(len(found)) / float64(len(tokens))
}

func (p *Planner) record(sessionID string, st *turnState) {
	p.logger.Info("Turn complete",
		zap.String("session_id", sessionID),
		zap.String("stop", string(st.result.Stop)),
		zap.Int("visited", len(st.result.Visited)),
		zap.Float64("coverage", Coverage(st.tokens, st.found)))
	if p.recorder != nil {
		p.recorder.Record(sessionID, "turn", map[string]any{
			"stop":     st.result.Stop,
			"visited":  st.result.Visited,
			"coverage": Coverage(st.tokens, st.found),
		})
	}
}

// -- helpers --

func objectiveTokens(frame schemas.TaskFrame) []string {
	return textutil.SignificantTokens(frame.UserObjective + " " + strings.Join(frame.Entities, " "))
}

func missingTokens(st *turnState) []string {
	var missing []string
	for _, tok := range st.tokens {
		if _, ok := st.found[tok]; !ok {
			missing = append(missing, tok)
		}
	}
	return missing
}

// extractURLs pulls absolute http(s) URLs out of free text.
func extractURLs(text string) []string {
	var out []string
	for _, field := range strings.Fields(text) {
		field = strings.Trim(field, ".,;()<>\"'")
		lowered := strings.ToLower(field)
		if strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://") {
			if _, err := url.Parse(field); err == nil {
				out = append(out, field)
			}
		}
	}
	return out
}

// hintToRoot turns a bare domain hint into a probeable root URL.
func hintToRoot(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	if strings.HasPrefix(hint, "http://") || strings.HasPrefix(hint, "https://") {
		return siteRoot(hint)
	}
	if strings.ContainsAny(hint, " /") {
		return ""
	}
	return "https://" + hint
}

func siteRoot(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func registeredSite(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return ""
	}
	return site
}

func isStructural(rawURL string) bool {
	lowered := strings.ToLower(rawURL)
	for _, endpoint := range structuralEndpoints {
		if strings.HasSuffix(lowered, endpoint) {
			return true
		}
	}
	return false
}

func objectiveWantsStructural(frame schemas.TaskFrame) bool {
	lowered := strings.ToLower(frame.UserObjective)
	return strings.Contains(lowered, "sitemap") || strings.Contains(lowered, "llms.txt")
}

func chooseStructuralEndpoint(frame schemas.TaskFrame) string {
	if strings.Contains(strings.ToLower(frame.UserObjective), "llms") {
		return "llms.txt"
	}
	return "sitemap.xml"
}
