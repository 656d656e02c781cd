// File: internal/policy/engine.go
package policy

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// Verdict is the outcome of a policy check. NeedsConfirmation=true means the
// action must not run until a valid token is presented; it is a first-class
// result, not an error.
type Verdict struct {
	Risk              schemas.RiskLevel
	NeedsConfirmation bool
	ActionDigest      string
}

// defaultRiskTable is the static classification by action type. Navigate is
// escalated separately by URL heuristics.
var defaultRiskTable = map[schemas.ActionType]schemas.RiskLevel{
	schemas.ActionNavigate: schemas.RiskLow,
	schemas.ActionClick:    schemas.RiskMedium,
	schemas.ActionFill:     schemas.RiskMedium,
	schemas.ActionSubmit:   schemas.RiskHigh,
	schemas.ActionScroll:   schemas.RiskLow,
	schemas.ActionWait:     schemas.RiskLow,
	schemas.ActionExtract:  schemas.RiskLow,
	schemas.ActionSearch:   schemas.RiskLow,
}

// sensitivePathTokens flags navigation targets that look like payment or
// auth flows. Heuristic by design; false positives cost one confirmation
// round-trip, false negatives cost an unguarded irreversible action.
var sensitivePathTokens = []string{
	"checkout", "payment", "billing", "purchase", "subscribe",
	"signin", "sign-in", "login", "log-in", "password", "account/delete", "delete",
}

// Engine classifies action risk and gates high-risk actions behind a signed
// confirmation token. Tokens carry no TTL themselves; expiry is bound by the
// approval-issuance layer (see Approver).
type Engine struct {
	secret    []byte
	overrides map[schemas.ActionType]schemas.RiskLevel
	logger    *zap.Logger
}

// NewEngine creates a policy engine. Overrides replace entries of the
// default risk table, letting deployments harden (for example click→high)
// without code changes.
func NewEngine(cfg config.PolicyConfig, overrides map[schemas.ActionType]schemas.RiskLevel, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		secret:    []byte(cfg.SigningSecret),
		overrides: overrides,
		logger:    logger.Named("policy"),
	}
}

// Classify returns the risk level for an action, applying the navigate URL
// heuristics on top of the static table. sessionSite is the registered
// eTLD+1 of the session's start site; empty means no off-site escalation.
func (e *Engine) Classify(action schemas.Action, sessionSite string) schemas.RiskLevel {
	risk, ok := e.overrides[action.Type]
	if !ok {
		risk = defaultRiskTable[action.Type]
	}
	if risk == "" {
		risk = schemas.RiskLow
	}

	if action.Type == schemas.ActionNavigate {
		if escalated := navigateRisk(action.URL, sessionSite); riskRank(escalated) > riskRank(risk) {
			risk = escalated
		}
	}
	return risk
}

// AssertAllowed performs the policy check for one action. High-risk actions
// require a token whose HMAC matches the recomputed signature; everything
// else passes. The caller must not execute the action when
// NeedsConfirmation is true.
func (e *Engine) AssertAllowed(action schemas.Action, sessionID, sessionSite, confirmationToken string) Verdict {
	risk := e.Classify(action, sessionSite)
	digest := ActionDigest(action)

	if risk != schemas.RiskHigh {
		return Verdict{Risk: risk, ActionDigest: digest}
	}

	if VerifyToken(e.secret, sessionID, digest, confirmationToken) {
		e.logger.Info("High-risk action confirmed",
			zap.String("session_id", sessionID),
			zap.String("action_type", string(action.Type)),
			zap.String("action_digest", digest))
		return Verdict{Risk: risk, ActionDigest: digest}
	}

	e.logger.Warn("High-risk action blocked pending confirmation",
		zap.String("session_id", sessionID),
		zap.String("action_type", string(action.Type)),
		zap.String("action_digest", digest))
	return Verdict{Risk: risk, NeedsConfirmation: true, ActionDigest: digest}
}

// ConfirmationDetail builds the structured payload callers relay when
// requesting sign-off out of band.
func (e *Engine) ConfirmationDetail(action schemas.Action, sessionID, digest string) *schemas.ConfirmationDetail {
	return &schemas.ConfirmationDetail{
		ActionDigest: digest,
		SessionID:    sessionID,
		CommandHint:  fmt.Sprintf("confirm %s on session %s (digest %s)", action.Type, sessionID, digest[:12]),
	}
}

func navigateRisk(rawURL, sessionSite string) schemas.RiskLevel {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return schemas.RiskLow
	}

	lowered := strings.ToLower(u.Path)
	for _, token := range sensitivePathTokens {
		if strings.Contains(lowered, token) {
			return schemas.RiskHigh
		}
	}

	if sessionSite != "" {
		if site, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname()); err == nil && site != sessionSite {
			return schemas.RiskHigh
		}
	}
	return schemas.RiskLow
}

func riskRank(r schemas.RiskLevel) int {
	switch r {
	case schemas.RiskHigh:
		return 2
	case schemas.RiskMedium:
		return 1
	default:
		return 0
	}
}
