package schemas

import "encoding/json"

// -- Action Schemas --

// ActionType enumerates the operations the executor understands.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionFill     ActionType = "fill"
	ActionSubmit   ActionType = "submit"
	ActionScroll   ActionType = "scroll"
	ActionWait     ActionType = "wait"
	ActionExtract  ActionType = "extract"
	ActionSearch   ActionType = "search"
)

// BBox is a screen-space bounding box in CSS pixels.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box, the coordinate used for
// coordinate-based clicks.
func (b BBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Target describes the element an action applies to. Fields are tried in
// order of reliability: CSS selector, then role+text, then text alone, and
// finally a raw bounding box from vision resolution.
type Target struct {
	CSS  string `json:"css,omitempty"`
	Text string `json:"text,omitempty"`
	Role string `json:"role,omitempty"`
	BBox *BBox  `json:"bbox,omitempty"`
}

// IsZero reports whether no targeting information was provided at all.
func (t *Target) IsZero() bool {
	return t == nil || (t.CSS == "" && t.Text == "" && t.Role == "" && t.BBox == nil)
}

// Action is the tagged union of everything the executor can perform.
// Constructed by the caller and never mutated afterwards.
type Action struct {
	Type    ActionType      `json:"type"`
	Target  *Target         `json:"target,omitempty"`
	Value   string          `json:"value,omitempty"`
	URL     string          `json:"url,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// RiskLevel classifies the blast radius of an action.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ResolutionPath records which strategy located the action target.
type ResolutionPath string

const (
	ResolutionDOM           ResolutionPath = "dom"
	ResolutionVisionCSS     ResolutionPath = "vision-css"
	ResolutionVisionBBox    ResolutionPath = "vision-bbox"
	ResolutionKeyboardEnter ResolutionPath = "keyboard-enter"
)

// ConfirmationDetail tells the caller what to sign off on when a high-risk
// action is blocked. CommandHint is a ready-to-relay instruction for the
// approving human or agent.
type ConfirmationDetail struct {
	ActionDigest string `json:"actionDigest"`
	SessionID    string `json:"sessionId"`
	CommandHint  string `json:"commandHint"`
}

// ActionExecutionResult is the structured outcome of a single action.
// NeedsConfirmation=true is the soft-fail path for policy-blocked actions:
// Success then reflects whether the policy check itself succeeded, and the
// underlying action has not run.
type ActionExecutionResult struct {
	Success              bool                `json:"success"`
	Action               Action              `json:"action"`
	Risk                 RiskLevel           `json:"risk"`
	NeedsConfirmation    bool                `json:"needsConfirmation"`
	ConfirmationRequired *ConfirmationDetail `json:"confirmationRequired,omitempty"`
	Resolution           ResolutionPath      `json:"resolution,omitempty"`
	Observation          *Observation        `json:"observation,omitempty"`
	Extraction           *StructuredExtraction `json:"extraction,omitempty"`
	SearchResults        []SearchResult      `json:"searchResults,omitempty"`
	Error                string              `json:"error,omitempty"`
}
