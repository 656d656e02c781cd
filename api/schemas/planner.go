package schemas

// -- Navigation Planner Schemas --

// TaskRelation classifies how the current user turn relates to the previous
// task frame.
type TaskRelation string

const (
	RelationNewTask     TaskRelation = "new_task"
	RelationContinue    TaskRelation = "continue"
	RelationCorrection  TaskRelation = "correction"
	RelationAcknowledge TaskRelation = "acknowledge"
)

// EntityState marks whether a referenced entity has been pinned to a
// concrete resource yet.
type EntityState string

const (
	EntityResolved   EntityState = "resolved"
	EntityUnresolved EntityState = "unresolved"
)

// TaskFrame carries navigation continuity across conversational turns. A new
// frame supersedes the previous one each turn; a correction replaces the most
// recently unresolved entity rather than discarding prior context.
type TaskFrame struct {
	Relation       TaskRelation           `json:"relation"`
	IntentType     string                 `json:"intentType"`
	UserObjective  string                 `json:"userObjective"`
	Entities       []string               `json:"entities"`
	DomainHints    []string               `json:"domainHints"`
	RequiredOutput string                 `json:"requiredOutput"`
	MissingInputs  []string               `json:"missingInputs"`
	SkillPlan      []string               `json:"skillPlan"`
	EntityStatus   map[string]EntityState `json:"entityStatus"`
}

// StopReason explains why the navigation loop ended a turn.
type StopReason string

const (
	StopEnoughInfo       StopReason = "enough_info"
	StopMaxActions       StopReason = "max_actions"
	StopStagnation       StopReason = "stagnation"
	StopRepeatGuard      StopReason = "repeat_guard"
	StopToolError        StopReason = "tool_error"
	StopFinalizedByModel StopReason = "finalized_by_model"
)

// CandidateSource orders the URL queue: explicit user URLs first, then
// same-site discoveries, then search-derived links.
type CandidateSource int

const (
	SourceExplicit CandidateSource = iota
	SourceSiteDiscovery
	SourceSearch
)

// Candidate is one queued URL with its provenance.
type Candidate struct {
	URL    string          `json:"url"`
	Source CandidateSource `json:"source"`
	Label  string          `json:"label,omitempty"`
}

// TurnResult is what a completed navigation turn hands back to the answer
// synthesis step. Partial progress is preserved even when a later visit
// failed.
type TurnResult struct {
	Stop          StopReason             `json:"stop"`
	Visited       []string               `json:"visited"`
	Extractions   []StructuredExtraction `json:"extractions"`
	SearchResults []SearchResult         `json:"searchResults,omitempty"`
	Notes         []string               `json:"notes,omitempty"`
}
