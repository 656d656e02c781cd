// File: internal/worldmodel/worldmodel.go
package worldmodel

import (
	"sync"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// EntryKind distinguishes the three record types in the log.
type EntryKind string

const (
	KindObservation EntryKind = "observation"
	KindAction      EntryKind = "action"
	KindNote        EntryKind = "note"
)

// Entry is one appended record. Exactly one of Observation, Action, Note is
// set, matching Kind.
type Entry struct {
	Kind        EntryKind                     `json:"kind"`
	At          time.Time                     `json:"at"`
	Observation *schemas.Observation          `json:"observation,omitempty"`
	Action      *schemas.ActionExecutionResult `json:"action,omitempty"`
	Note        string                        `json:"note,omitempty"`
}

// maxEntriesPerKind caps log growth per record type. The log feeds
// within-turn navigation decisions, so only recent history matters.
const maxEntriesPerKind = 100

// Model is the per-session append log of observations, executed actions and
// free-form notes. It is mutated only by the owning session's sequential
// call stream, but reads may come from elsewhere, so access is guarded.
type Model struct {
	mu      sync.RWMutex
	entries []Entry
	counts  map[EntryKind]int
}

// New creates an empty world model.
func New() *Model {
	return &Model{counts: make(map[EntryKind]int)}
}

// AppendObservation records a perception snapshot. Entries preserve
// wall-clock capture order.
func (m *Model) AppendObservation(obs *schemas.Observation) {
	if obs == nil {
		return
	}
	m.append(Entry{Kind: KindObservation, At: obs.Timestamp, Observation: obs})
}

// AppendAction records the result of an executed action.
func (m *Model) AppendAction(res *schemas.ActionExecutionResult) {
	if res == nil {
		return
	}
	m.append(Entry{Kind: KindAction, At: time.Now().UTC(), Action: res})
}

// AppendNote records free-form planner context.
func (m *Model) AppendNote(note string) {
	if note == "" {
		return
	}
	m.append(Entry{Kind: KindNote, At: time.Now().UTC(), Note: note})
}

func (m *Model) append(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	m.counts[e.Kind]++

	if m.counts[e.Kind] <= maxEntriesPerKind {
		return
	}
	// Drop the oldest entry of this kind.
	for i := range m.entries {
		if m.entries[i].Kind == e.Kind {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			m.counts[e.Kind]--
			break
		}
	}
}

// LastObservation returns the most recent observation, or nil when none has
// been captured yet.
func (m *Model) LastObservation() *schemas.Observation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Kind == KindObservation {
			return m.entries[i].Observation
		}
	}
	return nil
}

// Entries returns a snapshot of the full log in append order.
func (m *Model) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Arena maps session ids to their world models. The arena itself is shared;
// each model is owned by its session's serial call stream.
type Arena struct {
	mu     sync.Mutex
	models map[string]*Model
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{models: make(map[string]*Model)}
}

// For returns the model for a session, creating it on first use.
func (a *Arena) For(sessionID string) *Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.models[sessionID]
	if !ok {
		m = New()
		a.models[sessionID] = m
	}
	return m
}

// Drop discards a session's model, typically on session end.
func (a *Arena) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.models, sessionID)
}
