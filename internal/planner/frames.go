// File: internal/planner/frames.go
package planner

import (
	"sync"
	"time"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// frameEntry pairs a task frame with its last-touched time for eviction.
type frameEntry struct {
	frame   schemas.TaskFrame
	touched time.Time
}

// FrameArena holds the per-session task frames with TTL expiry and LRU
// eviction at capacity, so a long-lived process cannot accumulate frames
// for conversations that ended hours ago.
type FrameArena struct {
	mu       sync.Mutex
	entries  map[string]*frameEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// NewFrameArena creates an arena. Non-positive ttl or capacity fall back to
// safe defaults.
func NewFrameArena(ttl time.Duration, capacity int) *FrameArena {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &FrameArena{
		entries:  make(map[string]*frameEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
	}
}

// Update merges an incoming frame with the session's stored one according
// to its relation, stores the result, and returns the effective frame.
func (a *FrameArena) Update(sessionID string, incoming schemas.TaskFrame) schemas.TaskFrame {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepLocked()

	var effective schemas.TaskFrame
	prev, ok := a.entries[sessionID]

	switch {
	case !ok || incoming.Relation == schemas.RelationNewTask || incoming.Relation == "":
		effective = incoming
	case incoming.Relation == schemas.RelationAcknowledge:
		effective = prev.frame
	case incoming.Relation == schemas.RelationCorrection:
		effective = applyCorrection(prev.frame, incoming)
	default: // continue
		effective = mergeContinue(prev.frame, incoming)
	}

	a.entries[sessionID] = &frameEntry{frame: effective, touched: a.now()}
	a.evictLocked()
	return effective
}

// Get returns the session's current frame, refreshing its recency.
func (a *FrameArena) Get(sessionID string) (schemas.TaskFrame, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sweepLocked()

	entry, ok := a.entries[sessionID]
	if !ok {
		return schemas.TaskFrame{}, false
	}
	entry.touched = a.now()
	return entry.frame, true
}

// Drop discards a session's frame.
func (a *FrameArena) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, sessionID)
}

func (a *FrameArena) sweepLocked() {
	cutoff := a.now().Add(-a.ttl)
	for id, entry := range a.entries {
		if entry.touched.Before(cutoff) {
			delete(a.entries, id)
		}
	}
}

func (a *FrameArena) evictLocked() {
	for len(a.entries) > a.capacity {
		oldestID := ""
		var oldest time.Time
		for id, entry := range a.entries {
			if oldestID == "" || entry.touched.Before(oldest) {
				oldestID, oldest = id, entry.touched
			}
		}
		delete(a.entries, oldestID)
	}
}

// applyCorrection replaces the most recently added unresolved entity with
// the correction's entities, keeping the rest of the prior context intact.
func applyCorrection(prev, correction schemas.TaskFrame) schemas.TaskFrame {
	out := prev
	out.Relation = schemas.RelationCorrection
	if correction.UserObjective != "" {
		out.UserObjective = correction.UserObjective
	}

	if len(correction.Entities) > 0 {
		replaced := false
		entities := make([]string, len(prev.Entities))
		copy(entities, prev.Entities)
		for i := len(entities) - 1; i >= 0; i-- {
			if prev.EntityStatus[entities[i]] == schemas.EntityUnresolved {
				entities[i] = correction.Entities[0]
				replaced = true
				break
			}
		}
		if !replaced {
			entities = append(entities, correction.Entities[0])
		}
		entities = append(entities, correction.Entities[1:]...)
		out.Entities = entities

		out.EntityStatus = cloneStatus(prev.EntityStatus)
		for _, e := range correction.Entities {
			out.EntityStatus[e] = schemas.EntityUnresolved
		}
	}
	return out
}

// mergeContinue keeps the prior objective and context, folding in anything
// new the turn mentions.
func mergeContinue(prev, next schemas.TaskFrame) schemas.TaskFrame {
	out := prev
	out.Relation = schemas.RelationContinue
	if next.UserObjective != "" {
		out.UserObjective = next.UserObjective
	}
	if next.RequiredOutput != "" {
		out.RequiredOutput = next.RequiredOutput
	}
	out.Entities = appendMissing(prev.Entities, next.Entities)
	out.DomainHints = appendMissing(prev.DomainHints, next.DomainHints)
	out.MissingInputs = next.MissingInputs
	if len(next.SkillPlan) > 0 {
		out.SkillPlan = next.SkillPlan
	}

	out.EntityStatus = cloneStatus(prev.EntityStatus)
	for entity, state := range next.EntityStatus {
		out.EntityStatus[entity] = state
	}
	return out
}

func appendMissing(base, extra []string) []string {
	out := make([]string, len(base))
	copy(out, base)
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if _, dup := seen[s]; !dup {
			out = append(out, s)
			seen[s] = struct{}{}
		}
	}
	return out
}

func cloneStatus(in map[string]schemas.EntityState) map[string]schemas.EntityState {
	out := make(map[string]schemas.EntityState, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
