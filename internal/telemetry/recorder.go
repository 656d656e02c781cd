// File: internal/telemetry/recorder.go
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultCapacity bounds the per-session ring; oldest events are dropped
// once the bound is hit so a long-lived session cannot grow without limit.
const defaultCapacity = 512

// Recorder is an append-only, in-memory, per-process event store keyed by
// session id. It backs observability views and shadow comparisons; it is not
// a durability layer.
type Recorder struct {
	mu       sync.RWMutex
	events   map[string][]schemas.TelemetryEvent
	capacity int
	logger   *zap.Logger
}

// NewRecorder creates a Recorder with the default per-session capacity.
func NewRecorder(logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		events:   make(map[string][]schemas.TelemetryEvent),
		capacity: defaultCapacity,
		logger:   logger.Named("telemetry"),
	}
}

// Record appends one event. Payloads are snapshotted through JSON so later
// mutation of the caller's value cannot alter recorded history. Never blocks
// and never fails the caller.
func (r *Recorder) Record(sessionID, kind string, payload any) {
	ev := schemas.TelemetryEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		At:        time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			r.logger.Debug("Dropping unmarshalable telemetry payload",
				zap.String("kind", kind), zap.Error(err))
		} else {
			var snapshot any
			if err := json.Unmarshal(raw, &snapshot); err == nil {
				ev.Payload = snapshot
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.events[sessionID], ev)
	if len(buf) > r.capacity {
		buf = buf[len(buf)-r.capacity:]
	}
	r.events[sessionID] = buf
}

// Events returns a copy of the recorded events for one session in append
// order.
func (r *Recorder) Events(sessionID string) []schemas.TelemetryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.events[sessionID]
	out := make([]schemas.TelemetryEvent, len(src))
	copy(out, src)
	return out
}

// Flush discards all events for one session, typically on session end.
func (r *Recorder) Flush(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, sessionID)
}

var _ schemas.EventRecorder = (*Recorder)(nil)
