package audit

import (
	"encoding/json"
	"time"
)

// Event kinds carried on the queue.
const (
	KindCheckin       = "checkin"
	KindOverride      = "override"
	KindSessionClosed = "session_closed"
)

// Event is one audit-worthy engine action, published by the API process and
// persisted by the worker.
type Event struct {
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	SubjectID  string    `json:"subject_id,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Encode serializes the event for the queue.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a queued event payload.
func Decode(body []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(body, &e)
	return e, err
}
