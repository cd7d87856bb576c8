package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entities carried by a SyncEvent.
const (
	EntityTransaction = "transaction"
	EntitySharedEntry = "shared_entry"
	EntityPerson      = "person"
)

// SyncEvent announces that a locally applied write reached a final state.
// It only carries identifiers; consumers read the record from the store.
type SyncEvent struct {
	Op        string    `json:"op"`
	Entity    string    `json:"entity"`
	ID        string    `json:"id"`
	TempID    string    `json:"temp_id,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSyncEvent creates an event stamped with the current time.
func NewSyncEvent(op, entity, id, state string) *SyncEvent {
	return &SyncEvent{
		Op:        op,
		Entity:    entity,
		ID:        id,
		State:     state,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *SyncEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// String renders the event on one line for the events subcommand.
func (e *SyncEvent) String() string {
	s := fmt.Sprintf("%s %s %s %s %s", e.Timestamp.Format(time.RFC3339), e.State, e.Op, e.Entity, e.ID)
	if e.TempID != "" {
		s += " (was " + e.TempID + ")"
	}
	if e.Error != "" {
		s += ": " + e.Error
	}
	return s
}

// SyncEventFromJSON parses an event and rejects ones without op or entity.
func SyncEventFromJSON(data []byte) (*SyncEvent, error) {
	var ev SyncEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Op == "" || ev.Entity == "" {
		return nil, fmt.Errorf("sync event missing op or entity")
	}
	return &ev, nil
}
