package contracts

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Lifecycle event kinds.
const (
	KindTaskAssigned = "task_assigned"
	KindTaskUpdated  = "task_updated"
	KindTaskDeleted  = "task_deleted"
)

var ErrInvalidEvent = errors.New("invalid lifecycle event")

// LifecycleEvent is published by the task service once per committed task
// mutation and consumed by the notification service.
type LifecycleEvent struct {
	EventID        string          `json:"eventId"`
	Type           string          `json:"type"`
	TaskID         string          `json:"taskId"`
	Title          string          `json:"title"`
	AssignedTo     string          `json:"assignedTo"`
	AssignedByName string          `json:"assignedByName,omitempty"`
	Status         string          `json:"status,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

func KnownKind(kind string) bool {
	switch kind {
	case KindTaskAssigned, KindTaskUpdated, KindTaskDeleted:
		return true
	default:
		return false
	}
}

// Validate checks the fields every consumer relies on.
func (e LifecycleEvent) Validate() error {
	if !KnownKind(e.Type) {
		return errors.Join(ErrInvalidEvent, errors.New("unknown type "+e.Type))
	}
	if strings.TrimSpace(e.TaskID) == "" || strings.TrimSpace(e.AssignedTo) == "" {
		return errors.Join(ErrInvalidEvent, errors.New("taskId and assignedTo are required"))
	}
	return nil
}

// DecodeLifecycleEvent parses and validates a broker payload.
func DecodeLifecycleEvent(payload []byte) (LifecycleEvent, error) {
	var e LifecycleEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return LifecycleEvent{}, errors.Join(ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return LifecycleEvent{}, err
	}
	return e, nil
}
