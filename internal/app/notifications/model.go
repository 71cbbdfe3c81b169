package notifications

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tasknotify/project/internal/contracts"
)

var (
	ErrNotFound    = errors.New("notification not found")
	ErrUnknownKind = errors.New("unknown notification kind")
)

// Notification is the persisted, user-facing record derived from one consumed
// lifecycle event. SourceEventID is kept for diagnostics only; it is not
// unique, so a redelivered event yields a second record.
type Notification struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Message       string          `json:"message"`
	Type          string          `json:"type"`
	Read          bool            `json:"read"`
	TaskID        string          `json:"taskId"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	SourceEventID string          `json:"sourceEventId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Render builds the message shown to the event's target user.
func Render(e contracts.LifecycleEvent) (string, error) {
	switch e.Type {
	case contracts.KindTaskAssigned:
		return fmt.Sprintf(`New task assigned: "%s" by %s`, e.Title, e.AssignedByName), nil
	case contracts.KindTaskUpdated:
		return fmt.Sprintf(`Task "%s" status updated to %s`, e.Title, e.Status), nil
	case contracts.KindTaskDeleted:
		return fmt.Sprintf(`Task "%s" has been deleted by %s`, e.Title, e.AssignedByName), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, e.Type)
	}
}
