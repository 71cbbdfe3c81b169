package tasks

import (
	"errors"
	"strings"
	"time"

	"github.com/tasknotify/project/internal/platform/auth"
)

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

var (
	ErrNotFound         = errors.New("task not found")
	ErrForbidden        = errors.New("access denied")
	ErrManagerOnly      = errors.New("only managers can delete tasks")
	ErrCreateForbidden  = errors.New("only managers can create tasks")
	ErrTitleRequired    = errors.New("title is required")
	ErrAssigneeRequired = errors.New("assignedTo and assignedToName are required")
	ErrInvalidStatus    = errors.New("status must be one of pending, in_progress, completed")
	ErrInvalidPriority  = errors.New("priority must be one of low, medium, high")
	ErrInvalidDueDate   = errors.New("dueDate must be YYYY-MM-DD or RFC 3339")
)

type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	AssignedTo     string     `json:"assignedTo"`
	AssignedToName string     `json:"assignedToName"`
	AssignedBy     string     `json:"assignedBy"`
	AssignedByName string     `json:"assignedByName"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	DueDate        *time.Time `json:"dueDate,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Caller is the verified identity making a request.
type Caller struct {
	UserID string
	Role   string
	Name   string
}

func CallerFromClaims(c auth.Claims) Caller {
	return Caller{UserID: c.UserID, Role: c.Role, Name: c.Name}
}

func (c Caller) IsManager() bool {
	return c.Role == auth.RoleManager
}

type CreateInput struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	AssignedTo     string `json:"assignedTo"`
	AssignedToName string `json:"assignedToName"`
	DueDate        string `json:"dueDate"`
	Priority       string `json:"priority"`
}

// Patch holds the fields an update may change. Nil fields are left alone.
type Patch struct {
	Title          *string `json:"title"`
	Description    *string `json:"description"`
	AssignedTo     *string `json:"assignedTo"`
	AssignedToName *string `json:"assignedToName"`
	Status         *string `json:"status"`
	Priority       *string `json:"priority"`
	DueDate        *string `json:"dueDate"`
}

// StatusOnly drops every field except Status.
func (p Patch) StatusOnly() Patch {
	return Patch{Status: p.Status}
}

// Apply validates p and writes it onto t. t is untouched on error.
func (p Patch) Apply(t *Task) error {
	next := *t
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return ErrTitleRequired
		}
		next.Title = title
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.AssignedTo != nil {
		if strings.TrimSpace(*p.AssignedTo) == "" {
			return ErrAssigneeRequired
		}
		next.AssignedTo = strings.TrimSpace(*p.AssignedTo)
	}
	if p.AssignedToName != nil {
		next.AssignedToName = strings.TrimSpace(*p.AssignedToName)
	}
	if p.Status != nil {
		status, err := ParseStatus(*p.Status)
		if err != nil {
			return err
		}
		next.Status = status
	}
	if p.Priority != nil {
		priority, err := ParsePriority(*p.Priority)
		if err != nil {
			return err
		}
		next.Priority = priority
	}
	if p.DueDate != nil {
		due, err := ParseDueDate(*p.DueDate)
		if err != nil {
			return err
		}
		next.DueDate = due
	}
	*t = next
	return nil
}

// ParseStatus normalises spellings such as "In Progress" to in_progress.
func ParseStatus(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

// ParsePriority defaults an empty value to medium.
func ParsePriority(raw string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(raw))
	switch p {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh:
		return p, nil
	default:
		return "", ErrInvalidPriority
	}
}

// ParseDueDate accepts a calendar date or an RFC 3339 timestamp. Empty clears it.
func ParseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, ErrInvalidDueDate
}
