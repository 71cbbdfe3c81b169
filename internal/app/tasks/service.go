package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nuid"
	"github.com/tasknotify/project/internal/contracts"
	"github.com/tasknotify/project/internal/messaging"
)

const defaultPublishTimeout = 5 * time.Second

type Service struct {
	Repo           Repository
	Dispatcher     *Dispatcher
	Logger         *slog.Logger
	PublishTimeout time.Duration
	Now            func() time.Time
	NewID          func() string
	NewEventID     func() string
}

func NewService(repo Repository, dispatcher *Dispatcher, logger *slog.Logger, publishTimeout time.Duration) *Service {
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Service{
		Repo:           repo,
		Dispatcher:     dispatcher,
		Logger:         logger,
		PublishTimeout: publishTimeout,
		Now:            func() time.Time { return time.Now().UTC() },
		NewID:          uuid.NewString,
		NewEventID:     nuid.Next,
	}
}

func (s *Service) Create(ctx context.Context, caller Caller, in CreateInput) (Task, error) {
	if !caller.IsManager() {
		return Task{}, ErrCreateForbidden
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, ErrTitleRequired
	}
	assignee := strings.TrimSpace(in.AssignedTo)
	assigneeName := strings.TrimSpace(in.AssignedToName)
	if assignee == "" || assigneeName == "" {
		return Task{}, ErrAssigneeRequired
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return Task{}, err
	}
	due, err := ParseDueDate(in.DueDate)
	if err != nil {
		return Task{}, err
	}

	now := s.Now()
	task := Task{
		ID:             s.NewID(),
		Title:          title,
		Description:    in.Description,
		AssignedTo:     assignee,
		AssignedToName: assigneeName,
		AssignedBy:     caller.UserID,
		AssignedByName: caller.Name,
		Status:         StatusPending,
		Priority:       priority,
		DueDate:        due,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	event, err := s.newEvent(contracts.KindTaskAssigned, task)
	if err != nil {
		return Task{}, err
	}
	if err := s.Repo.Create(ctx, task, event); err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	s.emit(ctx, event)
	return task, nil
}

// List returns every task for managers and only the caller's own tasks for
// everyone else, newest first.
func (s *Service) List(ctx context.Context, caller Caller) ([]Task, error) {
	filter := ListFilter{}
	if !caller.IsManager() {
		filter.AssignedTo = caller.UserID
	}
	return s.Repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, caller Caller, id string) (Task, error) {
	task, err := s.Repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if !caller.IsManager() && task.AssignedTo != caller.UserID {
		return Task{}, ErrForbidden
	}
	return task, nil
}

// Update applies patch. Non-managers may only touch their own tasks and only
// the status field; anything else in their patch is ignored.
func (s *Service) Update(ctx context.Context, caller Caller, id string, patch Patch) (Task, error) {
	if !caller.IsManager() {
		patch = patch.StatusOnly()
	}

	var event OutboxEvent
	task, err := s.Repo.Update(ctx, id, func(t *Task) (OutboxEvent, error) {
		if !caller.IsManager() && t.AssignedTo != caller.UserID {
			return OutboxEvent{}, ErrForbidden
		}
		if err := patch.Apply(t); err != nil {
			return OutboxEvent{}, err
		}
		t.UpdatedAt = s.Now()
		e, err := s.newEvent(contracts.KindTaskUpdated, *t)
		event = e
		return e, err
	})
	if err != nil {
		return Task{}, err
	}
	s.emit(ctx, event)
	return task, nil
}

// Delete records and publishes task_deleted while the task is still readable,
// then removes it.
func (s *Service) Delete(ctx context.Context, caller Caller, id string) error {
	if !caller.IsManager() {
		return ErrManagerOnly
	}
	task, err := s.Repo.Get(ctx, id)
	if err != nil {
		return err
	}
	event, err := s.newEvent(contracts.KindTaskDeleted, task)
	if err != nil {
		return err
	}
	if err := s.Repo.RecordEvent(ctx, event); err != nil {
		return fmt.Errorf("record delete event: %w", err)
	}
	s.emit(ctx, event)

	if err := s.Repo.Delete(ctx, task.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *Service) newEvent(kind string, task Task) (OutboxEvent, error) {
	queue, ok := messaging.QueueForKind(kind)
	if !ok {
		return OutboxEvent{}, fmt.Errorf("no queue for event kind %q", kind)
	}
	snapshot, err := json.Marshal(task)
	if err != nil {
		return OutboxEvent{}, err
	}

	now := s.Now()
	le := contracts.LifecycleEvent{
		EventID:        s.NewEventID(),
		Type:           kind,
		TaskID:         task.ID,
		Title:          task.Title,
		AssignedTo:     task.AssignedTo,
		AssignedByName: task.AssignedByName,
		Status:         task.Status,
		OccurredAt:     now,
		Metadata:       snapshot,
	}
	payload, err := json.Marshal(le)
	if err != nil {
		return OutboxEvent{}, err
	}
	owner := "request"
	return OutboxEvent{
		EventID:   le.EventID,
		Kind:      kind,
		Subject:   queue.Subject,
		Payload:   payload,
		Status:    OutboxStatusSending,
		LockedAt:  &now,
		LockedBy:  &owner,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// emit makes one bounded publish attempt for a committed event. Failures are
// left to the dispatcher and never reach the caller.
func (s *Service) emit(ctx context.Context, event OutboxEvent) {
	if s.Dispatcher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.PublishTimeout)
	defer cancel()
	if err := s.Dispatcher.Deliver(pubCtx, event); err != nil {
		s.Logger.WarnContext(ctx, "event deferred to outbox",
			"event_id", event.EventID,
			"kind", event.Kind,
			"error", err,
		)
	}
}
