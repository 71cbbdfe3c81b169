package integration_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tasknotify/project/internal/app/identity"
	"github.com/tasknotify/project/internal/app/notifications"
	"github.com/tasknotify/project/internal/app/tasks"
	"github.com/tasknotify/project/internal/messaging"
)

// In-memory stand-ins for the three service stores and the broker. Each
// service gets its own instance; nothing is shared between them.

type userStore struct {
	mu    sync.Mutex
	users []identity.User
}

func (s *userStore) CreateUser(_ context.Context, u identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return identity.ErrEmailTaken
		}
	}
	s.users = append(s.users, u)
	return nil
}

func (s *userStore) FindUserByEmail(_ context.Context, email string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (s *userStore) ListUsers(_ context.Context, role string) ([]identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]identity.User, 0, len(s.users))
	for _, u := range s.users {
		if role == "" || u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

type taskStore struct {
	mu     sync.Mutex
	tasks  map[string]tasks.Task
	outbox map[string]tasks.OutboxEvent
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: map[string]tasks.Task{}, outbox: map[string]tasks.OutboxEvent{}}
}

func (s *taskStore) Create(_ context.Context, t tasks.Task, e tasks.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	s.outbox[e.EventID] = e
	return nil
}

func (s *taskStore) Get(_ context.Context, id string) (tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return tasks.Task{}, tasks.ErrNotFound
	}
	return t, nil
}

func (s *taskStore) List(_ context.Context, f tasks.ListFilter) ([]tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tasks.Task, 0)
	for _, t := range s.tasks {
		if f.AssignedTo == "" || t.AssignedTo == f.AssignedTo {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *taskStore) Update(_ context.Context, id string, mutate tasks.MutateFunc) (tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return tasks.Task{}, tasks.ErrNotFound
	}
	e, err := mutate(&t)
	if err != nil {
		return tasks.Task{}, err
	}
	s.tasks[id] = t
	s.outbox[e.EventID] = e
	return t, nil
}

func (s *taskStore) RecordEvent(_ context.Context, e tasks.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[e.EventID] = e
	return nil
}

func (s *taskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *taskStore) ClaimDue(_ context.Context, owner string, limit int, _ time.Duration) ([]tasks.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tasks.OutboxEvent
	for id, e := range s.outbox {
		if e.Status != tasks.OutboxStatusPending || len(out) == limit {
			continue
		}
		e.Status = tasks.OutboxStatusSending
		e.LockedBy = &owner
		s.outbox[id] = e
		out = append(out, e)
	}
	return out, nil
}

func (s *taskStore) MarkDelivered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.outbox[id]
	e.Status = tasks.OutboxStatusDelivered
	s.outbox[id] = e
	return nil
}

func (s *taskStore) MarkFailed(_ context.Context, id string, attempts int, next *time.Time, lastErr string, dead bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.outbox[id]
	e.Status = tasks.OutboxStatusPending
	if dead {
		e.Status = tasks.OutboxStatusDead
	}
	e.Attempts = attempts
	e.NextRetryAt = next
	e.LastError = &lastErr
	s.outbox[id] = e
	return nil
}

type notificationStore struct {
	mu    sync.Mutex
	items []notifications.Notification
}

func (s *notificationStore) Insert(_ context.Context, n notifications.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, n)
	return nil
}

func (s *notificationStore) ListByUser(_ context.Context, userID string) ([]notifications.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notifications.Notification, 0)
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].UserID == userID {
			out = append(out, s.items[i])
		}
	}
	return out, nil
}

func (s *notificationStore) MarkRead(_ context.Context, id string) (notifications.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return s.items[i], nil
		}
	}
	return notifications.Notification{}, notifications.ErrNotFound
}

func (s *notificationStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.items {
		if s.items[i].UserID == userID && !s.items[i].Read {
			s.items[i].Read = true
			n++
		}
	}
	return n, nil
}

func (s *notificationStore) CountUnread(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.items {
		if item.UserID == userID && !item.Read {
			n++
		}
	}
	return n, nil
}

// bus hands published events straight to the notification consumer, the
// way a work queue with a single subscriber would.
type bus struct {
	consumer *notifications.Consumer

	mu   sync.Mutex
	down bool
}

func (b *bus) setDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *bus) Publish(ctx context.Context, subject, _ string, payload []byte) error {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	if down {
		return errBrokerDown
	}
	for _, q := range messaging.Queues {
		if q.Subject == subject {
			_, err := b.consumer.Handle(ctx, q, payload, 1)
			return err
		}
	}
	return nil
}
