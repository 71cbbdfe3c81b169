package tasks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tasknotify/project/internal/contracts"
	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/logging"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStore struct {
	mu     sync.Mutex
	clock  *clock
	tasks  map[string]Task
	outbox map[string]OutboxEvent
	order  []string

	createErr error
}

func newFakeStore(c *clock) *fakeStore {
	return &fakeStore{clock: c, tasks: map[string]Task{}, outbox: map[string]OutboxEvent{}}
}

func (f *fakeStore) addOutbox(e OutboxEvent) {
	f.outbox[e.EventID] = e
	f.order = append(f.order, e.EventID)
}

func (f *fakeStore) Create(_ context.Context, task Task, event OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.tasks[task.ID] = task
	f.addOutbox(event)
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) List(_ context.Context, filter ListFilter) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if filter.AssignedTo == "" || t.AssignedTo == filter.AssignedTo {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, id string, mutate MutateFunc) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	event, err := mutate(&t)
	if err != nil {
		return Task{}, err
	}
	f.tasks[id] = t
	f.addOutbox(event)
	return t, nil
}

func (f *fakeStore) RecordEvent(_ context.Context, event OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addOutbox(event)
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) ClaimDue(_ context.Context, owner string, limit int, lease time.Duration) ([]OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	var claimed []OutboxEvent
	for _, id := range f.order {
		e := f.outbox[id]
		due := e.Status == OutboxStatusPending && (e.NextRetryAt == nil || !e.NextRetryAt.After(now))
		stale := e.Status == OutboxStatusSending && e.LockedAt != nil && e.LockedAt.Before(now.Add(-lease))
		if !due && !stale {
			continue
		}
		e.Status = OutboxStatusSending
		e.LockedAt = &now
		e.LockedBy = &owner
		f.outbox[id] = e
		claimed = append(claimed, e)
		if len(claimed) == limit {
			break
		}
	}
	return claimed, nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.outbox[eventID]
	now := f.clock.Now()
	e.Status = OutboxStatusDelivered
	e.PublishedAt = &now
	e.LockedAt = nil
	f.outbox[eventID] = e
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, eventID string, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.outbox[eventID]
	e.Status = OutboxStatusPending
	e.NextRetryAt = nextRetryAt
	if dead {
		e.Status = OutboxStatusDead
		e.NextRetryAt = nil
	}
	e.Attempts = attempts
	e.LastError = &lastErr
	e.LockedAt = nil
	f.outbox[eventID] = e
	return nil
}

func (f *fakeStore) outboxEvent(t *testing.T, i int) OutboxEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.order), i)
	return f.outbox[f.order[i]]
}

func (f *fakeStore) hasTask(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[id]
	return ok
}

type published struct {
	Subject string
	MsgID   string
	Event   contracts.LifecycleEvent
}

type fakePublisher struct {
	mu        sync.Mutex
	err       error
	msgs      []published
	onPublish func(contracts.LifecycleEvent)
}

func (p *fakePublisher) Publish(_ context.Context, subject, msgID string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	var e contracts.LifecycleEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return err
	}
	if p.onPublish != nil {
		p.onPublish(e)
	}
	p.msgs = append(p.msgs, published{Subject: subject, MsgID: msgID, Event: e})
	return nil
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

type fixture struct {
	clock *clock
	store *fakeStore
	pub   *fakePublisher
	disp  *Dispatcher
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := newClock()
	store := newFakeStore(c)
	pub := &fakePublisher{}
	logger := logging.Discard()
	disp := NewDispatcher(store, pub, logger, "test", config.Outbox{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
		MaxAttempts:  3,
		Lease:        30 * time.Second,
	})
	disp.Now = c.Now

	svc := NewService(store, disp, logger, time.Second)
	svc.Now = func() time.Time {
		// Distinct timestamps keep newest-first ordering deterministic.
		c.Advance(time.Second)
		return c.Now()
	}
	return &fixture{clock: c, store: store, pub: pub, disp: disp, svc: svc}
}

var (
	manager   = Caller{UserID: "m1", Role: "manager", Name: "Maria"}
	employee  = Caller{UserID: "e1", Role: "employee", Name: "Eli"}
	employee2 = Caller{UserID: "e2", Role: "employee", Name: "Eva"}
)

func (fx *fixture) createFor(t *testing.T, assignee Caller, title string) Task {
	t.Helper()
	task, err := fx.svc.Create(context.Background(), manager, CreateInput{
		Title:          title,
		AssignedTo:     assignee.UserID,
		AssignedToName: assignee.Name,
	})
	require.NoError(t, err)
	return task
}

func strPtr(s string) *string { return &s }
