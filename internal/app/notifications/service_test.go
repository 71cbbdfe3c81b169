package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasknotify/project/internal/contracts"
)

type fakeRepo struct {
	mu        sync.Mutex
	items     map[string]Notification
	insertErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{items: map[string]Notification{}}
}

func (f *fakeRepo) Insert(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.items[n.ID] = n
	return nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID string) ([]Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Notification, 0)
	for _, n := range f.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRepo) MarkRead(_ context.Context, id string) (Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.items[id]
	if !ok {
		return Notification{}, ErrNotFound
	}
	n.Read = true
	f.items[id] = n
	return n, nil
}

func (f *fakeRepo) MarkAllRead(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var changed int64
	for id, n := range f.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			f.items[id] = n
			changed++
		}
	}
	return changed, nil
}

func (f *fakeRepo) CountUnread(_ context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.items {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) setInsertErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertErr = err
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var (
		mu   sync.Mutex
		tick int
	)
	svc.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return svc
}

func lifecycleEvent(kind string) contracts.LifecycleEvent {
	return contracts.LifecycleEvent{
		EventID:        "evt-" + kind,
		Type:           kind,
		TaskID:         "task-1",
		Title:          "Write report",
		AssignedTo:     "e1",
		AssignedByName: "Maria",
		Status:         "in_progress",
		OccurredAt:     time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func mustPayload(t *testing.T, e contracts.LifecycleEvent) []byte {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return b
}

func TestRender(t *testing.T) {
	cases := map[string]string{
		contracts.KindTaskAssigned: `New task assigned: "Write report" by Maria`,
		contracts.KindTaskUpdated:  `Task "Write report" status updated to in_progress`,
		contracts.KindTaskDeleted:  `Task "Write report" has been deleted by Maria`,
	}
	for kind, want := range cases {
		got, err := Render(lifecycleEvent(kind))
		require.NoError(t, err, kind)
		assert.Equal(t, want, got)
	}

	_, err := Render(lifecycleEvent("task_archived"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRecord_StoresForTargetUser(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	e := lifecycleEvent(contracts.KindTaskAssigned)
	raw := mustPayload(t, e)

	n, err := svc.Record(context.Background(), e, raw)
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "e1", n.UserID)
	assert.Equal(t, contracts.KindTaskAssigned, n.Type)
	assert.Equal(t, "task-1", n.TaskID)
	assert.Equal(t, "evt-task_assigned", n.SourceEventID)
	assert.False(t, n.Read)
	assert.JSONEq(t, string(raw), string(n.Metadata))
}

func TestRecord_RedeliveryYieldsDuplicate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	e := lifecycleEvent(contracts.KindTaskAssigned)
	raw := mustPayload(t, e)

	first, err := svc.Record(context.Background(), e, raw)
	require.NoError(t, err)
	second, err := svc.Record(context.Background(), e, raw)
	require.NoError(t, err)

	list, err := svc.ListForUser(context.Background(), "e1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, list[0].Message, list[1].Message)
	assert.Equal(t, list[0].Type, list[1].Type)
	assert.Equal(t, list[0].TaskID, list[1].TaskID)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
}

func TestRecord_StoreFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.setInsertErr(errors.New("connection refused"))
	svc := newTestService(repo)

	_, err := svc.Record(context.Background(), lifecycleEvent(contracts.KindTaskUpdated), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMarkAllRead_LeavesNothingUnread(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	for i := 0; i < 3; i++ {
		e := lifecycleEvent(contracts.KindTaskUpdated)
		e.EventID = fmt.Sprintf("evt-%d", i)
		_, err := svc.Record(context.Background(), e, nil)
		require.NoError(t, err)
	}
	other := lifecycleEvent(contracts.KindTaskAssigned)
	other.AssignedTo = "e2"
	_, err := svc.Record(context.Background(), other, nil)
	require.NoError(t, err)

	changed, err := svc.MarkAllRead(context.Background(), "e1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, changed)

	list, err := svc.ListForUser(context.Background(), "e1")
	require.NoError(t, err)
	for _, n := range list {
		assert.True(t, n.Read)
	}
	unread, err := svc.UnreadCount(context.Background(), "e1")
	require.NoError(t, err)
	assert.Zero(t, unread)

	unread, err = svc.UnreadCount(context.Background(), "e2")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMarkRead(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	n, err := svc.Record(context.Background(), lifecycleEvent(contracts.KindTaskDeleted), nil)
	require.NoError(t, err)

	read, err := svc.MarkRead(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	again, err := svc.MarkRead(context.Background(), n.ID)
	require.NoError(t, err)
	assert.True(t, again.Read)

	_, err = svc.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
