package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tasknotify/project/internal/platform/httpx"
	"github.com/tasknotify/project/internal/platform/logging"
)

// fakeGateway answers the handful of gateway routes the runner uses and
// stores a notification synchronously for every task action.
type fakeGateway struct {
	mu            sync.Mutex
	users         map[string]string
	tasks         map[string]string
	notifications map[string][]notification
	seq           int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		users:         map[string]string{},
		tasks:         map[string]string{},
		notifications: map[string][]notification{},
	}
}

func (g *fakeGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s-%d", prefix, g.seq)
}

func (g *fakeGateway) notify(userID, taskID, kind string) {
	g.notifications[userID] = append(g.notifications[userID], notification{
		ID: g.nextID("n"), Type: kind, TaskID: taskID, CreatedAt: time.Now(),
	})
}

func (g *fakeGateway) handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Post("/api/users/register", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.users[in["email"]]; ok {
			httpx.WriteError(w, http.StatusBadRequest, "User already exists")
			return
		}
		g.users[in["email"]] = g.nextID("u")
		httpx.WriteMessage(w, http.StatusCreated, "User created successfully", nil)
	})
	r.Post("/api/users/login", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		g.mu.Lock()
		defer g.mu.Unlock()
		id := g.users[in["email"]]
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"token": "token-" + id,
			"user":  map[string]string{"id": id, "name": in["email"]},
		})
	})
	r.Post("/api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		g.mu.Lock()
		defer g.mu.Unlock()
		id := g.nextID("t")
		g.tasks[id] = in["assignedTo"]
		g.notify(in["assignedTo"], id, "task_assigned")
		httpx.WriteMessage(w, http.StatusCreated, "Task created successfully", map[string]any{
			"task": map[string]string{"id": id, "title": in["title"], "status": "pending"},
		})
	})
	r.Put("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		id := chi.URLParam(r, "id")
		assignee, ok := g.tasks[id]
		if !ok {
			httpx.WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		g.notify(assignee, id, "task_updated")
		httpx.WriteMessage(w, http.StatusOK, "Task updated successfully", nil)
	})
	r.Delete("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		id := chi.URLParam(r, "id")
		assignee, ok := g.tasks[id]
		if !ok {
			httpx.WriteError(w, http.StatusNotFound, "Task not found")
			return
		}
		delete(g.tasks, id)
		g.notify(assignee, id, "task_deleted")
		httpx.WriteMessage(w, http.StatusOK, "Task deleted successfully", nil)
	})
	r.Get("/api/notifications/{userID}", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		list := g.notifications[chi.URLParam(r, "userID")]
		if list == nil {
			list = []notification{}
		}
		httpx.WriteJSON(w, http.StatusOK, list)
	})
	return r
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Config{Employees: 1}, logging.Discard())
	assert.EqualError(t, err, "gateway url is required")

	_, err = New(Config{GatewayURL: "http://gw"}, logging.Discard())
	assert.EqualError(t, err, "employees must be > 0")

	r, err := New(Config{GatewayURL: "http://gw/ ", Employees: 2}, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "http://gw", r.cfg.GatewayURL)
	assert.Equal(t, time.Second, r.cfg.PollInterval)
}

func TestRun_GeneratesLoadAndSeesNotifications(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	r, err := New(Config{
		GatewayURL:       srv.URL,
		Employees:        3,
		ActionsPerSecond: 200,
		PollInterval:     20 * time.Millisecond,
	}, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	s := r.Stats()
	assert.Positive(t, s.Actions)
	assert.Positive(t, s.RequestsOK)
	assert.Positive(t, s.Delivered)
	assert.Len(t, gw.users, 4)
}

func TestSetupUser_ExistingAccountLogsIn(t *testing.T) {
	gw := newFakeGateway()
	srv := httptest.NewServer(gw.handler())
	defer srv.Close()

	r, err := New(Config{GatewayURL: srv.URL, Employees: 1}, logging.Discard())
	require.NoError(t, err)

	first, err := r.setupUser(context.Background(), 1, "employee")
	require.NoError(t, err)
	again, err := r.setupUser(context.Background(), 1, "employee")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.NotEmpty(t, again.Token)
}

func TestRun_GatewayNeverReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := New(Config{
		GatewayURL:    srv.URL,
		Employees:     1,
		StartupWait:   50 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
	}, logging.Discard())
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
}

func TestNextAction(t *testing.T) {
	r, err := New(Config{GatewayURL: "http://gw", Employees: 1}, logging.Discard())
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 20; i++ {
		assert.Equal(t, actionCreate, r.nextAction(rng))
	}

	r.open = []openTask{{ID: "t1"}}
	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		seen[r.nextAction(rng)] = true
	}
	assert.True(t, seen[actionCreate])
	assert.True(t, seen[actionAdvance])
	assert.True(t, seen[actionDelete])
}

func TestNextStatus(t *testing.T) {
	assert.Equal(t, "in_progress", nextStatus("pending"))
	assert.Equal(t, "completed", nextStatus("in_progress"))
	assert.Equal(t, "pending", nextStatus("completed"))
}

func TestObserveDeliveryClearsPending(t *testing.T) {
	r, err := New(Config{GatewayURL: "http://gw", Employees: 1}, logging.Discard())
	require.NoError(t, err)

	r.pending[pendingKey("t1", "task_assigned")] = time.Now().Add(-time.Second)
	r.observeDelivery(notification{ID: "n1", Type: "task_assigned", TaskID: "t1", CreatedAt: time.Now()})
	assert.Empty(t, r.pending)
}
