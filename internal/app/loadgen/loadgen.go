// Package loadgen drives the gateway with a manager assigning tasks to a
// pool of employees and measures how long the resulting notifications take to
// land.
package loadgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	GatewayURL       string
	Employees        int
	SetupConcurrency int
	StartupWait      time.Duration
	RetryInterval    time.Duration
	ActionsPerSecond float64
	PollInterval     time.Duration
	RequestTimeout   time.Duration
	Password         string
}

func (c *Config) normalize() error {
	c.GatewayURL = strings.TrimRight(strings.TrimSpace(c.GatewayURL), "/")
	if c.GatewayURL == "" {
		return errors.New("gateway url is required")
	}
	if c.Employees <= 0 {
		return errors.New("employees must be > 0")
	}
	if c.SetupConcurrency <= 0 {
		c.SetupConcurrency = 10
	}
	if c.StartupWait <= 0 {
		c.StartupWait = 2 * time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = time.Second
	}
	if c.ActionsPerSecond <= 0 {
		c.ActionsPerSecond = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Password == "" {
		c.Password = "load-test-pass-123"
	}
	return nil
}

// Stats is a snapshot of what a run did.
type Stats struct {
	RequestsOK     int64
	RequestsFailed int64
	Actions        int64
	Delivered      int64
}

type user struct {
	Index    int
	ID       string
	Name     string
	Email    string
	Role     string
	Token    string
	ClientIP string

	seen map[string]struct{}
}

type openTask struct {
	ID       string
	Title    string
	Assignee *user
	Status   string
}

type Runner struct {
	cfg    Config
	runID  string
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	open    []openTask
	pending map[string]time.Time

	requestsOK     atomic.Int64
	requestsFailed atomic.Int64
	actions        atomic.Int64
	delivered      atomic.Int64
}

func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = cfg.Employees * 4
	transport.MaxIdleConnsPerHost = cfg.Employees * 4
	return &Runner{
		cfg:     cfg,
		runID:   strconv.FormatInt(time.Now().UTC().UnixNano(), 36),
		client:  &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		logger:  logger,
		pending: make(map[string]time.Time),
	}, nil
}

func (r *Runner) Stats() Stats {
	return Stats{
		RequestsOK:     r.requestsOK.Load(),
		RequestsFailed: r.requestsFailed.Load(),
		Actions:        r.actions.Load(),
		Delivered:      r.delivered.Load(),
	}
}

// Run sets up the users and generates load until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.waitReady(ctx, r.cfg.StartupWait); err != nil {
		return fmt.Errorf("gateway not ready: %w", err)
	}

	manager, err := r.setupUser(ctx, 0, "manager")
	if err != nil {
		return fmt.Errorf("setup manager: %w", err)
	}
	employees := r.setupEmployees(ctx)
	if len(employees) == 0 {
		return errors.New("failed to initialize any employees")
	}
	r.logger.Info("load generator initialized",
		"employees", len(employees), "actions_per_second", r.cfg.ActionsPerSecond)

	var wg sync.WaitGroup
	for _, e := range employees {
		wg.Add(1)
		go func(u *user) {
			defer wg.Done()
			r.pollNotifications(ctx, u)
		}(e)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.logProgress(ctx)
	}()

	r.drive(ctx, manager, employees)
	wg.Wait()

	s := r.Stats()
	r.logger.Info("load test complete",
		"requests_ok", s.RequestsOK, "requests_failed", s.RequestsFailed,
		"actions", s.Actions, "notifications_delivered", s.Delivered)
	return nil
}

func (r *Runner) setupEmployees(ctx context.Context) []*user {
	sem := make(chan struct{}, r.cfg.SetupConcurrency)
	results := make(chan *user, r.cfg.Employees)
	var wg sync.WaitGroup

	for i := 1; i <= r.cfg.Employees; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			u, err := r.setupUser(ctx, idx, "employee")
			if err != nil {
				r.logger.Warn("employee setup failed", "index", idx, "error", err)
				return
			}
			results <- u
		}(i)
	}
	wg.Wait()
	close(results)

	users := make([]*user, 0, r.cfg.Employees)
	for u := range results {
		users = append(users, u)
	}
	r.logger.Info("employee setup complete", "success", len(users), "failed", r.cfg.Employees-len(users))
	return users
}

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

func (r *Runner) setupUser(ctx context.Context, idx int, role string) (*user, error) {
	u := &user{
		Index:    idx,
		Name:     fmt.Sprintf("Load %s %d", role, idx),
		Email:    fmt.Sprintf("load-%s-%s-%04d@example.com", r.runID, role, idx),
		Role:     role,
		ClientIP: fmt.Sprintf("10.0.%d.%d", 1+(idx/250), 1+(idx%250)),
		seen:     make(map[string]struct{}),
	}

	// An existing account answers 400 and is logged into below.
	if _, err := r.requestJSON(ctx, u, "register", http.MethodPost, "/api/users/register", map[string]string{
		"name":     u.Name,
		"email":    u.Email,
		"password": r.cfg.Password,
		"role":     role,
	}, nil, http.StatusCreated, http.StatusBadRequest); err != nil {
		return nil, fmt.Errorf("register %s: %w", u.Email, err)
	}

	var auth authResponse
	if _, err := r.requestJSON(ctx, u, "login", http.MethodPost, "/api/users/login", map[string]string{
		"email":    u.Email,
		"password": r.cfg.Password,
	}, &auth, http.StatusOK); err != nil {
		return nil, fmt.Errorf("login %s: %w", u.Email, err)
	}
	if auth.Token == "" || auth.User.ID == "" {
		return nil, fmt.Errorf("empty login response for %s", u.Email)
	}
	u.Token = auth.Token
	u.ID = auth.User.ID
	u.Name = auth.User.Name
	return u, nil
}

// drive issues manager and employee actions at the configured rate.
func (r *Runner) drive(ctx context.Context, manager *user, employees []*user) {
	interval := time.Duration(float64(time.Second) / r.cfg.ActionsPerSecond)
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.actions.Add(1)
			switch r.nextAction(rng) {
			case actionCreate:
				r.createTask(ctx, manager, employees[rng.Intn(len(employees))], rng)
			case actionAdvance:
				r.advanceTask(ctx, rng)
			case actionDelete:
				r.deleteTask(ctx, manager, rng)
			}
		}
	}
}

const (
	actionCreate  = "create_task"
	actionAdvance = "advance_status"
	actionDelete  = "delete_task"
)

func (r *Runner) nextAction(rng *rand.Rand) string {
	r.mu.Lock()
	n := len(r.open)
	r.mu.Unlock()

	choice := rng.Float64()
	switch {
	case n == 0 || choice < 0.50:
		return actionCreate
	case choice < 0.85:
		return actionAdvance
	default:
		return actionDelete
	}
}

type taskResponse struct {
	Task struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"task"`
}

func (r *Runner) createTask(ctx context.Context, manager, assignee *user, rng *rand.Rand) {
	title := fmt.Sprintf("Load task %s-%d", r.runID, rng.Int63())
	started := time.Now()

	var resp taskResponse
	_, err := r.requestJSON(ctx, manager, actionCreate, http.MethodPost, "/api/tasks", map[string]string{
		"title":          title,
		"description":    "generated by load test",
		"assignedTo":     assignee.ID,
		"assignedToName": assignee.Name,
		"priority":       []string{"low", "medium", "high"}[rng.Intn(3)],
	}, &resp, http.StatusCreated)
	if err != nil || resp.Task.ID == "" {
		r.recordAction(ctx, actionCreate, err)
		return
	}

	r.mu.Lock()
	r.open = append(r.open, openTask{ID: resp.Task.ID, Title: title, Assignee: assignee, Status: resp.Task.Status})
	r.pending[pendingKey(resp.Task.ID, "task_assigned")] = started
	r.mu.Unlock()
	r.recordAction(ctx, actionCreate, nil)
}

// advanceTask has the assignee move a random open task one status forward.
func (r *Runner) advanceTask(ctx context.Context, rng *rand.Rand) {
	r.mu.Lock()
	if len(r.open) == 0 {
		r.mu.Unlock()
		return
	}
	idx := rng.Intn(len(r.open))
	t := r.open[idx]
	next := nextStatus(t.Status)
	r.pending[pendingKey(t.ID, "task_updated")] = time.Now()
	r.mu.Unlock()

	_, err := r.requestJSON(ctx, t.Assignee, actionAdvance, http.MethodPut, "/api/tasks/"+t.ID,
		map[string]string{"status": next}, nil, http.StatusOK)
	if err == nil {
		r.mu.Lock()
		for i := range r.open {
			if r.open[i].ID == t.ID {
				r.open[i].Status = next
			}
		}
		r.mu.Unlock()
	}
	r.recordAction(ctx, actionAdvance, err)
}

func (r *Runner) deleteTask(ctx context.Context, manager *user, rng *rand.Rand) {
	r.mu.Lock()
	if len(r.open) == 0 {
		r.mu.Unlock()
		return
	}
	idx := rng.Intn(len(r.open))
	t := r.open[idx]
	r.open[idx] = r.open[len(r.open)-1]
	r.open = r.open[:len(r.open)-1]
	r.pending[pendingKey(t.ID, "task_deleted")] = time.Now()
	r.mu.Unlock()

	_, err := r.requestJSON(ctx, manager, actionDelete, http.MethodDelete, "/api/tasks/"+t.ID, nil, nil, http.StatusOK)
	r.recordAction(ctx, actionDelete, err)
}

func (r *Runner) recordAction(ctx context.Context, action string, err error) {
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("action failed", "action", action, "error", err)
		}
		actionsTotal.WithLabelValues(action, "error").Inc()
		return
	}
	actionsTotal.WithLabelValues(action, "success").Inc()
}

func nextStatus(current string) string {
	switch current {
	case "pending":
		return "in_progress"
	case "in_progress":
		return "completed"
	default:
		return "pending"
	}
}

func pendingKey(taskID, kind string) string {
	return taskID + "/" + kind
}

type notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	TaskID    string    `json:"taskId"`
	CreatedAt time.Time `json:"createdAt"`
}

// pollNotifications lists u's notifications on every tick and observes the
// delivery lag of each one not seen before.
func (r *Runner) pollNotifications(ctx context.Context, u *user) {
	pollingUsers.Inc()
	defer pollingUsers.Dec()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var list []notification
		if _, err := r.requestJSON(ctx, u, "list_notifications", http.MethodGet, "/api/notifications/"+u.ID, nil, &list, http.StatusOK); err != nil {
			continue
		}
		for _, n := range list {
			if _, ok := u.seen[n.ID]; ok {
				continue
			}
			u.seen[n.ID] = struct{}{}
			r.delivered.Add(1)
			r.observeDelivery(n)
		}
	}
}

func (r *Runner) observeDelivery(n notification) {
	key := pendingKey(n.TaskID, n.Type)
	r.mu.Lock()
	started, ok := r.pending[key]
	delete(r.pending, key)
	r.mu.Unlock()
	if !ok || n.CreatedAt.IsZero() {
		return
	}
	lag := n.CreatedAt.Sub(started)
	if lag < 0 {
		lag = 0
	}
	deliveryLag.WithLabelValues(n.Type).Observe(lag.Seconds())
}

func (r *Runner) logProgress(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := r.Stats()
			r.logger.Info("progress",
				"requests_ok", s.RequestsOK, "requests_failed", s.RequestsFailed,
				"actions", s.Actions, "notifications_delivered", s.Delivered)
		}
	}
}
