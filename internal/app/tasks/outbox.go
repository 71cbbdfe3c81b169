package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/tasknotify/project/internal/platform/config"
	"github.com/tasknotify/project/internal/platform/metrics"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusSending   = "sending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusDead      = "dead"

	maxRetryDelay = 5 * time.Minute
)

// OutboxEvent is a lifecycle event waiting in the task store to be published.
type OutboxEvent struct {
	EventID     string
	Kind        string
	Subject     string
	Payload     []byte
	Status      string
	Attempts    int
	NextRetryAt *time.Time
	LockedAt    *time.Time
	LockedBy    *string
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

type OutboxStore interface {
	// ClaimDue marks up to limit due rows as sending and returns them. Rows
	// left in sending for longer than lease are treated as due again.
	ClaimDue(ctx context.Context, owner string, limit int, lease time.Duration) ([]OutboxEvent, error)
	MarkDelivered(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error
}

type Publisher interface {
	Publish(ctx context.Context, subject, msgID string, payload []byte) error
}

// Dispatcher forwards outbox rows to the broker. The request path hands it
// freshly committed events through Deliver; Run drains whatever is left.
type Dispatcher struct {
	Outbox      OutboxStore
	Publisher   Publisher
	Logger      *slog.Logger
	Owner       string
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	Now         func() time.Time
}

func NewDispatcher(outbox OutboxStore, publisher Publisher, logger *slog.Logger, owner string, cfg config.Outbox) *Dispatcher {
	return &Dispatcher{
		Outbox:      outbox,
		Publisher:   publisher,
		Logger:      logger,
		Owner:       owner,
		Interval:    cfg.PollInterval,
		BatchSize:   cfg.BatchSize,
		MaxAttempts: cfg.MaxAttempts,
		Lease:       cfg.Lease,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
				d.Logger.ErrorContext(ctx, "outbox pass failed", "error", err)
			}
		}
	}
}

// DispatchOnce claims one batch and tries to publish each row. It returns the
// number of rows delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	events, err := d.Outbox.ClaimDue(ctx, d.Owner, d.BatchSize, d.Lease)
	if err != nil {
		return 0, err
	}
	metrics.SetOutboxClaimed(len(events))

	delivered := 0
	for _, e := range events {
		if err := d.Deliver(ctx, e); err == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Deliver publishes one claimed event and records the outcome.
func (d *Dispatcher) Deliver(ctx context.Context, e OutboxEvent) error {
	pubErr := d.Publisher.Publish(ctx, e.Subject, e.EventID, e.Payload)
	if pubErr == nil {
		metrics.IncEventPublished(e.Kind, metrics.ResultOK)
		if err := d.Outbox.MarkDelivered(ctx, e.EventID); err != nil {
			d.Logger.ErrorContext(ctx, "outbox mark delivered failed", "event_id", e.EventID, "error", err)
			return err
		}
		return nil
	}

	attempts := e.Attempts + 1
	dead := attempts >= d.MaxAttempts
	next := d.Now().Add(retryDelay(attempts))
	result := metrics.ResultRetry
	if dead {
		result = metrics.ResultDead
	}
	metrics.IncEventPublished(e.Kind, result)
	d.Logger.WarnContext(ctx, "event publish failed",
		"event_id", e.EventID,
		"kind", e.Kind,
		"attempts", attempts,
		"dead", dead,
		"error", pubErr,
	)
	if err := d.Outbox.MarkFailed(ctx, e.EventID, attempts, &next, pubErr.Error(), dead); err != nil {
		d.Logger.ErrorContext(ctx, "outbox mark failed failed", "event_id", e.EventID, "error", err)
	}
	return pubErr
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func (r *PostgresRepository) ClaimDue(ctx context.Context, owner string, limit int, lease time.Duration) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx, `
		WITH candidates AS (
			SELECT event_id
			FROM task_outbox
			WHERE (status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now()))
			   OR (status = $2 AND locked_at < now() - make_interval(secs => $3))
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		UPDATE task_outbox o
		SET status = $2, locked_at = now(), locked_by = $5, updated_at = now()
		FROM candidates c
		WHERE o.event_id = c.event_id
		RETURNING o.event_id, o.kind, o.subject, o.payload, o.status, o.attempts,
			o.next_retry_at, o.locked_at, o.locked_by, o.last_error, o.created_at, o.updated_at, o.published_at
	`, OutboxStatusPending, OutboxStatusSending, lease.Seconds(), limit, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]OutboxEvent, 0, limit)
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(
			&e.EventID, &e.Kind, &e.Subject, &e.Payload, &e.Status, &e.Attempts,
			&e.NextRetryAt, &e.LockedAt, &e.LockedBy, &e.LastError, &e.CreatedAt, &e.UpdatedAt, &e.PublishedAt,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) MarkDelivered(ctx context.Context, eventID string) error {
	_, err := r.Pool.Exec(ctx, `
		UPDATE task_outbox
		SET status = $2, published_at = now(), locked_at = NULL, updated_at = now()
		WHERE event_id = $1
	`, eventID, OutboxStatusDelivered)
	return err
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, eventID string, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := OutboxStatusPending
	if dead {
		status = OutboxStatusDead
		nextRetryAt = nil
	}
	_, err := r.Pool.Exec(ctx, `
		UPDATE task_outbox
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, locked_at = NULL, updated_at = now()
		WHERE event_id = $1
	`, eventID, status, attempts, nextRetryAt, lastErr)
	return err
}
