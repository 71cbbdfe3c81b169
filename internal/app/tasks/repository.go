package tasks

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasknotify/project/internal/platform/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Migrations() migrate.Set {
	return migrate.Set{FS: migrations, Dir: "migrations", Table: "tasks_schema_version"}
}

// psql is the shared statement builder configured for dollar placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var taskColumns = []string{
	"id", "title", "description", "assigned_to", "assigned_to_name",
	"assigned_by", "assigned_by_name", "status", "priority", "due_date",
	"created_at", "updated_at",
}

type ListFilter struct {
	// AssignedTo restricts results to one assignee when set.
	AssignedTo string
}

// MutateFunc edits a locked task in place and returns the event that records
// the change. Returning an error aborts the update.
type MutateFunc func(t *Task) (OutboxEvent, error)

type Repository interface {
	// Create stores the task and its creation event atomically.
	Create(ctx context.Context, task Task, event OutboxEvent) error
	Get(ctx context.Context, id string) (Task, error)
	List(ctx context.Context, filter ListFilter) ([]Task, error)
	// Update locks the task row, applies mutate and stores the result together
	// with the returned event.
	Update(ctx context.Context, id string, mutate MutateFunc) (Task, error)
	RecordEvent(ctx context.Context, event OutboxEvent) error
	Delete(ctx context.Context, id string) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.AssignedTo,
		&t.AssignedToName,
		&t.AssignedBy,
		&t.AssignedByName,
		&t.Status,
		&t.Priority,
		&t.DueDate,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Create(ctx context.Context, task Task, event OutboxEvent) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query, args, err := psql.
		Insert("tasks").
		Columns(taskColumns...).
		Values(
			task.ID, task.Title, task.Description, task.AssignedTo, task.AssignedToName,
			task.AssignedBy, task.AssignedByName, task.Status, task.Priority, task.DueDate,
			task.CreatedAt, task.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert task: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := insertOutbox(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Task, error) {
	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Task{}, fmt.Errorf("build get task: %w", err)
	}
	return scanTask(r.Pool.QueryRow(ctx, query, args...))
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Task, error) {
	qb := psql.
		Select(taskColumns...).
		From("tasks").
		OrderBy("created_at DESC", "id")
	if filter.AssignedTo != "" {
		qb = qb.Where(sq.Eq{"assigned_to": filter.AssignedTo})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks: %w", err)
	}

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id string, mutate MutateFunc) (Task, error) {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback(ctx)

	query, args, err := psql.
		Select(taskColumns...).
		From("tasks").
		Where(sq.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return Task{}, fmt.Errorf("build lock task: %w", err)
	}
	task, err := scanTask(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return Task{}, err
	}

	event, err := mutate(&task)
	if err != nil {
		return Task{}, err
	}

	query, args, err = psql.
		Update("tasks").
		SetMap(map[string]any{
			"title":            task.Title,
			"description":      task.Description,
			"assigned_to":      task.AssignedTo,
			"assigned_to_name": task.AssignedToName,
			"status":           task.Status,
			"priority":         task.Priority,
			"due_date":         task.DueDate,
			"updated_at":       task.UpdatedAt,
		}).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(taskColumns, ", ")).
		ToSql()
	if err != nil {
		return Task{}, fmt.Errorf("build update task: %w", err)
	}
	updated, err := scanTask(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return Task{}, err
	}
	if err := insertOutbox(ctx, tx, event); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Task{}, err
	}
	return updated, nil
}

func (r *PostgresRepository) RecordEvent(ctx context.Context, event OutboxEvent) error {
	return insertOutbox(ctx, r.Pool, event)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete("tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete task: %w", err)
	}
	res, err := r.Pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func insertOutbox(ctx context.Context, db dbtx, e OutboxEvent) error {
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	query, args, err := psql.
		Insert("task_outbox").
		Columns("event_id", "kind", "subject", "payload", "status", "attempts", "next_retry_at", "locked_at", "locked_by", "created_at", "updated_at").
		Values(e.EventID, e.Kind, e.Subject, e.Payload, e.Status, e.Attempts, e.NextRetryAt, e.LockedAt, e.LockedBy, e.CreatedAt, e.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert outbox: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
