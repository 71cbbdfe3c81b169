package notifications

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tasknotify/project/internal/platform/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Migrations() migrate.Set {
	return migrate.Set{FS: migrations, Dir: "migrations", Table: "notifications_schema_version"}
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var notificationColumns = []string{
	"id", "user_id", "message", "type", "read", "task_id", "metadata",
	"source_event_id", "created_at", "updated_at",
}

type Repository interface {
	Insert(ctx context.Context, n Notification) error
	// ListByUser returns the user's notifications newest first.
	ListByUser(ctx context.Context, userID string) ([]Notification, error)
	MarkRead(ctx context.Context, id string) (Notification, error)
	// MarkAllRead flips every unread notification of userID in one statement
	// and returns how many rows changed.
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func scanNotification(row pgx.Row) (Notification, error) {
	var (
		n        Notification
		metadata []byte
	)
	err := row.Scan(
		&n.ID, &n.UserID, &n.Message, &n.Type, &n.Read, &n.TaskID, &metadata,
		&n.SourceEventID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotFound
		}
		return Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	n.Metadata = metadata
	return n, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, n Notification) error {
	var metadata any
	if len(n.Metadata) > 0 {
		metadata = []byte(n.Metadata)
	}
	query, args, err := psql.
		Insert("notifications").
		Columns(notificationColumns...).
		Values(
			n.ID, n.UserID, n.Message, n.Type, n.Read, n.TaskID, metadata,
			n.SourceEventID, n.CreatedAt, n.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert notification: %w", err)
	}
	if _, err := r.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Notification, error) {
	query, args, err := psql.
		Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list notifications: %w", err)
	}

	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) MarkRead(ctx context.Context, id string) (Notification, error) {
	query, args, err := psql.
		Update("notifications").
		Set("read", true).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(notificationColumns, ", ")).
		ToSql()
	if err != nil {
		return Notification{}, fmt.Errorf("build mark read: %w", err)
	}
	return scanNotification(r.Pool.QueryRow(ctx, query, args...))
}

func (r *PostgresRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE notifications
		SET read = true, updated_at = now()
		WHERE user_id = $1 AND NOT read
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.Pool.QueryRow(ctx,
		`SELECT count(*) FROM notifications WHERE user_id = $1 AND NOT read`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
