package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tasknotify/project/internal/contracts"
)

type Service struct {
	Repo  Repository
	NewID func() string
	Now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		Repo:  repo,
		NewID: uuid.NewString,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// Record turns a consumed event into a notification for its target user and
// stores it. raw is kept verbatim as the notification metadata.
func (s *Service) Record(ctx context.Context, e contracts.LifecycleEvent, raw []byte) (Notification, error) {
	msg, err := Render(e)
	if err != nil {
		return Notification{}, err
	}
	now := s.Now()
	n := Notification{
		ID:            s.NewID(),
		UserID:        e.AssignedTo,
		Message:       msg,
		Type:          e.Type,
		TaskID:        e.TaskID,
		Metadata:      raw,
		SourceEventID: e.EventID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Repo.Insert(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("store notification: %w", err)
	}
	return n, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	return s.Repo.ListByUser(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, id string) (Notification, error) {
	return s.Repo.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.Repo.MarkAllRead(ctx, userID)
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.Repo.CountUnread(ctx, userID)
}
