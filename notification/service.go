package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo        Repository
	idGenerator func() string
}

func NewService(repo Repository) *Service {
	return &Service{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Notify stores an in-app notification for userID.
func (s *Service) Notify(ctx context.Context, userID, kind, title, message, link string) error {
	if userID == "" {
		return fmt.Errorf("notification: missing recipient")
	}
	_, err := s.repo.Create(ctx, Notification{
		ID:      s.idGenerator(),
		UserID:  userID,
		Type:    kind,
		Title:   title,
		Message: message,
		Link:    link,
	})
	return err
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	return s.repo.List(ctx, Filter{UserID: userID, UnreadOnly: unreadOnly})
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead marks one notification read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return ErrForbidden
	}
	if n.Read {
		return nil
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
