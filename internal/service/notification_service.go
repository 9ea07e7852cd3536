package service

import (
	"context"
	"fmt"

	"github.com/amadeodlp/cryptara/internal/domain"
)

const defaultNotificationLimit = 50

// NotificationService serves the in-app notification inbox.
type NotificationService struct {
	store domain.NotificationStore
}

// NewNotificationService creates a NotificationService.
func NewNotificationService(store domain.NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

// List returns the newest notifications of a user.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	ns, err := s.store.ListByUser(ctx, userID, defaultNotificationLimit, unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("notification_service: list: %w", err)
	}
	return ns, nil
}

// MarkRead marks one notification of the user as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.store.MarkRead(ctx, id, userID); err != nil {
		return fmt.Errorf("notification_service: mark read %s: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every unread notification of the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("notification_service: mark all read: %w", err)
	}
	return n, nil
}
