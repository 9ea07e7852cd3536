package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/amadeodlp/cryptara/internal/domain"
)

type notificationStore struct {
	s *Store
}

func (n *notificationStore) Create(_ context.Context, note domain.Notification) (string, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.s.now().UTC()
	}
	n.s.notifications = append(n.s.notifications, note)
	return note.ID, nil
}

func (n *notificationStore) ListByUser(_ context.Context, userID string, limit int, unreadOnly bool) ([]domain.Notification, error) {
	n.s.mu.RLock()
	defer n.s.mu.RUnlock()

	var out []domain.Notification
	for i := len(n.s.notifications) - 1; i >= 0; i-- {
		note := n.s.notifications[i]
		if note.UserID != userID || (unreadOnly && note.Read) {
			continue
		}
		out = append(out, note)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (n *notificationStore) MarkRead(_ context.Context, id, userID string) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	for i := range n.s.notifications {
		if n.s.notifications[i].ID == id && n.s.notifications[i].UserID == userID {
			n.s.notifications[i].Read = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (n *notificationStore) MarkAllRead(_ context.Context, userID string) (int64, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var count int64
	for i := range n.s.notifications {
		if n.s.notifications[i].UserID == userID && !n.s.notifications[i].Read {
			n.s.notifications[i].Read = true
			count++
		}
	}
	return count, nil
}

var _ domain.NotificationStore = (*notificationStore)(nil)
