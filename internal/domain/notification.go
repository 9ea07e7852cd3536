package domain

import (
	"context"
	"time"
)

// Notification is an in-app message addressed to one user.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Read      bool
	CreatedAt time.Time
}

// Notifier delivers best-effort messages to a user. Send must not block on
// delivery and has no failure result.
type Notifier interface {
	Send(ctx context.Context, userID, title, message string)
}

// NotificationsChannel carries Notification payloads to websocket clients.
const NotificationsChannel = "notifications"
