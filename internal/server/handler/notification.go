package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/amadeodlp/cryptara/internal/domain"
)

// NotificationService defines the methods that the notification handler
// requires.
type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// NotificationHandler serves the in-app notification inbox.
type NotificationHandler struct {
	notifications NotificationService
	logger        *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(notifications NotificationService, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logHandler(logger, "notifications"),
	}
}

// List returns the caller's newest notifications.
// GET /api/notifications?unread=true
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	ns, err := h.notifications.List(r.Context(), userID, unreadOnly)
	if err != nil {
		writeDomainError(w, r, h.logger, "list notifications", err)
		return
	}

	views := make([]notificationView, 0, len(ns))
	for _, n := range ns {
		views = append(views, notificationView{
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": views})
}

// MarkRead marks one notification as read.
// POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")

	if err := h.notifications.MarkRead(r.Context(), userID, id); err != nil {
		writeDomainError(w, r, h.logger, "mark notification read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "read"})
}

// MarkAllRead marks every unread notification of the caller as read.
// POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	n, err := h.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeDomainError(w, r, h.logger, "mark all notifications read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}
