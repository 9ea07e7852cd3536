// Package notify delivers user notifications. A Dispatcher accepts messages
// without blocking, stores them in the in-app inbox, pushes them to
// websocket clients and forwards them to operator channels (Telegram,
// Discord).
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/amadeodlp/cryptara/internal/domain"
	"github.com/amadeodlp/cryptara/internal/metrics"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 10 * time.Second
)

// Sender is an external notification channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns an identifier for logs, e.g. "telegram".
	Name() string
}

// Message is one queued notification.
type Message struct {
	UserID string
	Title  string
	Body   string
	At     time.Time
}

// Dispatcher implements domain.Notifier on a bounded queue drained by Run.
// When the queue is full new messages are dropped and logged.
type Dispatcher struct {
	store   domain.NotificationStore
	bus     domain.SignalBus
	senders []Sender
	events  map[string]bool // forwarded titles, lower-cased; empty = all
	queue   chan Message
	timeout time.Duration
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. bus may be nil. Only messages whose
// title appears in events are forwarded to senders; an empty list forwards
// everything. The in-app inbox always receives every message.
func NewDispatcher(
	store domain.NotificationStore,
	bus domain.SignalBus,
	senders []Sender,
	events []string,
	queueSize int,
	logger *slog.Logger,
) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[e] = true
		}
	}
	return &Dispatcher{
		store:   store,
		bus:     bus,
		senders: senders,
		events:  allowed,
		queue:   make(chan Message, queueSize),
		timeout: defaultSendTimeout,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Send enqueues a message and returns immediately.
func (d *Dispatcher) Send(ctx context.Context, userID, title, message string) {
	m := Message{UserID: userID, Title: title, Body: message, At: time.Now().UTC()}
	select {
	case d.queue <- m:
	default:
		metrics.RecordNotification("dropped")
		d.logger.WarnContext(ctx, "notify: queue full, message dropped",
			slog.String("user_id", userID),
			slog.String("title", title),
		)
	}
}

// Run delivers queued messages until ctx is cancelled, then drains whatever
// is already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case m := <-d.queue:
			d.deliver(ctx, m)
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for {
		select {
		case m := <-d.queue:
			d.deliver(ctx, m)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	n := domain.Notification{UserID: m.UserID, Title: m.Title, Message: m.Body, CreatedAt: m.At}
	id, err := d.store.Create(ctx, n)
	if err != nil {
		metrics.RecordNotification("failed")
		d.logger.ErrorContext(ctx, "notify: store notification failed",
			slog.String("user_id", m.UserID),
			slog.String("error", err.Error()),
		)
	} else {
		n.ID = id
		metrics.RecordNotification("sent")
		d.push(ctx, n)
	}

	if len(d.events) > 0 && !d.events[strings.ToLower(m.Title)] {
		return
	}
	body := m.Body + "\nuser: " + m.UserID
	for _, s := range d.senders {
		if err := s.Send(ctx, m.Title, body); err != nil {
			d.logger.WarnContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.logger.DebugContext(ctx, "notify: forwarded",
			slog.String("sender", s.Name()),
			slog.String("title", m.Title),
		)
	}
}

func (d *Dispatcher) push(ctx context.Context, n domain.Notification) {
	if d.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"event":      "notification",
		"id":         n.ID,
		"user_id":    n.UserID,
		"title":      n.Title,
		"message":    n.Message,
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	})
	if err := d.bus.Publish(ctx, domain.NotificationsChannel, payload); err != nil {
		d.logger.WarnContext(ctx, "notify: publish failed", slog.String("error", err.Error()))
	}
}

var _ domain.Notifier = (*Dispatcher)(nil)
