// Package notify turns state-transition events into durable notifications
// plus a best-effort realtime push. The durable write commits before any push
// is attempted; push failures are counted and logged, never surfaced.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/observability"
)

// Publisher pushes a payload to every live connection of one user.
// Fire-and-forget: no delivery guarantee, and the dispatcher never awaits
// delivery.
type Publisher interface {
	PushToUser(userID market.UserID, event string, payload any) error
}

// EventNotification is the websocket event name carrying a Notification.
const EventNotification = "notification"

type Dispatcher struct {
	store     market.NotificationStore
	publisher Publisher
	metrics   *observability.Metrics
}

// NewDispatcher wires the dispatcher. publisher may be nil, in which case
// notifications are durable-only.
func NewDispatcher(store market.NotificationStore, publisher Publisher, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{store: store, publisher: publisher, metrics: metrics}
}

// Dispatch persists n and then attempts the realtime push. The persist error
// is the only error ever returned: a failed push is converted into a metric.
func (d *Dispatcher) Dispatch(ctx context.Context, n market.Notification) (market.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Read = false

	if err := d.store.CreateNotification(ctx, n); err != nil {
		return market.Notification{}, err
	}
	if d.metrics != nil {
		d.metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	}

	if d.publisher != nil {
		if err := d.publisher.PushToUser(n.UserID, EventNotification, n); err != nil {
			if d.metrics != nil {
				d.metrics.NotificationsDropped.Inc()
			}
			log.Printf("notification push to %s failed: %v", n.UserID, err)
		} else if d.metrics != nil {
			d.metrics.NotificationsPushed.Inc()
		}
	}
	return n, nil
}

// List returns a page of the recipient's notifications plus the total for the
// query and the unread count.
func (d *Dispatcher) List(ctx context.Context, user market.UserID, unreadOnly bool, limit, skip int) ([]market.Notification, int, int, error) {
	return d.store.ListNotifications(ctx, user, unreadOnly, limit, skip)
}

func (d *Dispatcher) UnreadCount(ctx context.Context, user market.UserID) (int, error) {
	return d.store.CountUnreadNotifications(ctx, user)
}

func (d *Dispatcher) MarkRead(ctx context.Context, user market.UserID, id string) (market.Notification, error) {
	return d.store.MarkNotificationRead(ctx, user, id)
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, user market.UserID) error {
	return d.store.MarkAllNotificationsRead(ctx, user)
}

func (d *Dispatcher) Delete(ctx context.Context, user market.UserID, id string) error {
	return d.store.DeleteNotification(ctx, user, id)
}
