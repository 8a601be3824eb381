package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/tiritolabs/tirito/internal/market"
)

type recordingPublisher struct {
	pushes []market.UserID
	err    error
}

func (p *recordingPublisher) PushToUser(userID market.UserID, event string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.pushes = append(p.pushes, userID)
	return nil
}

type failingStore struct {
	market.NotificationStore
}

func (failingStore) CreateNotification(context.Context, market.Notification) error {
	return errors.New("disk on fire")
}

func TestDispatchPersistsThenPushes(t *testing.T) {
	store := market.NewInMemoryStore()
	pub := &recordingPublisher{}
	d := NewDispatcher(store, pub, nil)

	n, err := d.Dispatch(context.Background(), market.Notification{
		UserID: "alice",
		Type:   market.NotifTaskRequest,
		Title:  "Nueva solicitud",
	})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if n.ID == "" || n.CreatedAt.IsZero() {
		t.Fatalf("notification = %+v, want id and timestamp assigned", n)
	}
	if n.Read {
		t.Fatalf("notification dispatched already read")
	}

	items, _, unread, err := d.List(context.Background(), "alice", false, 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 1 || unread != 1 {
		t.Fatalf("items = %d unread = %d, want 1 and 1", len(items), unread)
	}
	if len(pub.pushes) != 1 || pub.pushes[0] != "alice" {
		t.Fatalf("pushes = %v, want one push to alice", pub.pushes)
	}
}

func TestDispatchSwallowsPushFailure(t *testing.T) {
	store := market.NewInMemoryStore()
	pub := &recordingPublisher{err: errors.New("no live connections")}
	d := NewDispatcher(store, pub, nil)

	if _, err := d.Dispatch(context.Background(), market.Notification{
		UserID: "alice",
		Type:   market.NotifChatMessage,
		Title:  "Nuevo mensaje",
	}); err != nil {
		t.Fatalf("Dispatch() error = %v, want push failure swallowed", err)
	}

	// The durable copy is still there.
	unread, err := d.UnreadCount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if unread != 1 {
		t.Fatalf("unread = %d, want 1", unread)
	}
}

func TestDispatchFailsWhenPersistFails(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(failingStore{}, pub, nil)

	if _, err := d.Dispatch(context.Background(), market.Notification{
		UserID: "alice",
		Type:   market.NotifTaskRequest,
	}); err == nil {
		t.Fatalf("Dispatch() error = nil, want store failure")
	}
	if len(pub.pushes) != 0 {
		t.Fatalf("pushes = %v, want none after persist failure", pub.pushes)
	}
}

func TestDispatchWithoutPublisher(t *testing.T) {
	store := market.NewInMemoryStore()
	d := NewDispatcher(store, nil, nil)

	if _, err := d.Dispatch(context.Background(), market.Notification{
		UserID: "alice",
		Type:   market.NotifRatingRequest,
	}); err != nil {
		t.Fatalf("Dispatch() error = %v, want durable-only success", err)
	}
}
