package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/motormarket/realtime/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSendAndFetchOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"first", "second", "third"} {
		_, err := s.SendMessage(ctx, store.SendRequest{
			ConversationID: "c1",
			SenderID:       "alice",
			RecipientID:    "bob",
			Content:        content,
		})
		if err != nil {
			t.Fatalf("send %q: %v", content, err)
		}
	}

	msgs, err := s.FetchConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("message %d content = %q, want %q", i, msgs[i].Content, want)
		}
		if msgs[i].Status != store.StatusSent {
			t.Errorf("message %d status = %q, want %q", i, msgs[i].Status, store.StatusSent)
		}
	}
}

func TestStatusAdvancesMonotonically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.SendMessage(ctx, store.SendRequest{
		ConversationID: "c1", SenderID: "alice", RecipientID: "bob", Content: "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	ids := []string{res.ServerID}

	if err := s.MarkRead(ctx, "c1", ids); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// Delivered after read must not regress the row.
	if err := s.MarkDelivered(ctx, "c1", ids); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	msgs, err := s.FetchConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if msgs[0].Status != store.StatusRead {
		t.Fatalf("status = %q, want %q", msgs[0].Status, store.StatusRead)
	}

	// Repeat read is a no-op, not an error.
	if err := s.MarkRead(ctx, "c1", ids); err != nil {
		t.Fatalf("repeat mark read: %v", err)
	}
}

func TestMarkDeliveredSkipsOtherConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.SendMessage(ctx, store.SendRequest{
		ConversationID: "c1", SenderID: "alice", RecipientID: "bob", Content: "hi",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := s.MarkDelivered(ctx, "c2", []string{res.ServerID}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}

	msgs, _ := s.FetchConversation(ctx, "c1")
	if msgs[0].Status != store.StatusSent {
		t.Fatalf("status = %q, want %q", msgs[0].Status, store.StatusSent)
	}
}

func TestNotificationsFilterAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seed := []store.Notification{
		{ID: "n1", Type: "offer", Title: "Offer received", Content: "2000 below asking", CreatedAt: base},
		{ID: "n2", Type: "price_drop", Title: "Price drop", Content: "saved listing dropped", CreatedAt: base.Add(time.Second)},
		{ID: "n3", Type: "offer", Title: "Offer received", Content: "full asking price", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, n := range seed {
		if err := s.InsertNotification(ctx, "bob", n); err != nil {
			t.Fatalf("insert %s: %v", n.ID, err)
		}
	}

	offers, err := s.FetchNotifications(ctx, store.NotificationFilter{UserID: "bob", Type: "offer"})
	if err != nil {
		t.Fatalf("fetch offers: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if offers[0].ID != "n3" {
		t.Errorf("expected newest first, got %s", offers[0].ID)
	}

	if err := s.MarkNotificationsRead(ctx, "bob", []string{"n1", "n3"}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	unread, err := s.FetchNotifications(ctx, store.NotificationFilter{UserID: "bob", UnreadOnly: true})
	if err != nil {
		t.Fatalf("fetch unread: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != "n2" {
		t.Fatalf("expected only n2 unread, got %v", unread)
	}

	limited, err := s.FetchNotifications(ctx, store.NotificationFilter{UserID: "bob", Limit: 1})
	if err != nil {
		t.Fatalf("fetch limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(limited))
	}
}
