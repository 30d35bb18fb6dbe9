package store

import (
	"context"
	"time"
)

// Message is a persisted conversation message as the backend reports it.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	Status         string // sent, delivered, read
	CreatedAt      time.Time
}

// Message status values as persisted by the backend.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// SendRequest is the payload for persisting an outgoing message.
type SendRequest struct {
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
}

// SendResult is the backend acknowledgment for a persisted message.
type SendResult struct {
	ServerID  string
	CreatedAt time.Time
}

// Notification is a persisted marketplace notification.
type Notification struct {
	ID        string
	Type      string
	Title     string
	Content   string
	RelatedID string
	IsRead    bool
	CreatedAt time.Time
}

// NotificationFilter narrows FetchNotifications results.
type NotificationFilter struct {
	UserID     string
	Type       string
	UnreadOnly bool
	Limit      int
}

// Service is the persistence backend consumed by the real-time core.
// The core never caches backend state beyond the session; every method
// is an authoritative round trip.
type Service interface {
	FetchConversation(ctx context.Context, conversationID string) ([]Message, error)
	SendMessage(ctx context.Context, req SendRequest) (SendResult, error)
	MarkDelivered(ctx context.Context, conversationID string, messageIDs []string) error
	MarkRead(ctx context.Context, conversationID string, messageIDs []string) error
	FetchNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
}
