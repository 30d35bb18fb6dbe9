package core

import "time"

// DeliveryStatus is the lifecycle stage of a message. The ordering of
// the constants is meaningful: transitions only ever move to a higher
// value, except Failed which is terminal.
type DeliveryStatus int

const (
	// StatusPending marks an optimistic local entry awaiting the backend ack.
	StatusPending DeliveryStatus = iota
	// StatusSent marks a message acknowledged by the backend.
	StatusSent
	// StatusDelivered marks a message observed by the recipient client.
	StatusDelivered
	// StatusRead marks a message the recipient explicitly read.
	StatusRead
	// StatusFailed marks a send that did not reach the backend. Terminal.
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is the domain model for a conversation message.
// LocalID survives server reconciliation so optimistic UI entries can
// be matched to their authoritative counterpart.
type Message struct {
	ID             string
	LocalID        string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	Status         DeliveryStatus
	CreatedAt      time.Time
}
