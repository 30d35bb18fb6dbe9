package proto

import (
	"encoding/json"
	"time"
)

const ProtocolVersion = 1

// Frame types flowing from the client to the gateway.
const (
	FrameHello       = "hello"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePublish     = "publish"
)

// Frame types flowing from the gateway to the client.
const (
	FrameEvent = "event"
	FrameError = "error"
	FrameReady = "ready"
)

// Event types carried inside an event frame.
const (
	EventNewMessage       = "new_message"
	EventDeliveredReceipt = "delivered_receipt"
	EventReadReceipt      = "read_receipt"
	EventTypingIndicator  = "typing_indicator"
	EventPresence         = "presence"
	EventNotification     = "notification"
)

// Frame is the envelope for every message on the push channel.
type Frame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// HelloData introduces the client and authenticates the connection.
type HelloData struct {
	Token    string `json:"token"`
	Protocol int    `json:"protocol,omitempty"`
}

// ReadyData confirms the handshake and echoes the authenticated user.
type ReadyData struct {
	UserID string `json:"user_id"`
}

// NewMessageData announces a message added to a conversation.
type NewMessageData struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	RecipientID    string    `json:"recipient_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeliveredReceiptData acknowledges that the recipient client observed messages.
type DeliveredReceiptData struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	UserID         string   `json:"user_id"`
}

// ReadReceiptData acknowledges that the recipient read messages.
type ReadReceiptData struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
	UserID         string   `json:"user_id"`
}

// TypingData signals composing activity from a peer.
type TypingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// PresenceData signals a peer going online or offline.
type PresenceData struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// NotificationData delivers a marketplace notification event.
type NotificationData struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	RelatedID string    `json:"related_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// ConversationTopic names the per-conversation subscription topic.
func ConversationTopic(conversationID string) string {
	return "conv:" + conversationID
}

// UserTopic names the per-user subscription topic carrying
// notifications and presence updates.
func UserTopic(userID string) string {
	return "user:" + userID
}
