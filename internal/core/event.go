package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/motormarket/realtime/internal/proto"
)

// EventKind identifies a decoded push-channel event.
type EventKind int

const (
	// EventMessageReceived carries a message added to a conversation.
	EventMessageReceived EventKind = iota
	// EventDeliveredReceipt reports messages observed by the recipient client.
	EventDeliveredReceipt
	// EventReadReceipt reports messages the recipient read.
	EventReadReceipt
	// EventTypingSignal reports a peer starting or stopping composition.
	EventTypingSignal
	// EventPresenceSignal reports a peer going online or offline.
	EventPresenceSignal
	// EventNotificationReceived carries a marketplace notification.
	EventNotificationReceived
)

// Event is the closed union of everything the push channel can deliver.
// Exactly the fields for the given Kind are populated.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        Message
	MessageIDs     []string
	UserID         string
	Typing         bool
	Online         bool
	LastSeen       time.Time
	Notification   Notification
}

// DecodeFrame turns a wire frame into a typed event. Unknown event
// types and malformed payloads yield a validation error; the router
// logs and drops them.
func DecodeFrame(f proto.Frame) (Event, error) {
	if f.Type != proto.FrameEvent {
		return Event{}, validationError(fmt.Sprintf("unexpected frame type %q", f.Type))
	}

	switch f.Event {
	case proto.EventNewMessage:
		var d proto.NewMessageData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed new_message payload")
		}
		if d.ID == "" || d.ConversationID == "" {
			return Event{}, validationError("new_message missing id or conversation")
		}
		return Event{
			Kind:           EventMessageReceived,
			ConversationID: d.ConversationID,
			Message: Message{
				ID:             d.ID,
				ConversationID: d.ConversationID,
				SenderID:       d.SenderID,
				RecipientID:    d.RecipientID,
				Content:        d.Content,
				Status:         StatusSent,
				CreatedAt:      d.CreatedAt,
			},
		}, nil

	case proto.EventDeliveredReceipt:
		var d proto.DeliveredReceiptData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed delivered_receipt payload")
		}
		return Event{
			Kind:           EventDeliveredReceipt,
			ConversationID: d.ConversationID,
			MessageIDs:     d.MessageIDs,
			UserID:         d.UserID,
		}, nil

	case proto.EventReadReceipt:
		var d proto.ReadReceiptData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed read_receipt payload")
		}
		return Event{
			Kind:           EventReadReceipt,
			ConversationID: d.ConversationID,
			MessageIDs:     d.MessageIDs,
			UserID:         d.UserID,
		}, nil

	case proto.EventTypingIndicator:
		var d proto.TypingData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed typing_indicator payload")
		}
		if d.UserID == "" {
			return Event{}, validationError("typing_indicator missing user")
		}
		return Event{
			Kind:           EventTypingSignal,
			ConversationID: d.ConversationID,
			UserID:         d.UserID,
			Typing:         d.IsTyping,
		}, nil

	case proto.EventPresence:
		var d proto.PresenceData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed presence payload")
		}
		if d.UserID == "" {
			return Event{}, validationError("presence missing user")
		}
		return Event{
			Kind:     EventPresenceSignal,
			UserID:   d.UserID,
			Online:   d.Online,
			LastSeen: d.LastSeen,
		}, nil

	case proto.EventNotification:
		var d proto.NotificationData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return Event{}, validationError("malformed notification payload")
		}
		if d.ID == "" {
			return Event{}, validationError("notification missing id")
		}
		typ := NotificationType(d.Type)
		return Event{
			Kind: EventNotificationReceived,
			Notification: Notification{
				ID:        d.ID,
				Type:      typ,
				Priority:  Classify(typ),
				Title:     d.Title,
				Content:   d.Content,
				RelatedID: d.RelatedID,
				CreatedAt: d.CreatedAt,
			},
		}, nil

	default:
		return Event{}, validationError(fmt.Sprintf("unknown event type %q", f.Event))
	}
}
