package core

import "time"

// ChangeKind identifies a reconciled state change emitted to the UI layer.
type ChangeKind int

const (
	// ChangeNewMessage announces a message appended to a conversation,
	// including optimistic local entries.
	ChangeNewMessage ChangeKind = iota
	// ChangeMessageStatus announces a delivery status advance.
	ChangeMessageStatus
	// ChangeMessageSuperseded announces that an optimistic entry was
	// folded into its server echo. Message is the surviving entry;
	// its LocalID names the provisional row to drop.
	ChangeMessageSuperseded
	// ChangeTyping announces a peer typing flag flip.
	ChangeTyping
	// ChangePresence announces a peer going online or offline.
	ChangePresence
	// ChangeNotificationArrived announces a stored notification.
	ChangeNotificationArrived
	// ChangeNotificationBatch announces an aggregated burst summary.
	ChangeNotificationBatch
	// ChangeConnectivity announces a push-channel state flip.
	ChangeConnectivity
)

// Connectivity mirrors the push-channel connection state.
type Connectivity int

const (
	ConnectivityConnecting Connectivity = iota
	ConnectivityConnected
	ConnectivityError
)

func (c Connectivity) String() string {
	switch c {
	case ConnectivityConnecting:
		return "connecting"
	case ConnectivityConnected:
		return "connected"
	case ConnectivityError:
		return "error"
	default:
		return "unknown"
	}
}

// BatchSummary aggregates a burst of same-type, same-priority
// notifications flushed at the end of a batch window.
type BatchSummary struct {
	Type     NotificationType
	Priority Priority
	Count    int
	Title    string
}

// Change is the closed union of state changes the session emits.
// The UI layer renders these; it never mutates core state directly.
type Change struct {
	Kind           ChangeKind
	ConversationID string
	Message        Message
	UserID         string
	Typing         bool
	Online         bool
	LastSeen       time.Time
	Notification   Notification
	Batch          BatchSummary
	Connectivity   Connectivity

	// Err carries the domain-coded cause on a Failed status change.
	Err error
}
