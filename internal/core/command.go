package core

import (
	"time"

	"github.com/motormarket/realtime/internal/proto"
	"github.com/motormarket/realtime/internal/store"
)

// commandKind describes what a posted command asks the session loop to do.
type commandKind int

const (
	// cmdFrame routes a raw push-channel frame.
	cmdFrame commandKind = iota
	// cmdConnectivity applies a push-channel state flip.
	cmdConnectivity
	// cmdOpen mounts a conversation: subscribe, fetch history.
	cmdOpen
	// cmdClose unmounts a conversation: cancel timers, unsubscribe.
	cmdClose
	// cmdSend appends an optimistic entry and starts the async persist.
	cmdSend
	// cmdRetry restarts a failed send.
	cmdRetry
	// cmdSendAck reconciles the backend acknowledgment of a send.
	cmdSendAck
	// cmdHistory merges a fetched conversation history.
	cmdHistory
	// cmdMarkRead acknowledges all unread messages in a conversation.
	cmdMarkRead
	// cmdInput registers local composing activity.
	cmdInput
	// cmdPresence broadcasts the local online flag.
	cmdPresence
	// cmdNotifRead marks one notification read.
	cmdNotifRead
	// cmdNotifReadAll marks a set of notifications read.
	cmdNotifReadAll
	// cmdQuery answers a synchronous state query over the reply channel.
	cmdQuery
)

type queryKind int

const (
	qMessages queryKind = iota
	qUnreadCount
	qNotifications
	qNotifUnread
	qConnectivity
	qPresence
	qTyping
)

type sendAck struct {
	conversationID string
	localID        string
	serverID       string
	createdAt      time.Time
	err            error
}

type historyResult struct {
	conversationID string
	messages       []store.Message
	err            error
}

type queryReply struct {
	messages      []Message
	notifications []Notification
	count         int
	connectivity  Connectivity
	presence      PresenceEntry
	ok            bool
}

// command is the closed union of session loop inputs.
type command struct {
	kind commandKind

	frame          proto.Frame
	connectivity   Connectivity
	conversationID string
	peerID         string
	content        string
	localID        string
	online         bool
	id             string
	ids            []string
	ack            sendAck
	history        historyResult

	query queryKind
	reply chan queryReply
}
