package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/proto"
	"github.com/motormarket/realtime/internal/store"
)

// PushChannel is the push-channel surface the session consumes. Only
// the subscription manager touches the underlying connection; the
// session never holds a transport reference.
type PushChannel interface {
	Subscribe(topic string, handler func(proto.Frame)) (unsubscribe func(), err error)
	Publish(ctx context.Context, topic, event string, data any) error
}

// Alerter surfaces a high-priority notification immediately: visual
// alert, optional sound, optional OS-level notification. A
// PermissionError return means the surface refused; the session keeps
// the in-app change and moves on.
type Alerter interface {
	Alert(n Notification) error
}

// Options configures a Session.
type Options struct {
	SelfID  string
	Channel PushChannel
	Store   store.Service
	Alerter Alerter
	Logger  *zerolog.Logger

	TypingIdleTimeout time.Duration
	BatchWindow       time.Duration
	ReadFlushDelay    time.Duration
	ChangeBuffer      int
}

const (
	defaultTypingIdleTimeout = 2 * time.Second
	defaultBatchWindow       = time.Second
	defaultReadFlushDelay    = 500 * time.Millisecond
	defaultChangeBuffer      = 64
	publishTimeout           = 5 * time.Second
)

// Session owns all real-time client state for one authenticated user:
// conversations, delivery statuses, presence and typing flags, and the
// notification queue. A single goroutine (Run) owns every component;
// public operations post commands into the loop and timers re-enter
// through the tick channel, so no component state needs locking.
type Session struct {
	selfID  string
	channel PushChannel
	svc     store.Service
	alerter Alerter
	log     zerolog.Logger

	typingIdle     time.Duration
	batchWindow    time.Duration
	readFlushDelay time.Duration

	cmds    chan command
	ticks   chan func()
	changes chan Change
	closed  chan struct{}

	ctx context.Context

	conversations map[string]*Conversation
	open          map[string]bool
	subs          map[string]func()
	peerRefs      map[string]int

	presence *presenceTracker
	notices  *notificationCenter

	readFlush   map[string]*loopTimer
	pendingRead map[string][]string

	connectivity  Connectivity
	everConnected bool
}

// NewSession constructs a session. Run must be called before any
// operation takes effect.
func NewSession(opts Options) *Session {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.TypingIdleTimeout <= 0 {
		opts.TypingIdleTimeout = defaultTypingIdleTimeout
	}
	if opts.BatchWindow <= 0 {
		opts.BatchWindow = defaultBatchWindow
	}
	if opts.ReadFlushDelay <= 0 {
		opts.ReadFlushDelay = defaultReadFlushDelay
	}
	if opts.ChangeBuffer <= 0 {
		opts.ChangeBuffer = defaultChangeBuffer
	}

	s := &Session{
		selfID:         opts.SelfID,
		channel:        opts.Channel,
		svc:            opts.Store,
		alerter:        opts.Alerter,
		log:            logger.With().Str("component", "session").Logger(),
		typingIdle:     opts.TypingIdleTimeout,
		batchWindow:    opts.BatchWindow,
		readFlushDelay: opts.ReadFlushDelay,
		cmds:           make(chan command, 64),
		ticks:          make(chan func(), 64),
		changes:        make(chan Change, opts.ChangeBuffer),
		closed:         make(chan struct{}),
		conversations:  make(map[string]*Conversation),
		open:           make(map[string]bool),
		subs:           make(map[string]func()),
		peerRefs:       make(map[string]int),
		readFlush:      make(map[string]*loopTimer),
		pendingRead:    make(map[string][]string),
		connectivity:   ConnectivityConnecting,
	}

	sink := s.tick
	s.presence = newPresenceTracker(s.typingIdle, sink, s.onRemoteTypingExpired, s.onLocalTypingIdle)
	s.notices = newNotificationCenter(s.batchWindow, sink, s.onBatchFlush)
	return s
}

// Changes is the stream of reconciled state changes for the UI layer.
// Slow consumers lose changes rather than stalling the loop.
func (s *Session) Changes() <-chan Change {
	return s.changes
}

// Run drives the session loop until the context is cancelled, then
// tears down every timer and subscription.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	defer s.teardown()

	if _, err := s.subscribeTopic(proto.UserTopic(s.selfID)); err != nil {
		s.log.Warn().Err(err).Msg("subscribe user topic")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmds:
			s.handle(cmd)
		case fn := <-s.ticks:
			fn()
		}
	}
}

func (s *Session) teardown() {
	close(s.closed)

	s.presence.teardown()
	s.notices.teardown()
	for conv, timer := range s.readFlush {
		timer.Cancel()
		delete(s.readFlush, conv)
	}
	for topic, unsubscribe := range s.subs {
		unsubscribe()
		delete(s.subs, topic)
	}
	s.log.Debug().Msg("session torn down")
}

// ==== public operations ====

// OpenConversation mounts a conversation: subscribes its topic and the
// peer's presence topic, announces local presence, and fetches history.
func (s *Session) OpenConversation(conversationID, peerID string) error {
	return s.post(command{kind: cmdOpen, conversationID: conversationID, peerID: peerID})
}

// CloseConversation unmounts a conversation: the pending read flush is
// cancelled, typing timers are cancelled, subscriptions torn down.
func (s *Session) CloseConversation(conversationID string) error {
	return s.post(command{kind: cmdClose, conversationID: conversationID})
}

// SendMessage appends an optimistic Pending entry and persists it
// asynchronously. The returned local id identifies the entry through
// reconciliation and retry.
func (s *Session) SendMessage(conversationID, content string) (string, error) {
	localID := uuid.NewString()
	err := s.post(command{kind: cmdSend, conversationID: conversationID, content: content, localID: localID})
	if err != nil {
		return "", err
	}
	return localID, nil
}

// RetryMessage restarts a failed send identified by its local id.
func (s *Session) RetryMessage(conversationID, localID string) error {
	return s.post(command{kind: cmdRetry, conversationID: conversationID, localID: localID})
}

// MarkConversationRead marks every unread incoming message read. The
// backend acknowledgment is debounced; closing the conversation before
// the flush cancels it.
func (s *Session) MarkConversationRead(conversationID string) error {
	return s.post(command{kind: cmdMarkRead, conversationID: conversationID})
}

// InputActivity registers local composing activity: one typing-start
// broadcast per idle period, each call resetting the idle timer.
func (s *Session) InputActivity(conversationID string) error {
	return s.post(command{kind: cmdInput, conversationID: conversationID})
}

// SetPresence broadcasts the local online flag. Duplicate consecutive
// states are coalesced.
func (s *Session) SetPresence(online bool) error {
	return s.post(command{kind: cmdPresence, online: online})
}

// MarkNotificationRead marks one notification read. Idempotent.
func (s *Session) MarkNotificationRead(id string) error {
	return s.post(command{kind: cmdNotifRead, id: id})
}

// MarkNotificationsRead marks a set of notifications read. Idempotent.
func (s *Session) MarkNotificationsRead(ids []string) error {
	return s.post(command{kind: cmdNotifReadAll, ids: ids})
}

// SetConnectivity applies a push-channel state flip reported by the
// subscription manager.
func (s *Session) SetConnectivity(c Connectivity) error {
	return s.post(command{kind: cmdConnectivity, connectivity: c})
}

// Messages returns the ordered message snapshot of a conversation.
func (s *Session) Messages(conversationID string) ([]Message, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qMessages, conversationID: conversationID})
	if err != nil {
		return nil, err
	}
	return r.messages, nil
}

// UnreadCount counts incoming messages below Read in a conversation.
func (s *Session) UnreadCount(conversationID string) (int, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qUnreadCount, conversationID: conversationID})
	if err != nil {
		return 0, err
	}
	return r.count, nil
}

// Notifications returns the stored notification snapshot.
func (s *Session) Notifications() ([]Notification, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qNotifications})
	if err != nil {
		return nil, err
	}
	return r.notifications, nil
}

// UnreadNotifications recomputes the unread notification count.
func (s *Session) UnreadNotifications() (int, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qNotifUnread})
	if err != nil {
		return 0, err
	}
	return r.count, nil
}

// Connectivity reports the current push-channel state.
func (s *Session) Connectivity() (Connectivity, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qConnectivity})
	if err != nil {
		return ConnectivityError, err
	}
	return r.connectivity, nil
}

// PeerPresence reports the last known presence of a peer.
func (s *Session) PeerPresence(userID string) (PresenceEntry, bool, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qPresence, id: userID})
	if err != nil {
		return PresenceEntry{}, false, err
	}
	return r.presence, r.ok, nil
}

// PeerTyping reports whether a peer's typing flag is set.
func (s *Session) PeerTyping(conversationID, userID string) (bool, error) {
	r, err := s.ask(command{kind: cmdQuery, query: qTyping, conversationID: conversationID, id: userID})
	if err != nil {
		return false, err
	}
	return r.ok, nil
}

// ==== loop plumbing ====

func (s *Session) post(cmd command) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	}
}

func (s *Session) ask(cmd command) (queryReply, error) {
	cmd.reply = make(chan queryReply, 1)
	if err := s.post(cmd); err != nil {
		return queryReply{}, err
	}
	select {
	case r := <-cmd.reply:
		return r, nil
	case <-s.closed:
		return queryReply{}, ErrSessionClosed
	}
}

// tick delivers a timer callback onto the loop goroutine.
func (s *Session) tick(fire func()) {
	select {
	case s.ticks <- fire:
	case <-s.closed:
	}
}

func (s *Session) emit(ch Change) {
	select {
	case s.changes <- ch:
	default:
		s.log.Warn().Int("change_kind", int(ch.Kind)).Msg("change dropped, slow consumer")
	}
}

func (s *Session) runCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// publish sends a frame over the push channel without blocking the
// loop. Publish failures are logged and dropped; signals are repaired
// by the next state change, not by retry.
func (s *Session) publish(topic, event string, data any) {
	go func() {
		ctx, cancel := context.WithTimeout(s.runCtx(), publishTimeout)
		defer cancel()
		if err := s.channel.Publish(ctx, topic, event, data); err != nil {
			s.log.Debug().Err(err).Str("topic", topic).Str("event", event).Msg("publish failed")
		}
	}()
}

func (s *Session) subscribeTopic(topic string) (func(), error) {
	if unsubscribe, ok := s.subs[topic]; ok {
		return unsubscribe, nil
	}
	unsubscribe, err := s.channel.Subscribe(topic, func(f proto.Frame) {
		_ = s.post(command{kind: cmdFrame, frame: f})
	})
	if err != nil {
		return nil, err
	}
	s.subs[topic] = unsubscribe
	return unsubscribe, nil
}

func (s *Session) unsubscribeTopic(topic string) {
	if unsubscribe, ok := s.subs[topic]; ok {
		unsubscribe()
		delete(s.subs, topic)
	}
}

// ==== command handling ====

func (s *Session) handle(cmd command) {
	switch cmd.kind {
	case cmdFrame:
		s.route(cmd.frame)
	case cmdConnectivity:
		s.handleConnectivity(cmd.connectivity)
	case cmdOpen:
		s.handleOpen(cmd.conversationID, cmd.peerID)
	case cmdClose:
		s.handleClose(cmd.conversationID)
	case cmdSend:
		s.handleSend(cmd.conversationID, cmd.localID, cmd.content)
	case cmdRetry:
		s.handleRetry(cmd.conversationID, cmd.localID)
	case cmdSendAck:
		s.handleSendAck(cmd.ack)
	case cmdHistory:
		s.handleHistory(cmd.history)
	case cmdMarkRead:
		s.handleMarkRead(cmd.conversationID)
	case cmdInput:
		s.handleInput(cmd.conversationID)
	case cmdPresence:
		s.handlePresence(cmd.online)
	case cmdNotifRead:
		s.notices.MarkRead(cmd.id)
	case cmdNotifReadAll:
		s.notices.MarkAllRead(cmd.ids)
	case cmdQuery:
		s.handleQuery(cmd)
	}
}

// route decodes a push frame and dispatches it. Malformed or unknown
// events are a validation error: logged, dropped, never fatal.
func (s *Session) route(f proto.Frame) {
	ev, err := DecodeFrame(f)
	if err != nil {
		s.log.Debug().Err(err).Str("event", f.Event).Msg("dropping frame")
		return
	}

	switch ev.Kind {
	case EventMessageReceived:
		s.handleMessageReceived(ev)
	case EventDeliveredReceipt:
		s.applyReceipt(ev, StatusDelivered)
	case EventReadReceipt:
		s.applyReceipt(ev, StatusRead)
	case EventTypingSignal:
		s.handleTypingSignal(ev)
	case EventPresenceSignal:
		s.handlePresenceSignal(ev)
	case EventNotificationReceived:
		s.handleNotification(ev.Notification)
	}
}

func (s *Session) handleMessageReceived(ev Event) {
	conv := s.conversations[ev.ConversationID]
	if conv == nil {
		s.log.Debug().Str("conversation", ev.ConversationID).Msg("message for unknown conversation")
		return
	}

	m := ev.Message
	if m.SenderID == s.selfID {
		// Server echo of an own message. If the ack already reconciled
		// the optimistic entry the append below is an idempotent no-op;
		// if the echo wins the race the ack adopts this entry later.
		if entry := conv.get(m.ID); entry != nil {
			if advance(entry, StatusSent) {
				s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
			}
			return
		}
		if conv.append(m) {
			s.emit(Change{Kind: ChangeNewMessage, ConversationID: conv.ID, Message: m})
		}
		return
	}

	if !conv.append(m) {
		return
	}
	entry := conv.get(m.ID)

	// The recipient client has now observed the message.
	advance(entry, StatusDelivered)
	s.emit(Change{Kind: ChangeNewMessage, ConversationID: conv.ID, Message: *entry})

	s.ackDelivered(conv.ID, []string{entry.ID})
}

func (s *Session) ackDelivered(conversationID string, ids []string) {
	go func() {
		ctx, cancel := context.WithTimeout(s.runCtx(), publishTimeout)
		defer cancel()
		if err := s.svc.MarkDelivered(ctx, conversationID, ids); err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("mark delivered failed")
		}
	}()
	s.publish(proto.ConversationTopic(conversationID), proto.EventDeliveredReceipt, proto.DeliveredReceiptData{
		ConversationID: conversationID,
		MessageIDs:     ids,
		UserID:         s.selfID,
	})
}

// applyReceipt merges delivered/read receipts by taking the maximum
// status reached; stale receipts are silent no-ops.
func (s *Session) applyReceipt(ev Event, to DeliveryStatus) {
	if ev.UserID == s.selfID {
		return
	}
	conv := s.conversations[ev.ConversationID]
	if conv == nil {
		return
	}
	for _, id := range ev.MessageIDs {
		entry := conv.get(id)
		if entry == nil || entry.SenderID != s.selfID {
			continue
		}
		if advance(entry, to) {
			s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
		}
	}
}

func (s *Session) handleTypingSignal(ev Event) {
	if ev.UserID == s.selfID {
		return
	}
	if ev.Typing {
		if s.presence.RemoteTypingStart(ev.ConversationID, ev.UserID) {
			s.emit(Change{Kind: ChangeTyping, ConversationID: ev.ConversationID, UserID: ev.UserID, Typing: true})
		}
		return
	}
	if s.presence.RemoteTypingStop(ev.ConversationID, ev.UserID) {
		s.emit(Change{Kind: ChangeTyping, ConversationID: ev.ConversationID, UserID: ev.UserID, Typing: false})
	}
}

// onRemoteTypingExpired clears a typing flag whose stop signal was
// lost; the expiry timer stands in for it.
func (s *Session) onRemoteTypingExpired(conversationID, userID string) {
	s.emit(Change{Kind: ChangeTyping, ConversationID: conversationID, UserID: userID, Typing: false})
}

func (s *Session) handlePresenceSignal(ev Event) {
	if ev.UserID == s.selfID {
		return
	}
	if s.presence.SetPeer(ev.UserID, ev.Online, ev.LastSeen) {
		s.emit(Change{Kind: ChangePresence, UserID: ev.UserID, Online: ev.Online, LastSeen: ev.LastSeen})
	}
}

func (s *Session) handleNotification(n Notification) {
	added, immediate := s.notices.Add(n)
	if !added {
		return
	}
	s.emit(Change{Kind: ChangeNotificationArrived, Notification: n})
	if immediate && s.alerter != nil {
		go func() {
			err := s.alerter.Alert(n)
			if err == nil {
				return
			}
			if errors.Is(err, ErrPermission) {
				s.log.Debug().Err(err).Str("id", n.ID).Msg("alert surface denied, in-app only")
				return
			}
			s.log.Warn().Err(err).Str("id", n.ID).Msg("alert failed")
		}()
	}
}

// onBatchFlush surfaces a burst as exactly one aggregated summary.
func (s *Session) onBatchFlush(b BatchSummary) {
	s.emit(Change{Kind: ChangeNotificationBatch, Batch: b})
}

func (s *Session) handleConnectivity(c Connectivity) {
	prev := s.connectivity
	if prev == c {
		return
	}
	s.connectivity = c
	s.emit(Change{Kind: ChangeConnectivity, Connectivity: c})

	if c != ConnectivityConnected {
		return
	}
	if s.everConnected {
		// No replay across a disconnection window: refetch the open
		// conversations explicitly instead.
		for conversationID := range s.open {
			s.fetchHistory(conversationID)
		}
	}
	s.everConnected = true
}

func (s *Session) handleOpen(conversationID, peerID string) {
	conv := s.conversations[conversationID]
	if conv == nil {
		conv = newConversation(conversationID, peerID)
		s.conversations[conversationID] = conv
	}
	if s.open[conversationID] {
		return
	}
	s.open[conversationID] = true
	if len(s.open) == 1 {
		s.handlePresence(true)
	}

	if _, err := s.subscribeTopic(proto.ConversationTopic(conversationID)); err != nil {
		s.log.Warn().Err(err).Str("conversation", conversationID).Msg("subscribe conversation topic")
	}
	s.peerRefs[conv.PeerID]++
	if s.peerRefs[conv.PeerID] == 1 {
		if _, err := s.subscribeTopic(proto.UserTopic(conv.PeerID)); err != nil {
			s.log.Warn().Err(err).Str("peer", conv.PeerID).Msg("subscribe peer topic")
		}
	}

	s.fetchHistory(conversationID)
}

func (s *Session) fetchHistory(conversationID string) {
	go func() {
		ctx, cancel := context.WithTimeout(s.runCtx(), 10*time.Second)
		defer cancel()
		msgs, err := s.svc.FetchConversation(ctx, conversationID)
		_ = s.post(command{kind: cmdHistory, history: historyResult{
			conversationID: conversationID,
			messages:       msgs,
			err:            err,
		}})
	}()
}

func (s *Session) handleHistory(h historyResult) {
	if h.err != nil {
		s.log.Warn().Err(h.err).Str("conversation", h.conversationID).Msg("history fetch failed")
		return
	}
	conv := s.conversations[h.conversationID]
	if conv == nil {
		return
	}

	var deliver []string
	for _, rec := range h.messages {
		m := Message{
			ID:             rec.ID,
			ConversationID: rec.ConversationID,
			SenderID:       rec.SenderID,
			RecipientID:    rec.RecipientID,
			Content:        rec.Content,
			Status:         statusFromRecord(rec.Status),
			CreatedAt:      rec.CreatedAt,
		}
		if !conv.append(m) {
			// Known message: authoritative history may still carry a
			// more advanced status.
			if entry := conv.get(m.ID); entry != nil && advance(entry, m.Status) {
				s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
			}
			continue
		}
		entry := conv.get(m.ID)
		if entry.RecipientID == s.selfID && entry.Status < StatusDelivered {
			advance(entry, StatusDelivered)
			deliver = append(deliver, entry.ID)
		}
		s.emit(Change{Kind: ChangeNewMessage, ConversationID: conv.ID, Message: *entry})
	}

	if len(deliver) > 0 {
		s.ackDelivered(conv.ID, deliver)
	}
}

func (s *Session) handleClose(conversationID string) {
	if !s.open[conversationID] {
		return
	}
	delete(s.open, conversationID)

	// Pending mark-as-read not yet flushed is cancelled.
	if timer, ok := s.readFlush[conversationID]; ok {
		timer.Cancel()
		delete(s.readFlush, conversationID)
	}
	delete(s.pendingRead, conversationID)

	s.presence.TeardownConversation(conversationID)
	s.unsubscribeTopic(proto.ConversationTopic(conversationID))

	if conv := s.conversations[conversationID]; conv != nil {
		s.peerRefs[conv.PeerID]--
		if s.peerRefs[conv.PeerID] <= 0 {
			delete(s.peerRefs, conv.PeerID)
			s.unsubscribeTopic(proto.UserTopic(conv.PeerID))
		}
	}

	if len(s.open) == 0 {
		s.handlePresence(false)
	}
}

func (s *Session) handleSend(conversationID, localID, content string) {
	conv := s.conversations[conversationID]
	if conv == nil {
		s.log.Warn().Str("conversation", conversationID).Msg("send into unopened conversation")
		return
	}

	m := Message{
		ID:             localID,
		LocalID:        localID,
		ConversationID: conversationID,
		SenderID:       s.selfID,
		RecipientID:    conv.PeerID,
		Content:        content,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	conv.append(m)
	s.emit(Change{Kind: ChangeNewMessage, ConversationID: conversationID, Message: m})

	s.persistSend(conv, localID, content)
}

func (s *Session) persistSend(conv *Conversation, localID, content string) {
	req := store.SendRequest{
		ConversationID: conv.ID,
		SenderID:       s.selfID,
		RecipientID:    conv.PeerID,
		Content:        content,
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.runCtx(), 10*time.Second)
		defer cancel()
		res, err := s.svc.SendMessage(ctx, req)
		_ = s.post(command{kind: cmdSendAck, ack: sendAck{
			conversationID: conv.ID,
			localID:        localID,
			serverID:       res.ServerID,
			createdAt:      res.CreatedAt,
			err:            err,
		}})
	}()
}

func (s *Session) handleSendAck(ack sendAck) {
	conv := s.conversations[ack.conversationID]
	if conv == nil {
		return
	}
	entry := conv.getLocal(ack.localID)
	if entry == nil {
		return
	}

	if ack.err != nil {
		cause := transportError(fmt.Sprintf("send message: %v", ack.err))
		s.log.Warn().Err(cause).Str("local_id", ack.localID).Msg("send failed")
		if advance(entry, StatusFailed) {
			s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry, Err: cause})
		}
		return
	}

	if existing := conv.get(ack.serverID); existing != nil && existing != entry {
		// Echo beat the ack; fold the optimistic entry into it. The
		// optimistic entry was already shown via ChangeNewMessage, so
		// the UI gets an explicit supersede rather than a bare status
		// advance, keyed by LocalID to drop the provisional row.
		merged := conv.adopt(ack.localID, ack.serverID)
		advance(merged, StatusSent)
		s.emit(Change{Kind: ChangeMessageSuperseded, ConversationID: conv.ID, Message: *merged})
		return
	}

	entry = conv.rekey(ack.localID, ack.serverID, ack.createdAt)
	if entry == nil {
		return
	}
	if advance(entry, StatusSent) {
		s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
	}
}

func (s *Session) handleRetry(conversationID, localID string) {
	conv := s.conversations[conversationID]
	if conv == nil {
		return
	}
	entry := conv.getLocal(localID)
	if entry == nil || entry.Status != StatusFailed {
		s.log.Debug().Str("local_id", localID).Msg("retry ignored, message not failed")
		return
	}

	// Explicit user action restarts the lifecycle; event-driven
	// transitions can never leave Failed.
	entry.Status = StatusPending
	s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
	s.persistSend(conv, localID, entry.Content)
}

func (s *Session) handleMarkRead(conversationID string) {
	conv := s.conversations[conversationID]
	if conv == nil {
		return
	}
	ids := conv.unreadIDs(s.selfID)
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		entry := conv.get(id)
		if advance(entry, StatusRead) {
			s.emit(Change{Kind: ChangeMessageStatus, ConversationID: conv.ID, Message: *entry})
		}
	}

	s.pendingRead[conversationID] = append(s.pendingRead[conversationID], ids...)
	timer, ok := s.readFlush[conversationID]
	if !ok {
		timer = newLoopTimer(s.tick, func() {
			s.flushRead(conversationID)
		})
		s.readFlush[conversationID] = timer
	}
	// The flush window is anchored at the first mark of a burst;
	// further marks join the pending batch without pushing it out.
	if !timer.Armed() {
		timer.Start(s.readFlushDelay)
	}
}

func (s *Session) flushRead(conversationID string) {
	ids := s.pendingRead[conversationID]
	delete(s.pendingRead, conversationID)
	if len(ids) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.runCtx(), 10*time.Second)
		defer cancel()
		if err := s.svc.MarkRead(ctx, conversationID, ids); err != nil {
			s.log.Warn().Err(err).Str("conversation", conversationID).Msg("mark read failed")
		}
	}()
	s.publish(proto.ConversationTopic(conversationID), proto.EventReadReceipt, proto.ReadReceiptData{
		ConversationID: conversationID,
		MessageIDs:     ids,
		UserID:         s.selfID,
	})
}

func (s *Session) handleInput(conversationID string) {
	if !s.open[conversationID] {
		return
	}
	if s.presence.LocalActivity(conversationID) {
		s.publishTyping(conversationID, true)
	}
}

// onLocalTypingIdle fires when the idle timeout elapses with no
// further input.
func (s *Session) onLocalTypingIdle(conversationID string) {
	if !s.open[conversationID] {
		return
	}
	s.publishTyping(conversationID, false)
}

func (s *Session) publishTyping(conversationID string, typing bool) {
	s.publish(proto.ConversationTopic(conversationID), proto.EventTypingIndicator, proto.TypingData{
		ConversationID: conversationID,
		UserID:         s.selfID,
		IsTyping:       typing,
	})
}

func (s *Session) handlePresence(online bool) {
	if !s.presence.TrackSelf(online) {
		return
	}
	s.publish(proto.UserTopic(s.selfID), proto.EventPresence, proto.PresenceData{
		UserID:   s.selfID,
		Online:   online,
		LastSeen: time.Now().UTC(),
	})
}

func (s *Session) handleQuery(cmd command) {
	var r queryReply
	switch cmd.query {
	case qMessages:
		if conv := s.conversations[cmd.conversationID]; conv != nil {
			r.messages = conv.Ordered()
			r.ok = true
		}
	case qUnreadCount:
		if conv := s.conversations[cmd.conversationID]; conv != nil {
			r.count = conv.UnreadCount(s.selfID)
			r.ok = true
		}
	case qNotifications:
		r.notifications = s.notices.All()
		r.ok = true
	case qNotifUnread:
		r.count = s.notices.UnreadCount()
		r.ok = true
	case qConnectivity:
		r.connectivity = s.connectivity
		r.ok = true
	case qPresence:
		r.presence, r.ok = s.presence.Peer(cmd.id)
	case qTyping:
		r.ok = s.presence.IsTyping(cmd.conversationID, cmd.id)
	}
	cmd.reply <- r
}

func statusFromRecord(status string) DeliveryStatus {
	switch status {
	case store.StatusRead:
		return StatusRead
	case store.StatusDelivered:
		return StatusDelivered
	default:
		return StatusSent
	}
}
