package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/motormarket/realtime/internal/proto"
	"github.com/motormarket/realtime/internal/store"
)

const (
	testTypingIdle = 80 * time.Millisecond
	testBatch      = 60 * time.Millisecond
	testReadFlush  = 40 * time.Millisecond
)

type publishedFrame struct {
	Topic string
	Event string
	Data  []byte
}

// fakeChannel is an in-memory push channel: subscriptions register
// handlers, publishes are recorded, and tests inject inbound frames.
type fakeChannel struct {
	mu        sync.Mutex
	handlers  map[string]func(proto.Frame)
	published []publishedFrame
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: make(map[string]func(proto.Frame))}
}

func (f *fakeChannel) Subscribe(topic string, handler func(proto.Frame)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers, topic)
	}, nil
}

func (f *fakeChannel) Publish(_ context.Context, topic, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedFrame{Topic: topic, Event: event, Data: raw})
	return nil
}

func (f *fakeChannel) inject(t *testing.T, topic string, frame proto.Frame) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		handler, ok := f.handlers[topic]
		f.mu.Unlock()
		if ok {
			handler(frame)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscription for topic %s", topic)
}

func (f *fakeChannel) countPublished(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.published {
		if p.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeChannel) waitPublished(t *testing.T, event string) publishedFrame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		for _, p := range f.published {
			if p.Event == event {
				f.mu.Unlock()
				return p
			}
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %s publish not observed", event)
	return publishedFrame{}
}

type readCall struct {
	conversationID string
	ids            []string
}

// fakeStore is a scriptable persistence backend.
type fakeStore struct {
	mu         sync.Mutex
	history    map[string][]store.Message
	fetchCalls map[string]int
	sendErr    error
	sendGate   chan struct{}
	sendSeq    int
	delivered  []readCall
	reads      []readCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		history:    make(map[string][]store.Message),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeStore) FetchConversation(_ context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls[conversationID]++
	return append([]store.Message(nil), f.history[conversationID]...), nil
}

func (f *fakeStore) SendMessage(_ context.Context, _ store.SendRequest) (store.SendResult, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return store.SendResult{}, f.sendErr
	}
	f.sendSeq++
	return store.SendResult{
		ServerID:  fmt.Sprintf("srv-%d", f.sendSeq),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, conversationID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, readCall{conversationID: conversationID, ids: ids})
	return nil
}

func (f *fakeStore) MarkRead(_ context.Context, conversationID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, readCall{conversationID: conversationID, ids: ids})
	return nil
}

func (f *fakeStore) FetchNotifications(_ context.Context, _ store.NotificationFilter) ([]store.Notification, error) {
	return nil, nil
}

func (f *fakeStore) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeStore) readCalls() []readCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]readCall(nil), f.reads...)
}

func (f *fakeStore) fetches(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[conversationID]
}

// alertRecorder captures immediate alerts. A non-nil err is returned
// from every Alert call to exercise the degrade path.
type alertRecorder struct {
	mu  sync.Mutex
	got []Notification
	err error
}

func (a *alertRecorder) Alert(n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, n)
	return a.err
}

func (a *alertRecorder) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.got)
}

func (a *alertRecorder) wait(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d alerts, got %d", n, a.count())
}

type sessionFixture struct {
	s      *Session
	ch     *fakeChannel
	st     *fakeStore
	alerts *alertRecorder
}

func newTestSession(t *testing.T) *sessionFixture {
	t.Helper()

	ch := newFakeChannel()
	st := newFakeStore()
	alerts := &alertRecorder{}

	s := NewSession(Options{
		SelfID:            "alice",
		Channel:           ch,
		Store:             st,
		Alerter:           alerts,
		TypingIdleTimeout: testTypingIdle,
		BatchWindow:       testBatch,
		ReadFlushDelay:    testReadFlush,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &sessionFixture{s: s, ch: ch, st: st, alerts: alerts}
}

func mustChange(t *testing.T, ch <-chan Change, kind ChangeKind) Change {
	t.Helper()
	return mustChangeWhere(t, ch, func(c Change) bool { return c.Kind == kind })
}

func mustChangeWhere(t *testing.T, ch <-chan Change, match func(Change) bool) Change {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case c := <-ch:
			if match(c) {
				return c
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected change not received")
	return Change{}
}

func drainChanges(ch <-chan Change) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// ==== frame builders ====

func frameNewMessage(id, conversationID, senderID, recipientID, content string, at time.Time) proto.Frame {
	data, _ := json.Marshal(proto.NewMessageData{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		CreatedAt:      at,
	})
	return proto.Frame{Type: proto.FrameEvent, Topic: proto.ConversationTopic(conversationID), Event: proto.EventNewMessage, Data: data}
}

func frameReceipt(event, conversationID, userID string, ids ...string) proto.Frame {
	data, _ := json.Marshal(proto.DeliveredReceiptData{
		ConversationID: conversationID,
		MessageIDs:     ids,
		UserID:         userID,
	})
	return proto.Frame{Type: proto.FrameEvent, Topic: proto.ConversationTopic(conversationID), Event: event, Data: data}
}

func frameTyping(conversationID, userID string, typing bool) proto.Frame {
	data, _ := json.Marshal(proto.TypingData{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       typing,
	})
	return proto.Frame{Type: proto.FrameEvent, Topic: proto.ConversationTopic(conversationID), Event: proto.EventTypingIndicator, Data: data}
}

func framePresence(userID string, online bool, lastSeen time.Time) proto.Frame {
	data, _ := json.Marshal(proto.PresenceData{
		UserID:   userID,
		Online:   online,
		LastSeen: lastSeen,
	})
	return proto.Frame{Type: proto.FrameEvent, Topic: proto.UserTopic(userID), Event: proto.EventPresence, Data: data}
}

func frameNotification(id string, typ NotificationType, title string) proto.Frame {
	data, _ := json.Marshal(proto.NotificationData{
		ID:        id,
		Type:      string(typ),
		Title:     title,
		Content:   title,
		CreatedAt: time.Now().UTC(),
	})
	return proto.Frame{Type: proto.FrameEvent, Topic: proto.UserTopic("alice"), Event: proto.EventNotification, Data: data}
}
