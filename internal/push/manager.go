// Package push owns the single push-channel connection of a session.
// All topic subscriptions multiplex over it; no other component ever
// holds the transport.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/proto"
)

// Status is the connectivity state exposed to callers.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Publish while the channel is down.
	ErrNotConnected = errors.New("push channel not connected")
	// ErrManagerClosed is returned after Run has exited.
	ErrManagerClosed = errors.New("push manager closed")
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 5
	handshakeTimeout   = 10 * time.Second
	writeTimeout       = 5 * time.Second
)

// Options configures a Manager.
type Options struct {
	URL   string
	Token string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// OnStatus is invoked on every connectivity flip, from the
	// manager's run goroutine.
	OnStatus func(Status)
	Logger   *zerolog.Logger
}

// Handle identifies one live topic subscription.
type Handle struct {
	m       *Manager
	topic   string
	handler func(proto.Frame)
	closed  bool
}

// Topic returns the subscribed topic.
func (h *Handle) Topic() string {
	return h.topic
}

// Unsubscribe tears the subscription down. Idempotent.
func (h *Handle) Unsubscribe() {
	h.m.unsubscribe(h)
}

// Manager maintains the websocket connection, the topic registry, and
// the reconnect policy: exponential backoff with jitter, and after
// MaxAttempts consecutive failures the status escalates to error and
// automatic retry stops until an explicit Reconnect or Subscribe.
// Events missed while disconnected are not buffered or replayed.
type Manager struct {
	url         string
	token       string
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	onStatus    func(Status)
	log         zerolog.Logger

	mu     sync.Mutex
	subs   map[string]*Handle
	conn   *websocket.Conn
	status Status
	closed bool

	wmu sync.Mutex // serializes frame writes

	wake chan struct{}
}

// NewManager constructs a Manager; Run starts the connection.
func NewManager(opts Options) *Manager {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Manager{
		url:         opts.URL,
		token:       opts.Token,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		maxAttempts: opts.MaxAttempts,
		onStatus:    opts.OnStatus,
		log:         logger.With().Str("component", "push").Logger(),
		subs:        make(map[string]*Handle),
		status:      StatusConnecting,
		wake:        make(chan struct{}, 1),
	}
}

// Status returns the current connectivity state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe opens a topic subscription. An existing subscription for
// the same topic is torn down first, so a topic never delivers events
// twice. While in the error state, subscribing counts as the explicit
// caller trigger that restarts connection attempts.
func (m *Manager) Subscribe(topic string, handler func(proto.Frame)) (*Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if prior, ok := m.subs[topic]; ok {
		prior.closed = true
	}
	h := &Handle{m: m, topic: topic, handler: handler}
	m.subs[topic] = h
	connected := m.status == StatusConnected
	errored := m.status == StatusError
	m.mu.Unlock()

	if connected {
		if err := m.writeFrame(proto.Frame{Type: proto.FrameSubscribe, Topic: topic}); err != nil {
			m.log.Debug().Err(err).Str("topic", topic).Msg("subscribe announce failed, will resend on reconnect")
		}
	}
	if errored {
		m.Reconnect()
	}
	return h, nil
}

func (m *Manager) unsubscribe(h *Handle) {
	m.mu.Lock()
	if h.closed {
		m.mu.Unlock()
		return
	}
	h.closed = true
	if current, ok := m.subs[h.topic]; ok && current == h {
		delete(m.subs, h.topic)
	}
	connected := m.status == StatusConnected
	m.mu.Unlock()

	if connected {
		if err := m.writeFrame(proto.Frame{Type: proto.FrameUnsubscribe, Topic: h.topic}); err != nil {
			m.log.Debug().Err(err).Str("topic", h.topic).Msg("unsubscribe announce failed")
		}
	}
}

// Publish sends a signal frame on a topic. It fails fast while the
// channel is down; callers treat signals as best-effort.
func (m *Manager) Publish(ctx context.Context, topic, event string, data any) error {
	m.mu.Lock()
	connected := m.status == StatusConnected
	m.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	return m.writeFrameCtx(ctx, proto.Frame{
		Type:  proto.FramePublish,
		Topic: topic,
		Event: event,
		Data:  raw,
	})
}

// Reconnect restarts connection attempts after the manager escalated
// to the error state.
func (m *Manager) Reconnect() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drives the connect/read/reconnect cycle until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer m.shutdown()

	attempts := 0
	for ctx.Err() == nil {
		m.setStatus(StatusConnecting)

		conn, err := m.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			if attempts >= m.maxAttempts {
				m.log.Error().Err(err).Int("attempts", attempts).Msg("connection attempts exhausted")
				m.setStatus(StatusError)
				select {
				case <-ctx.Done():
					return
				case <-m.wake:
					attempts = 0
					continue
				}
			}
			delay := m.backoff(attempts)
			m.log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempts).Msg("connect failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempts = 0
		m.setStatus(StatusConnected)
		m.announceSubscriptions()

		err = m.readLoop(ctx, conn)
		m.dropConn(conn)
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Msg("push channel disconnected")
		attempts = 1
	}
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

func (m *Manager) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	helloData, err := json.Marshal(proto.HelloData{Token: m.token, Protocol: proto.ProtocolVersion})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "marshal hello")
		return nil, fmt.Errorf("marshal hello: %w", err)
	}
	if err := wsjson.Write(dialCtx, conn, proto.Frame{Type: proto.FrameHello, Data: helloData}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, fmt.Errorf("send hello: %w", err)
	}

	var ready proto.Frame
	if err := wsjson.Read(dialCtx, conn, &ready); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("read ready: %w", err)
	}
	if ready.Type != proto.FrameReady {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake rejected")
		if ready.Error != nil {
			return nil, fmt.Errorf("handshake rejected: %s", ready.Error.Code)
		}
		return nil, fmt.Errorf("expected ready frame, got %q", ready.Type)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	return conn, nil
}

// announceSubscriptions re-announces every held topic after a
// (re)connect. History is not replayed; callers refetch explicitly.
func (m *Manager) announceSubscriptions() {
	m.mu.Lock()
	topics := make([]string, 0, len(m.subs))
	for topic := range m.subs {
		topics = append(topics, topic)
	}
	m.mu.Unlock()

	for _, topic := range topics {
		if err := m.writeFrame(proto.Frame{Type: proto.FrameSubscribe, Topic: topic}); err != nil {
			m.log.Warn().Err(err).Str("topic", topic).Msg("resubscribe announce failed")
			return
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f proto.Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		switch f.Type {
		case proto.FrameEvent:
			m.dispatch(f)
		case proto.FrameError:
			if f.Error != nil {
				m.log.Warn().Str("code", f.Error.Code).Str("msg", f.Error.Msg).Msg("gateway error")
			}
		default:
			m.log.Debug().Str("type", f.Type).Msg("ignoring frame")
		}
	}
}

func (m *Manager) dispatch(f proto.Frame) {
	m.mu.Lock()
	h, ok := m.subs[f.Topic]
	if ok && h.closed {
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		m.log.Debug().Str("topic", f.Topic).Str("event", f.Event).Msg("event for unsubscribed topic")
		return
	}
	h.handler(f)
}

func (m *Manager) dropConn(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "reconnecting")
}

// SetOnStatus registers the connectivity callback. Must be set before
// Run; the callback fires from the run goroutine on every flip.
func (m *Manager) SetOnStatus(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	fn := m.onStatus
	m.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

func (m *Manager) writeFrame(f proto.Frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return m.writeFrameCtx(ctx, f)
}

func (m *Manager) writeFrameCtx(ctx context.Context, f proto.Frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.wmu.Lock()
	defer m.wmu.Unlock()
	return wsjson.Write(ctx, conn, f)
}

// backoff grows exponentially with jitter, capped at maxDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	jitter := time.Duration(rand.Float64() * float64(m.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(m.baseDelay)*math.Pow(2, float64(attempt-1))+float64(jitter),
		float64(m.maxDelay),
	))
	return delay
}
