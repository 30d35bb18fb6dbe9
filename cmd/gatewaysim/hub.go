package main

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/proto"
)

// hub is the gateway's topic registry. Connections subscribe to
// topics; events published to a topic fan out to every subscriber,
// optionally skipping the publishing connection.
type hub struct {
	mu     sync.Mutex
	topics map[string]map[*client]struct{}
	log    zerolog.Logger
}

func newHub(logger *zerolog.Logger) *hub {
	return &hub{
		topics: make(map[string]map[*client]struct{}),
		log:    logger.With().Str("component", "hub").Logger(),
	}
}

// client is one authenticated websocket connection. Outbound frames go
// through the send channel so a single writer goroutine owns the
// socket.
type client struct {
	userID string
	send   chan proto.Frame

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

func newClient(userID string) *client {
	return &client{
		userID: userID,
		send:   make(chan proto.Frame, 32),
		topics: make(map[string]struct{}),
	}
}

// deliver queues a frame without blocking. A full buffer means the
// consumer is stuck; the frame is dropped rather than stalling the hub.
func (c *client) deliver(f proto.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *hub) subscribe(c *client, topic string) {
	h.mu.Lock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*client]struct{})
		h.topics[topic] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
}

func (h *hub) unsubscribe(c *client, topic string) {
	h.mu.Lock()
	if set, ok := h.topics[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// drop removes the connection from every topic it joined.
func (h *hub) drop(c *client) {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	for _, t := range topics {
		h.unsubscribe(c, t)
	}
	c.shutdown()
}

// broadcast sends an event frame to every subscriber of the topic.
// exclude, when non-nil, is skipped so publishers do not hear their
// own relayed frames.
func (h *hub) broadcast(topic, event string, data []byte, exclude *client) {
	f := proto.Frame{
		Type:  proto.FrameEvent,
		Topic: topic,
		Event: event,
		Data:  data,
	}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		if c == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.deliver(f) {
			h.log.Warn().Str("topic", topic).Str("event", event).Str("user", c.userID).Msg("dropping frame for slow consumer")
		}
	}
}
