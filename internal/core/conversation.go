package core

import (
	"sort"
	"time"
)

// Conversation is the ordered, deduplicated message history with one
// peer. Order is deterministic across clients: by CreatedAt, ties
// broken by ID, regardless of arrival order. All methods run on the
// session loop.
type Conversation struct {
	ID     string
	PeerID string

	messages []*Message
	byID     map[string]*Message
	byLocal  map[string]*Message
}

func newConversation(id, peerID string) *Conversation {
	return &Conversation{
		ID:      id,
		PeerID:  peerID,
		byID:    make(map[string]*Message),
		byLocal: make(map[string]*Message),
	}
}

// append inserts a message at its sorted position. Insertion is
// idempotent on ID: a duplicate reports false and changes nothing.
func (c *Conversation) append(m Message) bool {
	if _, exists := c.byID[m.ID]; exists {
		return false
	}

	entry := &m
	i := c.searchPosition(entry.CreatedAt, entry.ID)
	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = entry

	c.byID[entry.ID] = entry
	if entry.LocalID != "" {
		c.byLocal[entry.LocalID] = entry
	}
	return true
}

func (c *Conversation) searchPosition(at time.Time, id string) int {
	return sort.Search(len(c.messages), func(i int) bool {
		m := c.messages[i]
		if !m.CreatedAt.Equal(at) {
			return m.CreatedAt.After(at)
		}
		return m.ID > id
	})
}

// get returns the live entry for a server id.
func (c *Conversation) get(id string) *Message {
	return c.byID[id]
}

// getLocal returns the live entry for an optimistic local id.
func (c *Conversation) getLocal(localID string) *Message {
	return c.byLocal[localID]
}

// rekey reconciles an optimistic entry with its authoritative identity:
// the server id and timestamp replace the provisional ones and the
// entry moves to its deterministic position.
func (c *Conversation) rekey(localID, serverID string, createdAt time.Time) *Message {
	entry := c.byLocal[localID]
	if entry == nil {
		return nil
	}
	c.removeEntry(entry)

	delete(c.byID, entry.ID)
	entry.ID = serverID
	if !createdAt.IsZero() {
		entry.CreatedAt = createdAt
	}

	i := c.searchPosition(entry.CreatedAt, entry.ID)
	c.messages = append(c.messages, nil)
	copy(c.messages[i+1:], c.messages[i:])
	c.messages[i] = entry
	c.byID[entry.ID] = entry
	return entry
}

// adopt resolves the race where the server echo of an own message
// arrived before the send acknowledgment: the pending entry is dropped
// and its local id transfers to the authoritative one.
func (c *Conversation) adopt(localID, serverID string) *Message {
	entry := c.byID[serverID]
	if entry == nil {
		return nil
	}
	if pending := c.byLocal[localID]; pending != nil && pending != entry {
		c.remove(pending.ID)
	}
	entry.LocalID = localID
	c.byLocal[localID] = entry
	return entry
}

// remove drops a message entirely, e.g. a pending entry superseded by
// its server echo.
func (c *Conversation) remove(id string) *Message {
	entry := c.byID[id]
	if entry == nil {
		return nil
	}
	c.removeEntry(entry)
	delete(c.byID, entry.ID)
	if entry.LocalID != "" {
		delete(c.byLocal, entry.LocalID)
	}
	return entry
}

func (c *Conversation) removeEntry(entry *Message) {
	for i, m := range c.messages {
		if m == entry {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
			return
		}
	}
}

// Ordered returns a snapshot of the full ordered sequence. It is
// recomputed from current state, so callers may re-request it at any
// time.
func (c *Conversation) Ordered() []Message {
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = *m
	}
	return out
}

// UnreadCount counts messages addressed to self with status below Read.
// Derived on every call, never cached.
func (c *Conversation) UnreadCount(selfID string) int {
	n := 0
	for _, m := range c.messages {
		if m.RecipientID == selfID && m.Status < StatusRead {
			n++
		}
	}
	return n
}

// unreadIDs lists the ids MarkConversationRead will acknowledge.
func (c *Conversation) unreadIDs(selfID string) []string {
	var ids []string
	for _, m := range c.messages {
		if m.RecipientID == selfID && m.Status < StatusRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
