package core

import (
	"testing"
	"time"
)

func msgAt(id, sender, recipient string, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		RecipientID:    recipient,
		Content:        "m-" + id,
		Status:         StatusSent,
		CreatedAt:      at,
	}
}

func orderedIDs(c *Conversation) []string {
	msgs := c.Ordered()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestConversationOrdersByTimestampNotArrival(t *testing.T) {
	base := time.Now().UTC()
	conv := newConversation("c1", "bob")

	// Arrival order A, C, B; timestamps t1 < t2 < t3.
	conv.append(msgAt("a", "bob", "alice", base))
	conv.append(msgAt("c", "bob", "alice", base.Add(2*time.Second)))
	conv.append(msgAt("b", "bob", "alice", base.Add(time.Second)))

	got := orderedIDs(conv)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestConversationTimestampTieBreaksByID(t *testing.T) {
	at := time.Now().UTC()
	conv := newConversation("c1", "bob")

	conv.append(msgAt("z", "bob", "alice", at))
	conv.append(msgAt("a", "bob", "alice", at))

	got := orderedIDs(conv)
	if got[0] != "a" || got[1] != "z" {
		t.Fatalf("tie order = %v, want [a z]", got)
	}
}

func TestConversationAppendIsIdempotent(t *testing.T) {
	conv := newConversation("c1", "bob")
	m := msgAt("a", "bob", "alice", time.Now().UTC())

	if !conv.append(m) {
		t.Fatal("first append rejected")
	}
	if conv.append(m) {
		t.Fatal("duplicate append accepted")
	}
	if len(conv.Ordered()) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Ordered()))
	}
}

func TestConversationRekeyMovesOptimisticEntry(t *testing.T) {
	base := time.Now().UTC()
	conv := newConversation("c1", "bob")

	conv.append(msgAt("srv-1", "bob", "alice", base.Add(time.Second)))

	pending := Message{
		ID:             "local-1",
		LocalID:        "local-1",
		ConversationID: "c1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Status:         StatusPending,
		CreatedAt:      base.Add(10 * time.Second), // provisional clock
	}
	conv.append(pending)

	entry := conv.rekey("local-1", "srv-2", base)
	if entry == nil {
		t.Fatal("rekey returned nil")
	}
	if entry.ID != "srv-2" || !entry.CreatedAt.Equal(base) {
		t.Fatalf("entry not rekeyed: %+v", entry)
	}

	got := orderedIDs(conv)
	if got[0] != "srv-2" || got[1] != "srv-1" {
		t.Fatalf("order after rekey = %v", got)
	}
	if conv.get("local-1") != nil {
		t.Fatal("provisional id still resolvable")
	}
	if conv.getLocal("local-1") != entry {
		t.Fatal("local id lost after rekey")
	}
}

func TestConversationAdoptFoldsPendingIntoEcho(t *testing.T) {
	base := time.Now().UTC()
	conv := newConversation("c1", "bob")

	// Echo arrived first with the authoritative identity.
	echo := msgAt("srv-1", "alice", "bob", base)
	conv.append(echo)

	pending := Message{
		ID:        "local-1",
		LocalID:   "local-1",
		SenderID:  "alice",
		Status:    StatusPending,
		CreatedAt: base.Add(time.Millisecond),
	}
	conv.append(pending)

	entry := conv.adopt("local-1", "srv-1")
	if entry == nil || entry.ID != "srv-1" {
		t.Fatalf("adopt returned %+v", entry)
	}
	if len(conv.Ordered()) != 1 {
		t.Fatalf("expected pending entry dropped, have %d messages", len(conv.Ordered()))
	}
	if conv.getLocal("local-1") != entry {
		t.Fatal("local id did not transfer to the echo entry")
	}
	// The dropped pending entry leaves no index behind.
	if conv.get("local-1") != nil {
		t.Fatal("provisional id still resolvable after adoption")
	}
}

func TestConversationUnreadCount(t *testing.T) {
	base := time.Now().UTC()
	conv := newConversation("c1", "bob")

	conv.append(msgAt("in-1", "bob", "alice", base))
	conv.append(msgAt("in-2", "bob", "alice", base.Add(time.Second)))
	conv.append(msgAt("out-1", "alice", "bob", base.Add(2*time.Second)))

	if got := conv.UnreadCount("alice"); got != 2 {
		t.Fatalf("unread = %d, want 2", got)
	}

	advance(conv.get("in-1"), StatusRead)
	if got := conv.UnreadCount("alice"); got != 1 {
		t.Fatalf("unread after read = %d, want 1", got)
	}

	ids := conv.unreadIDs("alice")
	if len(ids) != 1 || ids[0] != "in-2" {
		t.Fatalf("unreadIDs = %v, want [in-2]", ids)
	}
}
