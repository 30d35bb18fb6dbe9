package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/motormarket/realtime/internal/proto"
)

func newTestHub() *hub {
	nop := zerolog.Nop()
	return newHub(&nop)
}

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	h := newTestHub()
	alice := newClient("alice")
	bob := newClient("bob")

	h.subscribe(alice, "conv:c1")
	h.subscribe(bob, "conv:c1")

	h.broadcast("conv:c1", proto.EventNewMessage, []byte(`{}`), nil)

	for _, c := range []*client{alice, bob} {
		select {
		case f := <-c.send:
			if f.Event != proto.EventNewMessage || f.Topic != "conv:c1" {
				t.Fatalf("unexpected frame for %s: %+v", c.userID, f)
			}
		default:
			t.Fatalf("no frame delivered to %s", c.userID)
		}
	}
}

func TestHubBroadcastExcludesPublisher(t *testing.T) {
	h := newTestHub()
	alice := newClient("alice")
	bob := newClient("bob")

	h.subscribe(alice, "conv:c1")
	h.subscribe(bob, "conv:c1")

	h.broadcast("conv:c1", proto.EventTypingIndicator, []byte(`{}`), alice)

	select {
	case f := <-alice.send:
		t.Fatalf("publisher received its own frame: %+v", f)
	default:
	}
	select {
	case <-bob.send:
	default:
		t.Fatal("peer did not receive the frame")
	}
}

func TestHubDropRemovesAllSubscriptions(t *testing.T) {
	h := newTestHub()
	alice := newClient("alice")

	h.subscribe(alice, "conv:c1")
	h.subscribe(alice, "user:bob")
	h.drop(alice)

	h.broadcast("conv:c1", proto.EventNewMessage, []byte(`{}`), nil)
	h.broadcast("user:bob", proto.EventPresence, []byte(`{}`), nil)

	if _, ok := <-alice.send; ok {
		t.Fatal("frame delivered after drop")
	}
	if alice.deliver(proto.Frame{Type: proto.FrameEvent}) {
		t.Fatal("deliver succeeded on a closed client")
	}
}

func TestHubDropsFramesForSlowConsumer(t *testing.T) {
	h := newTestHub()
	alice := newClient("alice")
	h.subscribe(alice, "conv:c1")

	// Fill the buffer and one more; the overflow must not block.
	for i := 0; i < cap(alice.send)+5; i++ {
		h.broadcast("conv:c1", proto.EventNewMessage, []byte(`{}`), nil)
	}
	if len(alice.send) != cap(alice.send) {
		t.Fatalf("buffer = %d, want full %d", len(alice.send), cap(alice.send))
	}
}
