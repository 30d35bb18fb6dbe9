package core

import "time"

// PresenceEntry is the last known connection state of a peer.
type PresenceEntry struct {
	Online   bool
	LastSeen time.Time
}

type typingKey struct {
	conversationID string
	userID         string
}

// presenceTracker keeps peer online flags and self-expiring typing
// flags, plus the coalesced local presence and typing signal state.
// All methods run on the session loop; expiry timers re-enter via sink.
type presenceTracker struct {
	idleTimeout time.Duration
	sink        tickSink
	onExpire    func(conversationID, userID string)

	selfOnline    bool
	selfAnnounced bool

	peers map[string]PresenceEntry

	remoteTyping map[typingKey]*loopTimer

	localTyping      map[string]bool
	localTypingTimer map[string]*loopTimer
	onLocalStop      func(conversationID string)
}

func newPresenceTracker(idleTimeout time.Duration, sink tickSink, onExpire func(conv, user string), onLocalStop func(conv string)) *presenceTracker {
	return &presenceTracker{
		idleTimeout:      idleTimeout,
		sink:             sink,
		onExpire:         onExpire,
		onLocalStop:      onLocalStop,
		peers:            make(map[string]PresenceEntry),
		remoteTyping:     make(map[typingKey]*loopTimer),
		localTyping:      make(map[string]bool),
		localTypingTimer: make(map[string]*loopTimer),
	}
}

// TrackSelf records the local presence state and reports whether it
// needs broadcasting. Duplicate consecutive states are coalesced.
func (p *presenceTracker) TrackSelf(online bool) bool {
	if p.selfAnnounced && p.selfOnline == online {
		return false
	}
	p.selfOnline = online
	p.selfAnnounced = true
	return true
}

// SetPeer applies a remote presence event and reports whether the
// online flag flipped.
func (p *presenceTracker) SetPeer(userID string, online bool, lastSeen time.Time) bool {
	prev, known := p.peers[userID]
	p.peers[userID] = PresenceEntry{Online: online, LastSeen: lastSeen}
	return !known || prev.Online != online
}

// Peer returns the last known presence of a user.
func (p *presenceTracker) Peer(userID string) (PresenceEntry, bool) {
	entry, ok := p.peers[userID]
	return entry, ok
}

// RemoteTypingStart sets the peer typing flag with a fresh expiry and
// reports whether the flag was newly raised. The expiry timer protects
// against a lost stop signal.
func (p *presenceTracker) RemoteTypingStart(conversationID, userID string) bool {
	key := typingKey{conversationID: conversationID, userID: userID}
	timer, active := p.remoteTyping[key]
	if !active {
		timer = newLoopTimer(p.sink, func() {
			p.expireRemote(key)
		})
		p.remoteTyping[key] = timer
	}
	timer.Refresh(p.idleTimeout)
	return !active
}

// RemoteTypingStop clears the peer typing flag and reports whether it
// was set.
func (p *presenceTracker) RemoteTypingStop(conversationID, userID string) bool {
	key := typingKey{conversationID: conversationID, userID: userID}
	timer, active := p.remoteTyping[key]
	if !active {
		return false
	}
	timer.Cancel()
	delete(p.remoteTyping, key)
	return true
}

func (p *presenceTracker) expireRemote(key typingKey) {
	if _, active := p.remoteTyping[key]; !active {
		return
	}
	delete(p.remoteTyping, key)
	p.onExpire(key.conversationID, key.userID)
}

// IsTyping reports whether the peer typing flag is currently set.
func (p *presenceTracker) IsTyping(conversationID, userID string) bool {
	_, active := p.remoteTyping[typingKey{conversationID: conversationID, userID: userID}]
	return active
}

// LocalActivity registers input activity in a conversation. It reports
// whether a "typing start" signal must be broadcast: once per idle
// period, with every call refreshing the idle timer.
func (p *presenceTracker) LocalActivity(conversationID string) bool {
	timer, ok := p.localTypingTimer[conversationID]
	if !ok {
		timer = newLoopTimer(p.sink, func() {
			p.idleLocal(conversationID)
		})
		p.localTypingTimer[conversationID] = timer
	}
	timer.Refresh(p.idleTimeout)

	if p.localTyping[conversationID] {
		return false
	}
	p.localTyping[conversationID] = true
	return true
}

func (p *presenceTracker) idleLocal(conversationID string) {
	if !p.localTyping[conversationID] {
		return
	}
	delete(p.localTyping, conversationID)
	p.onLocalStop(conversationID)
}

// TeardownConversation cancels every typing timer tied to one
// conversation, remote and local, without emitting signals.
func (p *presenceTracker) TeardownConversation(conversationID string) {
	for key, timer := range p.remoteTyping {
		if key.conversationID == conversationID {
			timer.Cancel()
			delete(p.remoteTyping, key)
		}
	}
	if timer, ok := p.localTypingTimer[conversationID]; ok {
		timer.Cancel()
		delete(p.localTypingTimer, conversationID)
	}
	delete(p.localTyping, conversationID)
}

// teardown cancels all outstanding timers.
func (p *presenceTracker) teardown() {
	for key, timer := range p.remoteTyping {
		timer.Cancel()
		delete(p.remoteTyping, key)
	}
	for conv, timer := range p.localTypingTimer {
		timer.Cancel()
		delete(p.localTypingTimer, conv)
	}
	p.localTyping = make(map[string]bool)
}
