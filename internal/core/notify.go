package core

import (
	"fmt"
	"time"
)

// NotificationType is the marketplace event category.
type NotificationType string

const (
	NotificationMessage   NotificationType = "message"
	NotificationSystem    NotificationType = "system"
	NotificationAdInquiry NotificationType = "ad_inquiry"
	NotificationOffer     NotificationType = "offer"
	NotificationPriceDrop NotificationType = "price_drop"
	NotificationFavorite  NotificationType = "favorite"
	NotificationReview    NotificationType = "review"
)

// Priority decides whether a notification is surfaced immediately or
// only stored.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// priorityTable is the static type classification. Unknown types fall
// back to low so a new backend event kind can never storm the user.
var priorityTable = map[NotificationType]Priority{
	NotificationMessage:   PriorityHigh,
	NotificationOffer:     PriorityHigh,
	NotificationSystem:    PriorityMedium,
	NotificationAdInquiry: PriorityMedium,
	NotificationReview:    PriorityMedium,
	NotificationPriceDrop: PriorityLow,
	NotificationFavorite:  PriorityLow,
}

// Classify maps a notification type to its priority.
func Classify(t NotificationType) Priority {
	if p, ok := priorityTable[t]; ok {
		return p
	}
	return PriorityLow
}

// Notification is a stored marketplace notification.
type Notification struct {
	ID        string
	Type      NotificationType
	Priority  Priority
	Title     string
	Content   string
	RelatedID string
	IsRead    bool
	CreatedAt time.Time
}

type groupKey struct {
	typ      NotificationType
	priority Priority
}

type batchGroup struct {
	entries []Notification
	timer   *loopTimer
}

// notificationCenter classifies incoming events, stores them, and
// aggregates bursts. High-priority events are reported immediate;
// every event also joins a per-(type,priority) group whose window is
// measured from the group's first entry. On expiry, a group with more
// than one entry flushes exactly one aggregated summary; single
// entries stay stored without re-surfacing.
//
// All methods run on the session loop; timers re-enter through sink.
type notificationCenter struct {
	window  time.Duration
	sink    tickSink
	onFlush func(BatchSummary)

	items  []*Notification
	byID   map[string]*Notification
	groups map[groupKey]*batchGroup
}

func newNotificationCenter(window time.Duration, sink tickSink, onFlush func(BatchSummary)) *notificationCenter {
	return &notificationCenter{
		window:  window,
		sink:    sink,
		onFlush: onFlush,
		byID:    make(map[string]*Notification),
		groups:  make(map[groupKey]*batchGroup),
	}
}

// Add stores the notification and enrolls it in its batch group.
// It reports whether the entry was new and whether it must be surfaced
// immediately. Duplicate ids are dropped.
func (nc *notificationCenter) Add(n Notification) (added, immediate bool) {
	if _, exists := nc.byID[n.ID]; exists {
		return false, false
	}

	entry := &n
	nc.items = append(nc.items, entry)
	nc.byID[n.ID] = entry

	key := groupKey{typ: n.Type, priority: n.Priority}
	group, ok := nc.groups[key]
	if !ok {
		group = &batchGroup{}
		group.timer = newLoopTimer(nc.sink, func() {
			nc.expire(key)
		})
		nc.groups[key] = group
		// Window measured from the first entry of the group.
		group.timer.Start(nc.window)
	}
	group.entries = append(group.entries, n)

	return true, n.Priority == PriorityHigh
}

func (nc *notificationCenter) expire(key groupKey) {
	group, ok := nc.groups[key]
	if !ok {
		return
	}
	delete(nc.groups, key)

	if len(group.entries) < 2 {
		// A lone entry was already stored (and, if high priority,
		// already surfaced); nothing to re-surface.
		return
	}

	nc.onFlush(BatchSummary{
		Type:     key.typ,
		Priority: key.priority,
		Count:    len(group.entries),
		Title:    fmt.Sprintf("%d new %s notifications", len(group.entries), key.typ),
	})
}

// MarkRead marks one notification read. Idempotent.
func (nc *notificationCenter) MarkRead(id string) bool {
	entry, ok := nc.byID[id]
	if !ok || entry.IsRead {
		return false
	}
	entry.IsRead = true
	return true
}

// MarkAllRead marks the given ids read, skipping unknown and already
// read entries.
func (nc *notificationCenter) MarkAllRead(ids []string) int {
	n := 0
	for _, id := range ids {
		if nc.MarkRead(id) {
			n++
		}
	}
	return n
}

// UnreadCount is recomputed from the underlying set on every call.
func (nc *notificationCenter) UnreadCount() int {
	n := 0
	for _, entry := range nc.items {
		if !entry.IsRead {
			n++
		}
	}
	return n
}

// All returns a snapshot of stored notifications in arrival order.
func (nc *notificationCenter) All() []Notification {
	out := make([]Notification, len(nc.items))
	for i, entry := range nc.items {
		out[i] = *entry
	}
	return out
}

// teardown cancels every pending batch window.
func (nc *notificationCenter) teardown() {
	for key, group := range nc.groups {
		group.timer.Cancel()
		delete(nc.groups, key)
	}
}
