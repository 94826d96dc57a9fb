package whispr

import (
	"context"
	"sync"
	"time"
)

// MutationState tags the lifecycle of an optimistic mutation.
type MutationState string

const (
	MutationPending   MutationState = "pending"
	MutationConfirmed MutationState = "confirmed"
	MutationFailed    MutationState = "failed"
)

// NotificationAggregator owns the durable notification list. It merges the
// fetched history with socket pushes, deduplicating by id, and raises at
// most one toast per notification id for its whole lifetime.
type NotificationAggregator struct {
	client *Client
	conn   *ConnectionManager
	toasts *ToastDispatcher

	mu      sync.RWMutex
	items   []Notification // newest first
	seen    map[string]struct{}
	loading bool

	lastMarkAll MutationState
	markStates  map[string]MutationState

	subMu  sync.Mutex
	unsubs []Unsubscribe
}

// NewNotificationAggregator creates an aggregator fed by the given
// connection. toasts may be nil when no toast surface exists.
func NewNotificationAggregator(client *Client, conn *ConnectionManager, toasts *ToastDispatcher) *NotificationAggregator {
	return &NotificationAggregator{
		client:     client,
		conn:       conn,
		toasts:     toasts,
		seen:       make(map[string]struct{}),
		markStates: make(map[string]MutationState),
	}
}

// Start subscribes to pushed notifications.
func (na *NotificationAggregator) Start() {
	unsub := na.conn.OnNotification(func(n Notification) {
		na.Push(n)
	})
	na.subMu.Lock()
	na.unsubs = append(na.unsubs, unsub)
	na.subMu.Unlock()
}

// Stop detaches all listeners.
func (na *NotificationAggregator) Stop() {
	na.subMu.Lock()
	unsubs := na.unsubs
	na.unsubs = nil
	na.subMu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Refresh fetches the notification history and merges it with whatever
// arrived over the socket in the meantime. Pushed items not present in the
// fetched list stay, so the merge result is the same whichever side landed
// first. A 401 is absorbed: an unauthenticated refresh just yields nothing.
func (na *NotificationAggregator) Refresh(ctx context.Context) error {
	na.mu.Lock()
	na.loading = true
	na.mu.Unlock()
	defer func() {
		na.mu.Lock()
		na.loading = false
		na.mu.Unlock()
	}()

	fetched, err := na.client.Notifications().List(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			logInfo("notification refresh skipped: not authenticated")
			return nil
		}
		return err
	}

	na.mu.Lock()
	defer na.mu.Unlock()

	fetchedIDs := make(map[string]struct{}, len(fetched))
	for _, n := range fetched {
		fetchedIDs[n.ID] = struct{}{}
		na.seen[n.ID] = struct{}{}
	}

	var merged []Notification
	for _, n := range na.items {
		if _, ok := fetchedIDs[n.ID]; !ok {
			merged = append(merged, n)
		}
	}
	na.items = append(merged, fetched...)
	return nil
}

// Push merges a single socket-delivered notification. Duplicates by id are
// dropped; the first sighting of an id raises its one and only toast.
func (na *NotificationAggregator) Push(n Notification) {
	if n.ID == "" {
		logWarn("dropping notification without id")
		return
	}

	na.mu.Lock()
	for _, existing := range na.items {
		if existing.ID == n.ID {
			na.mu.Unlock()
			return
		}
	}
	na.items = append([]Notification{n}, na.items...)

	_, alreadySeen := na.seen[n.ID]
	na.seen[n.ID] = struct{}{}
	na.mu.Unlock()

	if !alreadySeen && na.toasts != nil {
		na.toasts.Notify(ToastAlert{
			Type:     ToastInfo,
			Title:    notificationTitle(n),
			Message:  n.Text,
			Duration: 6 * time.Second,
		})
	}
}

func notificationTitle(n Notification) string {
	switch n.Type {
	case NotificationReply:
		return "New reply"
	case NotificationFollow:
		return "New follower"
	case NotificationAnonymous:
		return "New anonymous message"
	default:
		return "New message"
	}
}

// Notifications returns a copy of the list, newest first.
func (na *NotificationAggregator) Notifications() []Notification {
	na.mu.RLock()
	defer na.mu.RUnlock()
	out := make([]Notification, len(na.items))
	copy(out, na.items)
	return out
}

// UnreadNotifications returns the unread subset, newest first.
func (na *NotificationAggregator) UnreadNotifications() []Notification {
	na.mu.RLock()
	defer na.mu.RUnlock()
	var out []Notification
	for _, n := range na.items {
		if !n.IsRead {
			out = append(out, n)
		}
	}
	return out
}

// UnreadCount returns the number of unread notifications.
func (na *NotificationAggregator) UnreadCount() int {
	na.mu.RLock()
	defer na.mu.RUnlock()
	count := 0
	for _, n := range na.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

// Loading reports whether a refresh is in flight.
func (na *NotificationAggregator) Loading() bool {
	na.mu.RLock()
	defer na.mu.RUnlock()
	return na.loading
}

// MarkAllAsRead flips every notification to read and clears the toast
// queue before the server call goes out. The flip is not rolled back on
// failure; the state stays optimistic and a later refresh restores truth.
func (na *NotificationAggregator) MarkAllAsRead(ctx context.Context) {
	na.mu.Lock()
	for i := range na.items {
		na.items[i].IsRead = true
	}
	na.lastMarkAll = MutationPending
	na.mu.Unlock()

	if na.toasts != nil {
		na.toasts.ClearAll()
	}

	err := na.client.Notifications().MarkAllRead(ctx)

	na.mu.Lock()
	if err != nil {
		na.lastMarkAll = MutationFailed
	} else {
		na.lastMarkAll = MutationConfirmed
	}
	na.mu.Unlock()

	if err != nil {
		logWarn("mark-all-read failed, keeping optimistic state: %v", err)
	}
}

// MarkAsRead flips one notification to read, then confirms with the
// server. Like MarkAllAsRead, failures are logged and not rolled back.
func (na *NotificationAggregator) MarkAsRead(ctx context.Context, id string) {
	na.mu.Lock()
	found := false
	for i := range na.items {
		if na.items[i].ID == id {
			na.items[i].IsRead = true
			found = true
			break
		}
	}
	if !found {
		na.mu.Unlock()
		return
	}
	na.markStates[id] = MutationPending
	na.mu.Unlock()

	err := na.client.Notifications().MarkRead(ctx, id)

	na.mu.Lock()
	if err != nil {
		na.markStates[id] = MutationFailed
	} else {
		na.markStates[id] = MutationConfirmed
	}
	na.mu.Unlock()

	if err != nil {
		logWarn("mark-read %s failed, keeping optimistic state: %v", id, err)
	}
}

// MarkAllState returns the state of the last mark-all-read mutation.
func (na *NotificationAggregator) MarkAllState() MutationState {
	na.mu.RLock()
	defer na.mu.RUnlock()
	return na.lastMarkAll
}

// MarkState returns the state of the last mark-read mutation for id.
func (na *NotificationAggregator) MarkState(id string) MutationState {
	na.mu.RLock()
	defer na.mu.RUnlock()
	return na.markStates[id]
}

// Clear drops all aggregator state, for use when the session ends.
func (na *NotificationAggregator) Clear() {
	na.mu.Lock()
	na.items = nil
	na.seen = make(map[string]struct{})
	na.markStates = make(map[string]MutationState)
	na.lastMarkAll = ""
	na.mu.Unlock()
}
