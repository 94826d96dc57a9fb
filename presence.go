package whispr

import (
	"sync"
)

// PresenceTracker maintains the live online/offline map for all known
// users. Snapshots replace the map wholesale; incremental updates merge
// into it, never losing an already-known last-seen timestamp.
type PresenceTracker struct {
	conn    *ConnectionManager
	session *Session

	mu      sync.RWMutex
	entries map[string]PresenceEntry

	subMu  sync.Mutex
	unsubs []Unsubscribe
}

// NewPresenceTracker creates a tracker fed by the given connection.
func NewPresenceTracker(session *Session, conn *ConnectionManager) *PresenceTracker {
	return &PresenceTracker{
		session: session,
		conn:    conn,
		entries: make(map[string]PresenceEntry),
	}
}

// Start subscribes to presence events. A fresh snapshot is requested on
// every connect so state recovers after reconnects; losing the session
// clears the map.
func (pt *PresenceTracker) Start() {
	unsubs := []Unsubscribe{
		pt.conn.OnConnected(func() {
			pt.requestSnapshot()
		}),
		pt.conn.OnPresenceState(func(entries []PresenceEntry) {
			pt.ApplySnapshot(entries)
		}),
		pt.conn.OnPresenceUpdate(func(entry PresenceEntry) {
			pt.ApplyUpdate(entry)
		}),
		pt.session.OnChange(func(state SessionState) {
			if state.Authenticated {
				pt.requestSnapshot()
				return
			}
			if !state.Loading {
				pt.clear()
			}
		}),
	}

	pt.subMu.Lock()
	pt.unsubs = append(pt.unsubs, unsubs...)
	pt.subMu.Unlock()

	if pt.conn.Connected() {
		pt.requestSnapshot()
	}
}

// Stop detaches all listeners.
func (pt *PresenceTracker) Stop() {
	pt.subMu.Lock()
	unsubs := pt.unsubs
	pt.unsubs = nil
	pt.subMu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (pt *PresenceTracker) requestSnapshot() {
	pt.conn.Send(EventPresenceRequest, nil, nil)
}

// ApplySnapshot replaces the whole presence map with the server's
// authoritative state. Entries without a user id are dropped.
func (pt *PresenceTracker) ApplySnapshot(entries []PresenceEntry) {
	next := make(map[string]PresenceEntry, len(entries))
	for _, e := range entries {
		if e.UserID == "" {
			logWarn("dropping presence entry without user id")
			continue
		}
		next[e.UserID] = e
	}
	pt.mu.Lock()
	pt.entries = next
	pt.mu.Unlock()
}

// ApplyUpdate merges a single-user update. An update without a last-seen
// value keeps the previously known one, so a user flapping online never
// erases when they were last seen.
func (pt *PresenceTracker) ApplyUpdate(entry PresenceEntry) {
	if entry.UserID == "" {
		logWarn("dropping presence update without user id")
		return
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if entry.LastSeen == "" {
		if prev, ok := pt.entries[entry.UserID]; ok {
			entry.LastSeen = prev.LastSeen
		}
	}
	pt.entries[entry.UserID] = entry
}

func (pt *PresenceTracker) clear() {
	pt.mu.Lock()
	pt.entries = make(map[string]PresenceEntry)
	pt.mu.Unlock()
}

// GetPresence returns the tracked entry for a user.
func (pt *PresenceTracker) GetPresence(userID string) (PresenceEntry, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	e, ok := pt.entries[userID]
	return e, ok
}

// IsOnline reports whether a user is currently online. Unknown users are
// offline.
func (pt *PresenceTracker) IsOnline(userID string) bool {
	e, ok := pt.GetPresence(userID)
	return ok && e.IsOnline
}

// Snapshot returns a copy of the full presence map.
func (pt *PresenceTracker) Snapshot() map[string]PresenceEntry {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make(map[string]PresenceEntry, len(pt.entries))
	for k, v := range pt.entries {
		out[k] = v
	}
	return out
}
