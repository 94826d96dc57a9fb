package whispr

import (
	"context"
	"sync"
	"time"
)

// ConnectionManager gates the real-time socket on authentication: it
// connects only when a session exists, announces the user's room on every
// connect, and leaves the room when the session ends. Sends are fail-silent
// so callers never branch on transport state.
type ConnectionManager struct {
	session *Session
	rt      *RealtimeClient

	mu           sync.Mutex
	started      bool
	joinedUserID string
	unsubs       []Unsubscribe
}

// NewConnectionManager wires the session to the real-time client.
func NewConnectionManager(session *Session, rt *RealtimeClient) *ConnectionManager {
	return &ConnectionManager{session: session, rt: rt}
}

// Start connects the socket if a session exists and keeps connection state
// aligned with auth transitions from then on.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.started = true
	cm.mu.Unlock()

	unsubConn := cm.rt.OnConnected(func() {
		cm.announce(ctx)
	})
	unsubAuth := cm.session.OnChange(func(state SessionState) {
		if state.Authenticated {
			cm.connect(ctx)
			return
		}
		cm.depart(ctx)
	})

	cm.mu.Lock()
	cm.unsubs = append(cm.unsubs, unsubConn, unsubAuth)
	cm.mu.Unlock()

	if !cm.session.IsAuthenticated() {
		return nil
	}
	return cm.connect(ctx)
}

func (cm *ConnectionManager) connect(ctx context.Context) error {
	cm.rt.SetToken(cm.session.Token())
	if err := cm.rt.Connect(ctx); err != nil {
		logWarn("socket connect failed: %v", err)
		return err
	}
	return nil
}

// announce emits join for the current user. It runs on every connect, so
// reconnects re-enter the room without extra bookkeeping.
func (cm *ConnectionManager) announce(ctx context.Context) {
	userID := cm.session.UserID()
	if userID == "" {
		return
	}
	cm.mu.Lock()
	cm.joinedUserID = userID
	cm.mu.Unlock()
	if err := cm.rt.Emit(ctx, EventJoin, userID); err != nil {
		logWarn("join emit failed: %v", err)
	}
}

// depart emits leave for the previously joined user. The transport stays
// up; only the room membership ends with the session.
func (cm *ConnectionManager) depart(ctx context.Context) {
	cm.mu.Lock()
	userID := cm.joinedUserID
	cm.joinedUserID = ""
	cm.mu.Unlock()
	if userID == "" {
		return
	}
	emitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cm.rt.Emit(emitCtx, EventLeave, userID); err != nil {
		logDebug("leave emit failed: %v", err)
	}
}

// Stop emits leave, detaches all listeners, and closes the socket.
func (cm *ConnectionManager) Stop() {
	cm.depart(context.Background())

	cm.mu.Lock()
	unsubs := cm.unsubs
	cm.unsubs = nil
	cm.started = false
	cm.mu.Unlock()
	for _, u := range unsubs {
		u()
	}

	if err := cm.rt.Disconnect(); err != nil {
		logDebug("socket disconnect: %v", err)
	}
}

// Connected reports whether the socket is currently connected.
func (cm *ConnectionManager) Connected() bool {
	return cm.rt.Connected()
}

// Send emits an event if the socket is connected. It fails silently:
// a false return means the event was not sent, and callers are expected
// to carry on.
func (cm *ConnectionManager) Send(event string, payload interface{}, ack AckFunc) bool {
	if !cm.rt.Connected() {
		logWarn("dropping %s: socket not connected", event)
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if ack != nil {
		err = cm.rt.EmitWithAck(ctx, event, payload, ack)
	} else {
		err = cm.rt.Emit(ctx, event, payload)
	}
	if err != nil {
		logWarn("dropping %s: %v", event, err)
		return false
	}
	return true
}

// ── Subscription passthroughs ─────────────────────────────

func (cm *ConnectionManager) OnConnected(h func()) Unsubscribe {
	return cm.rt.OnConnected(h)
}

func (cm *ConnectionManager) OnDisconnected(h func(code int, reason string)) Unsubscribe {
	return cm.rt.OnDisconnected(h)
}

func (cm *ConnectionManager) OnNotification(h func(Notification)) Unsubscribe {
	return cm.rt.OnNotification(h)
}

func (cm *ConnectionManager) OnMessageNew(h func(Message)) Unsubscribe {
	return cm.rt.OnMessageNew(h)
}

func (cm *ConnectionManager) OnPresenceState(h func([]PresenceEntry)) Unsubscribe {
	return cm.rt.OnPresenceState(h)
}

func (cm *ConnectionManager) OnPresenceUpdate(h func(PresenceEntry)) Unsubscribe {
	return cm.rt.OnPresenceUpdate(h)
}
