package whispr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Contract
// ============================================================================

// Client→server events.
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventPresenceRequest = "presence:request"
)

// Server→client events.
const (
	EventNotification   = "notification"
	EventMessageNew     = "message.new"
	EventMessageRead    = "message.read"
	EventPresenceState  = "presence:state"
	EventPresenceUpdate = "presence:update"
	eventAck            = "ack"
)

// Envelope is the wire format for all real-time events.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Command is a client-to-server event. AckID is set when the caller wants
// the server's acknowledgement routed back to it.
type Command struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
	AckID   string      `json:"ackId,omitempty"`
}

type ackEnvelope struct {
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckFunc receives the server's acknowledgement payload for a sent event.
type AckFunc func(data json.RawMessage)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the real-time client.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 5 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(event string, payload json.RawMessage)

// Unsubscribe removes a previously registered handler. Each subscription
// returns its own token so components can detach exactly what they attached
// without leaking duplicate listeners across restarts.
type Unsubscribe func()

type eventDispatcher struct {
	mu     sync.RWMutex
	nextID int

	onNotification   map[int]func(Notification)
	onMessageNew     map[int]func(Message)
	onPresenceState  map[int]func([]PresenceEntry)
	onPresenceUpdate map[int]func(PresenceEntry)
	onConnected      map[int]func()
	onDisconnected   map[int]func(code int, reason string)
	onReconnecting   map[int]func(attempt int, delay time.Duration)
	generic          map[string]map[int]RealtimeEventHandler
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		onNotification:   make(map[int]func(Notification)),
		onMessageNew:     make(map[int]func(Message)),
		onPresenceState:  make(map[int]func([]PresenceEntry)),
		onPresenceUpdate: make(map[int]func(PresenceEntry)),
		onConnected:      make(map[int]func()),
		onDisconnected:   make(map[int]func(code int, reason string)),
		onReconnecting:   make(map[int]func(attempt int, delay time.Duration)),
		generic:          make(map[string]map[int]RealtimeEventHandler),
	}
}

func (d *eventDispatcher) id() int {
	d.nextID++
	return d.nextID
}

// dispatch routes a server event to its typed handlers. Handlers run
// synchronously so events are applied in socket-delivery order. Payloads
// are validated once here; malformed ones are logged and dropped rather
// than probed at every call site.
func (d *eventDispatcher) dispatch(env Envelope) {
	switch env.Event {
	case EventNotification:
		var p Notification
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logWarn("dropping malformed %s payload: %v", env.Event, err)
			break
		}
		for _, h := range d.notificationHandlers() {
			h(p)
		}
	case EventMessageNew:
		var p Message
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logWarn("dropping malformed %s payload: %v", env.Event, err)
			break
		}
		for _, h := range d.messageNewHandlers() {
			h(p)
		}
	case EventPresenceState:
		var p []PresenceEntry
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logWarn("dropping malformed %s payload: %v", env.Event, err)
			break
		}
		for _, h := range d.presenceStateHandlers() {
			h(p)
		}
	case EventPresenceUpdate:
		var p PresenceEntry
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logWarn("dropping malformed %s payload: %v", env.Event, err)
			break
		}
		for _, h := range d.presenceUpdateHandlers() {
			h(p)
		}
	}

	d.mu.RLock()
	var handlers []RealtimeEventHandler
	for _, h := range d.generic[env.Event] {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env.Event, env.Payload)
	}
}

func (d *eventDispatcher) notificationHandlers() []func(Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]func(Notification), 0, len(d.onNotification))
	for _, h := range d.onNotification {
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) messageNewHandlers() []func(Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]func(Message), 0, len(d.onMessageNew))
	for _, h := range d.onMessageNew {
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) presenceStateHandlers() []func([]PresenceEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]func([]PresenceEntry), 0, len(d.onPresenceState))
	for _, h := range d.onPresenceState {
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) presenceUpdateHandlers() []func(PresenceEntry) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]func(PresenceEntry), 0, len(d.onPresenceUpdate))
	for _, h := range d.onPresenceUpdate {
		out = append(out, h)
	}
	return out
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := make([]func(), 0, len(d.onConnected))
	for _, h := range d.onConnected {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := make([]func(int, string), 0, len(d.onDisconnected))
	for _, h := range d.onDisconnected {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := make([]func(int, time.Duration), 0, len(d.onReconnecting))
	for _, h := range d.onReconnecting {
		handlers = append(handlers, h)
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient is the single persistent event socket, multiplexing
// presence, notification, and message events, with auto-reconnect and
// heartbeat. There is exactly one per session.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	dispatcher *eventDispatcher
	recon      *reconnector

	ackCounter  int
	pendingAcks map[string]AckFunc
	ackMu       sync.Mutex
}

// NewRealtimeClient creates a real-time client for the given socket base
// URL (http/https scheme; it is rewritten to ws/wss on dial). Call
// Connect to establish the connection.
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	if baseURL == "" {
		baseURL = DefaultSocketURL
	}
	return &RealtimeClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		config:      &cfg,
		state:       StateDisconnected,
		dispatcher:  newEventDispatcher(),
		recon:       newReconnector(&cfg),
		pendingAcks: make(map[string]AckFunc),
	}
}

// SetToken updates the token attached to the connection handshake. It takes
// effect on the next connect.
func (rt *RealtimeClient) SetToken(token string) {
	rt.mu.Lock()
	rt.config.Token = token
	rt.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connected reports whether the socket is currently connected.
func (rt *RealtimeClient) Connected() bool {
	return rt.State() == StateConnected
}

// ── Subscriptions ─────────────────────────────────────────

// OnNotification registers a handler for pushed notifications.
func (rt *RealtimeClient) OnNotification(h func(Notification)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onNotification[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onNotification, id)
		d.mu.Unlock()
	}
}

// OnMessageNew registers a handler for pushed messages.
func (rt *RealtimeClient) OnMessageNew(h func(Message)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onMessageNew[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onMessageNew, id)
		d.mu.Unlock()
	}
}

// OnPresenceState registers a handler for full presence snapshots.
func (rt *RealtimeClient) OnPresenceState(h func([]PresenceEntry)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onPresenceState[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onPresenceState, id)
		d.mu.Unlock()
	}
}

// OnPresenceUpdate registers a handler for single-entry presence updates.
func (rt *RealtimeClient) OnPresenceUpdate(h func(PresenceEntry)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onPresenceUpdate[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onPresenceUpdate, id)
		d.mu.Unlock()
	}
}

// OnConnected registers a handler for the connected meta-event. It fires on
// every successful connect, including reconnects.
func (rt *RealtimeClient) OnConnected(h func()) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onConnected[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onConnected, id)
		d.mu.Unlock()
	}
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(code int, reason string)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onDisconnected[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onDisconnected, id)
		d.mu.Unlock()
	}
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	d.onReconnecting[id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.onReconnecting, id)
		d.mu.Unlock()
	}
}

// On registers a generic event handler.
func (rt *RealtimeClient) On(event string, h RealtimeEventHandler) Unsubscribe {
	d := rt.dispatcher
	d.mu.Lock()
	id := d.id()
	if d.generic[event] == nil {
		d.generic[event] = make(map[int]RealtimeEventHandler)
	}
	d.generic[event][id] = h
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.generic[event], id)
		d.mu.Unlock()
	}
}

// ── Lifecycle ─────────────────────────────────────────────

// Connect establishes the socket connection, attaching the configured token
// to the handshake so the server can authenticate the socket.
func (rt *RealtimeClient) Connect(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	token := rt.config.Token
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx)
	go rt.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.mu.Unlock()

	rt.clearPendingAcks()

	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
	rt.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	return err
}

// ── Sending ───────────────────────────────────────────────

// Emit sends an event over the socket.
func (rt *RealtimeClient) Emit(ctx context.Context, event string, payload interface{}) error {
	return rt.send(ctx, &Command{Event: event, Payload: payload})
}

// EmitWithAck sends an event and routes the server's acknowledgement to ack.
func (rt *RealtimeClient) EmitWithAck(ctx context.Context, event string, payload interface{}, ack AckFunc) error {
	if ack == nil {
		return rt.Emit(ctx, event, payload)
	}

	rt.ackMu.Lock()
	rt.ackCounter++
	ackID := fmt.Sprintf("ack-%d", rt.ackCounter)
	rt.pendingAcks[ackID] = ack
	rt.ackMu.Unlock()

	err := rt.send(ctx, &Command{Event: event, Payload: payload, AckID: ackID})
	if err != nil {
		rt.ackMu.Lock()
		delete(rt.pendingAcks, ackID)
		rt.ackMu.Unlock()
	}
	return err
}

func (rt *RealtimeClient) send(ctx context.Context, cmd *Command) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ── Loops ─────────────────────────────────────────────────

func (rt *RealtimeClient) readLoop(ctx context.Context) {
	for {
		rt.mu.Lock()
		conn := rt.conn
		rt.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.clearPendingAcks()
			logWarn("socket read failed: %v", err)
			rt.dispatcher.emitDisconnected(0, err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect(ctx)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logWarn("dropping malformed envelope: %v", err)
			continue
		}

		if env.Event == eventAck {
			var a ackEnvelope
			if json.Unmarshal(env.Payload, &a) == nil && a.AckID != "" {
				rt.ackMu.Lock()
				ack, ok := rt.pendingAcks[a.AckID]
				if ok {
					delete(rt.pendingAcks, a.AckID)
				}
				rt.ackMu.Unlock()
				if ok {
					ack(a.Data)
				}
			}
			continue
		}

		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			conn := rt.conn
			s := rt.state
			rt.mu.Unlock()
			if s != StateConnected || conn == nil {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				// Heartbeat failed — force close; readLoop handles recovery.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect(ctx context.Context) {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

	time.Sleep(delay)

	if err := rt.Connect(ctx); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect(ctx)
		} else {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
		}
	}
}

func (rt *RealtimeClient) clearPendingAcks() {
	rt.ackMu.Lock()
	rt.pendingAcks = make(map[string]AckFunc)
	rt.ackMu.Unlock()
}
