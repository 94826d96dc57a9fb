package whispr

import (
	"context"
	"strings"
	"sync"
)

// MaskedReplyPlaceholder is rendered in place of an anonymous parent's
// content for viewers who are not its intended recipient.
const MaskedReplyPlaceholder = "Anonymous message"

// ConversationManager owns the conversation list and the active thread.
// Threads exclude anonymous traffic entirely; pushed messages append to the
// active thread under a dup guard, and every push refreshes the summary
// list regardless of which conversation it belongs to.
type ConversationManager struct {
	client  *Client
	session *Session
	conn    *ConnectionManager
	store   *MemoryStore

	mu            sync.RWMutex
	conversations []Conversation
	activeConvID  string
	thread        []Message
	draftProfile  *User
	lastError     error
	loadingList   bool
	loadingThread bool
	sendState     MutationState

	subMu  sync.Mutex
	unsubs []Unsubscribe
}

// NewConversationManager creates a manager fed by the given connection.
func NewConversationManager(client *Client, session *Session, conn *ConnectionManager) *ConversationManager {
	return &ConversationManager{
		client:  client,
		session: session,
		conn:    conn,
		store:   NewMemoryStore(),
	}
}

// Store exposes the backing cache.
func (cv *ConversationManager) Store() *MemoryStore {
	return cv.store
}

// Start subscribes to pushed messages.
func (cv *ConversationManager) Start() {
	unsubs := []Unsubscribe{
		cv.conn.OnMessageNew(func(m Message) {
			cv.HandlePush(m)
		}),
		cv.session.OnChange(func(state SessionState) {
			if !state.Authenticated && !state.Loading {
				cv.clear()
			}
		}),
	}
	cv.subMu.Lock()
	cv.unsubs = append(cv.unsubs, unsubs...)
	cv.subMu.Unlock()
}

// Stop detaches all listeners.
func (cv *ConversationManager) Stop() {
	cv.subMu.Lock()
	unsubs := cv.unsubs
	cv.unsubs = nil
	cv.subMu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

func (cv *ConversationManager) clear() {
	cv.mu.Lock()
	cv.conversations = nil
	cv.activeConvID = ""
	cv.thread = nil
	cv.draftProfile = nil
	cv.lastError = nil
	cv.sendState = ""
	cv.mu.Unlock()
	cv.store.Clear()
}

// ── Conversation list ─────────────────────────────────────

// RefreshConversations fetches the summary list.
func (cv *ConversationManager) RefreshConversations(ctx context.Context) error {
	cv.mu.Lock()
	cv.loadingList = true
	cv.mu.Unlock()
	defer func() {
		cv.mu.Lock()
		cv.loadingList = false
		cv.mu.Unlock()
	}()

	convs, err := cv.client.Messages().Conversations(ctx)
	if err != nil {
		cv.mu.Lock()
		cv.lastError = err
		cv.mu.Unlock()
		return err
	}

	cv.store.PutConversations(convs)
	cv.mu.Lock()
	cv.conversations = convs
	cv.lastError = nil
	cv.mu.Unlock()
	return nil
}

// Conversations returns a copy of the summary list.
func (cv *ConversationManager) Conversations() []Conversation {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	out := make([]Conversation, len(cv.conversations))
	copy(out, cv.conversations)
	return out
}

// VisibleConversations filters out conversations whose latest message is
// anonymous; those live in the anonymous inbox instead.
func (cv *ConversationManager) VisibleConversations() []Conversation {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	var out []Conversation
	for _, c := range cv.conversations {
		if c.LastMessage != nil && c.LastMessage.IsAnonymous {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ── Active thread ─────────────────────────────────────────

// OpenConversation makes a conversation active and loads its thread.
// Anonymous messages and replies to anonymous messages never enter a
// thread, whatever the server returns.
func (cv *ConversationManager) OpenConversation(ctx context.Context, convID string) error {
	cv.mu.Lock()
	cv.activeConvID = convID
	cv.draftProfile = nil
	cv.thread = nil
	cv.loadingThread = true
	cv.mu.Unlock()
	defer func() {
		cv.mu.Lock()
		cv.loadingThread = false
		cv.mu.Unlock()
	}()

	msgs, err := cv.client.Messages().ConversationMessages(ctx, convID)
	if err != nil {
		cv.mu.Lock()
		cv.lastError = err
		cv.mu.Unlock()
		return err
	}

	filtered := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.IsAnonymous || m.ParentIsAnonymous {
			continue
		}
		filtered = append(filtered, m)
	}

	cv.store.PutMessages(convID, filtered)
	cv.mu.Lock()
	cv.thread = filtered
	cv.lastError = nil
	cv.mu.Unlock()
	return nil
}

// OpenWithUser deep-links to a conversation with a target user. An existing
// conversation with that participant opens directly; otherwise the target's
// profile becomes a draft so a first message can start the conversation.
// Deep-linking to yourself is ignored.
func (cv *ConversationManager) OpenWithUser(ctx context.Context, targetUserID string) error {
	if targetUserID == "" || targetUserID == cv.session.UserID() {
		return nil
	}

	cv.mu.RLock()
	convs := cv.conversations
	cv.mu.RUnlock()
	for _, c := range convs {
		for _, p := range c.Participants {
			if p.ID == targetUserID {
				return cv.OpenConversation(ctx, c.ID)
			}
		}
	}

	profile, err := cv.client.Profiles().ByUser(ctx, targetUserID)
	if err != nil {
		logWarn("loading draft profile %s: %v", targetUserID, err)
		profile = &User{ID: targetUserID, Name: "Unknown User"}
	}

	cv.mu.Lock()
	cv.activeConvID = ""
	cv.thread = nil
	cv.draftProfile = profile
	cv.mu.Unlock()
	return nil
}

// ActiveConversationID returns the active conversation's id, or "".
func (cv *ConversationManager) ActiveConversationID() string {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.activeConvID
}

// Thread returns a copy of the active thread, oldest first.
func (cv *ConversationManager) Thread() []Message {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	out := make([]Message, len(cv.thread))
	copy(out, cv.thread)
	return out
}

// DraftProfile returns the deep-link draft target, or nil.
func (cv *ConversationManager) DraftProfile() *User {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.draftProfile
}

// LastError returns the most recent list or thread failure.
func (cv *ConversationManager) LastError() error {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.lastError
}

// SendState returns the state of the last send mutation.
func (cv *ConversationManager) SendState() MutationState {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.sendState
}

// ── Push handling ─────────────────────────────────────────

// HandlePush applies a socket-delivered message. The active thread appends
// it only when it belongs there, is not anonymous, and is not already
// present; the summary list refreshes on every push so inactive
// conversations still surface new activity.
func (cv *ConversationManager) HandlePush(m Message) {
	cv.mu.Lock()
	if m.ConversationID != "" &&
		m.ConversationID == cv.activeConvID &&
		!m.IsAnonymous && !m.ParentIsAnonymous {
		dup := false
		for _, existing := range cv.thread {
			if existing.ID == m.ID {
				dup = true
				break
			}
		}
		if !dup {
			cv.thread = append(cv.thread, m)
			cv.store.PutMessages(m.ConversationID, []Message{m})
		}
	}
	cv.mu.Unlock()

	if err := cv.RefreshConversations(context.Background()); err != nil {
		logWarn("conversation refresh after push: %v", err)
	}
}

// ── Sending ───────────────────────────────────────────────

// SendMessage posts a message and appends the server's echo to the active
// thread before any socket confirmation. Whitespace-only content is a
// silent no-op with no request issued.
func (cv *ConversationManager) SendMessage(ctx context.Context, receiverID, content string, isAnonymous bool) (*Message, error) {
	return cv.send(ctx, receiverID, content, isAnonymous, nil)
}

// SendReply posts a non-anonymous reply to an existing message.
func (cv *ConversationManager) SendReply(ctx context.Context, receiverID, content, replyToID string) (*Message, error) {
	return cv.send(ctx, receiverID, content, false, &SendOptions{ReplyTo: replyToID})
}

func (cv *ConversationManager) send(ctx context.Context, receiverID, content string, isAnonymous bool, opts *SendOptions) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	cv.mu.Lock()
	cv.sendState = MutationPending
	cv.mu.Unlock()

	msg, err := cv.client.Messages().Send(ctx, receiverID, content, isAnonymous, opts)
	if err != nil {
		cv.mu.Lock()
		cv.sendState = MutationFailed
		cv.lastError = err
		cv.mu.Unlock()
		return nil, err
	}

	cv.mu.Lock()
	cv.sendState = MutationConfirmed
	cv.lastError = nil
	if msg != nil && !msg.IsAnonymous {
		dup := false
		for _, existing := range cv.thread {
			if existing.ID == msg.ID {
				dup = true
				break
			}
		}
		if !dup && (cv.activeConvID == "" || msg.ConversationID == "" || msg.ConversationID == cv.activeConvID) {
			cv.thread = append(cv.thread, *msg)
			if msg.ConversationID != "" {
				cv.activeConvID = msg.ConversationID
				cv.store.PutMessages(msg.ConversationID, []Message{*msg})
			}
		}
		cv.draftProfile = nil
	}
	cv.mu.Unlock()

	if err := cv.RefreshConversations(ctx); err != nil {
		logWarn("conversation refresh after send: %v", err)
	}
	return msg, nil
}

// ── Anonymous inbox ───────────────────────────────────────

// AnonymousInbox fetches received anonymous messages and returns the root
// items only: replies are folded under their parents via DirectReply.
func (cv *ConversationManager) AnonymousInbox(ctx context.Context) ([]Message, error) {
	msgs, err := cv.client.Messages().Anonymous(ctx)
	if err != nil {
		return nil, err
	}
	var roots []Message
	for _, m := range msgs {
		if m.IsAnonymous && m.ReplyTo == nil {
			roots = append(roots, m)
		}
	}
	return roots, nil
}

// SentAnonymous fetches anonymous messages the current user has sent.
func (cv *ConversationManager) SentAnonymous(ctx context.Context) ([]Message, error) {
	return cv.client.Messages().SentAnonymous(ctx)
}

// ReplyToAnonymous posts a non-anonymous reply to an anonymous message.
func (cv *ConversationManager) ReplyToAnonymous(ctx context.Context, receiverID, content, messageID string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	return cv.client.Messages().Send(ctx, receiverID, content, false, &SendOptions{ReplyTo: messageID})
}

// ── Reply-context helpers ─────────────────────────────────

// DirectReply finds the first message in msgs replying to rootID.
func DirectReply(msgs []Message, rootID string) *Message {
	for i := range msgs {
		if msgs[i].ReplyTo != nil && msgs[i].ReplyTo.ID == rootID {
			return &msgs[i]
		}
	}
	return nil
}

// CanViewReplyContent reports whether viewerID may see the content of the
// message a reply targets. Anonymous parents are visible only to the user
// the reply answers; everyone may see non-anonymous parents.
func CanViewReplyContent(viewerID string, m Message) bool {
	if m.ReplyTo == nil {
		return true
	}
	parentAnonymous := m.ParentIsAnonymous || m.ReplyTo.IsAnonymous
	if !parentAnonymous {
		return true
	}
	return m.ReplyTo.SenderID != "" && m.ReplyTo.SenderID == viewerID
}

// RenderReplyContent returns the parent content a viewer is allowed to
// see, substituting the masked placeholder otherwise.
func RenderReplyContent(viewerID string, m Message) string {
	if m.ReplyTo == nil {
		return ""
	}
	if CanViewReplyContent(viewerID, m) {
		return m.ReplyTo.Content
	}
	return MaskedReplyPlaceholder
}
