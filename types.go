package whispr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Whispr API.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("whispr: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("whispr: %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 API error.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

// IsForbidden reports whether err is a 403 API error.
func IsForbidden(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusForbidden
}

// APIResult is the generic response envelope: every endpoint wraps its
// payload in a "data" field, with an optional human-readable "message".
type APIResult struct {
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *APIResult) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Users & Profiles
// ============================================================================

type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
	Bio        string `json:"bio,omitempty"`
	University string `json:"university,omitempty"`
	Address    string `json:"address,omitempty"`
	IsOnline   bool   `json:"isOnline,omitempty"`
	LastSeen   string `json:"lastSeen,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// ProfileUpdate carries the mutable profile fields for an update request.
type ProfileUpdate struct {
	Name       string `json:"name,omitempty"`
	Bio        string `json:"bio,omitempty"`
	University string `json:"university,omitempty"`
	Address    string `json:"address,omitempty"`
	Avatar     string `json:"avatar,omitempty"`
}

// LoginData is the payload returned by login and register.
type LoginData struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ============================================================================
// Relations
// ============================================================================

const (
	RelationFollow = "follow"
	RelationBlock  = "block"
)

type Relation struct {
	ID         string `json:"id"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Type       string `json:"type"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// ============================================================================
// Presence
// ============================================================================

// PresenceEntry is a user's live online/offline status. LastSeen is an
// RFC 3339 timestamp; empty means unknown.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
}

// ============================================================================
// Notifications
// ============================================================================

const (
	NotificationMessage   = "message"
	NotificationReply     = "reply"
	NotificationFollow    = "follow"
	NotificationAnonymous = "anonymous"
)

type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	From      string `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// ============================================================================
// Conversations & Messages
// ============================================================================

type Conversation struct {
	ID           string   `json:"id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UpdatedAt    string   `json:"updatedAt,omitempty"`
}

type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation,omitempty"`
	Sender            User      `json:"sender"`
	Receiver          *User     `json:"receiver,omitempty"`
	Content           string    `json:"content"`
	IsAnonymous       bool      `json:"isAnonymous"`
	ParentIsAnonymous bool      `json:"parentIsAnonymous,omitempty"`
	ReplyTo           *ReplyRef `json:"replyTo,omitempty"`
	IsSharedToProfile bool      `json:"isSharedToProfile,omitempty"`
	CreatedAt         string    `json:"createdAt,omitempty"`
}

// ReplyRef is the normalized reference to the message a reply targets.
// The wire format is either a bare message id or an embedded object; both
// decode into the same shape here so call sites never probe alternatives.
type ReplyRef struct {
	ID          string `json:"id"`
	SenderID    string `json:"senderId,omitempty"`
	Content     string `json:"content,omitempty"`
	IsAnonymous bool   `json:"isAnonymous,omitempty"`
}

func (r *ReplyRef) UnmarshalJSON(data []byte) error {
	// Bare id form: "m123"
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}

	var obj struct {
		ID          string          `json:"id"`
		Sender      json.RawMessage `json:"sender,omitempty"`
		SenderID    string          `json:"senderId,omitempty"`
		Content     string          `json:"content,omitempty"`
		IsAnonymous bool            `json:"isAnonymous,omitempty"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("malformed replyTo reference: %w", err)
	}
	r.ID = obj.ID
	r.Content = obj.Content
	r.IsAnonymous = obj.IsAnonymous
	r.SenderID = obj.SenderID
	if r.SenderID == "" && len(obj.Sender) > 0 {
		// Sender is either an embedded user object or a bare id.
		var su User
		if json.Unmarshal(obj.Sender, &su) == nil && su.ID != "" {
			r.SenderID = su.ID
		} else {
			var sid string
			if json.Unmarshal(obj.Sender, &sid) == nil {
				r.SenderID = sid
			}
		}
	}
	return nil
}

// SendOptions carries the optional fields of a send-message request.
type SendOptions struct {
	ReplyTo        string `json:"replyTo,omitempty"`
	ShareToProfile bool   `json:"shareToProfile,omitempty"`
}

// MessageStats is the per-user dashboard counter set.
type MessageStats struct {
	TotalReceived  int `json:"totalReceived"`
	TotalSent      int `json:"totalSent"`
	AnonymousCount int `json:"anonymousCount"`
	UnreadCount    int `json:"unreadCount"`
}

// ============================================================================
// Toast Alerts
// ============================================================================

const (
	ToastSuccess = "success"
	ToastError   = "error"
	ToastInfo    = "info"
	ToastWarning = "warning"
)

// ToastAction is a labelled callback rendered alongside a toast.
type ToastAction struct {
	Label string
	Run   func()
}

// ToastAlert is an ephemeral on-screen alert. It is never persisted and is
// independent of the durable notification list. Duration 0 means sticky.
type ToastAlert struct {
	ID        string
	Type      string
	Title     string
	Message   string
	Duration  time.Duration
	Actions   []ToastAction
	CreatedAt time.Time
}
