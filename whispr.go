// Package whispr is the Go client for the Whispr social-messaging platform.
//
// Covers profiles, direct and anonymous messages, follow/block relations,
// notifications, and presence, with sub-module access and a real-time
// synchronization layer over a persistent socket connection.
//
// Example:
//
//	client := whispr.NewClient("", whispr.WithBaseURL("https://api.example.com/api/v1"))
//
//	// REST sub-modules
//	data, _ := client.Auth().Login(ctx, "a@example.com", "secret")
//	client.SetToken(data.Token)
//	convs, _ := client.Messages().Conversations(ctx)
//	client.Notifications().MarkAllRead(ctx)
//
//	// Real-time layer
//	rt := whispr.NewRealtimeClient("https://api.example.com", &whispr.RealtimeConfig{Token: data.Token})
//	rt.OnMessageNew(func(m whispr.Message) { ... })
//	rt.Connect(ctx)
package whispr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL   = "http://localhost:3000/api/v1"
	DefaultSocketURL = "http://localhost:3000"
	DefaultTimeout   = 10 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL    string
	httpClient *http.Client

	// token is the process-wide default auth header state. It is written
	// only by login/logout transitions and read by every outgoing request;
	// the mutex makes each write a single atomic assignment.
	mu             sync.RWMutex
	token          string
	onUnauthorized func()

	auth          *AuthClient
	profiles      *ProfilesClient
	relations     *RelationsClient
	messages      *MessagesClient
	notifications *NotificationsClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Whispr client.
// token is optional — pass "" when not yet authenticated.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.auth = &AuthClient{c: c}
	c.profiles = &ProfilesClient{c: c}
	c.relations = &RelationsClient{c: c}
	c.messages = &MessagesClient{c: c}
	c.notifications = &NotificationsClient{c: c}
	return c
}

// SetToken sets or clears the bearer token used for all requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token ("" when unauthenticated).
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetOnUnauthorized registers the global 401 hook. A 401 on any request is
// a signal that the session is no longer valid.
func (c *Client) SetOnUnauthorized(f func()) {
	c.mu.Lock()
	c.onUnauthorized = f
	c.mu.Unlock()
}

func (c *Client) BaseURL() string { return c.baseURL }

// Auth returns the authentication sub-client.
func (c *Client) Auth() *AuthClient { return c.auth }

// Profiles returns the profile sub-client.
func (c *Client) Profiles() *ProfilesClient { return c.profiles }

// Relations returns the follow/block relation sub-client.
func (c *Client) Relations() *RelationsClient { return c.relations }

// Messages returns the messaging sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// Notifications returns the notification sub-client.
func (c *Client) Notifications() *NotificationsClient { return c.notifications }

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.statusError(resp.StatusCode, data)
	}
	return data, nil
}

// statusError converts an error response into an *APIError and fires the
// global 401 hook when the session has been rejected.
func (c *Client) statusError(status int, body []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}
	var envelope struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			apiErr.Message = envelope.Message
		}
		apiErr.Code = envelope.Code
	}

	if status == http.StatusUnauthorized {
		c.mu.RLock()
		hook := c.onUnauthorized
		c.mu.RUnlock()
		if hook != nil {
			hook()
		}
	}
	return apiErr
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*APIResult, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[APIResult](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Auth Sub-Client
// ============================================================================

// AuthClient handles credentials, session endpoints, and the account profile.
type AuthClient struct{ c *Client }

func (a *AuthClient) Login(ctx context.Context, email, password string) (*LoginData, error) {
	res, err := a.c.do(ctx, "POST", "/auth/login", map[string]string{
		"email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	var data LoginData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode login: %w", err)
	}
	return &data, nil
}

func (a *AuthClient) Register(ctx context.Context, name, email, password string) (*LoginData, error) {
	res, err := a.c.do(ctx, "POST", "/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	var data LoginData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode register: %w", err)
	}
	return &data, nil
}

func (a *AuthClient) Logout(ctx context.Context) error {
	_, err := a.c.do(ctx, "POST", "/auth/logout", map[string]string{}, nil)
	return err
}

// Profile fetches the authenticated user's account. It doubles as the
// token-validation probe at session hydration.
func (a *AuthClient) Profile(ctx context.Context) (*User, error) {
	res, err := a.c.do(ctx, "GET", "/auth/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &u, nil
}

func (a *AuthClient) UpdateProfile(ctx context.Context, update *ProfileUpdate) (*User, error) {
	res, err := a.c.do(ctx, "PUT", "/auth/profile", update, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &u, nil
}

// ============================================================================
// Profiles Sub-Client
// ============================================================================

// ProfilesClient handles public profiles, search, and avatar upload.
type ProfilesClient struct{ c *Client }

func (p *ProfilesClient) Me(ctx context.Context) (*User, error) {
	res, err := p.c.do(ctx, "GET", "/profile", nil, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *ProfilesClient) Update(ctx context.Context, update *ProfileUpdate) (*User, error) {
	res, err := p.c.do(ctx, "POST", "/profile", update, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *ProfilesClient) ByUser(ctx context.Context, userID string) (*User, error) {
	res, err := p.c.do(ctx, "GET", "/profile/user/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *ProfilesClient) Search(ctx context.Context, query string) ([]User, error) {
	res, err := p.c.do(ctx, "GET", "/profile/search", nil, map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var users []User
	if err := res.Decode(&users); err != nil {
		return nil, err
	}
	return users, nil
}

// UploadAvatar uploads an avatar image as multipart form data and returns
// the updated profile.
func (p *ProfilesClient) UploadAvatar(ctx context.Context, data []byte, fileName string) (*User, error) {
	if fileName == "" {
		return nil, fmt.Errorf("fileName is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("avatar", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", p.c.baseURL+"/profile/avatar", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token := p.c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, p.c.statusError(resp.StatusCode, body)
	}

	res, err := decodeJSON[APIResult](body)
	if err != nil {
		return nil, err
	}
	var u User
	if err := res.Decode(&u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ============================================================================
// Relations Sub-Client
// ============================================================================

// RelationsClient handles follow/block relations.
type RelationsClient struct{ c *Client }

func (r *RelationsClient) Add(ctx context.Context, toUserID, relType string) (*Relation, error) {
	res, err := r.c.do(ctx, "POST", "/relation", map[string]string{
		"toUserId": toUserID, "type": relType,
	}, nil)
	if err != nil {
		return nil, err
	}
	var rel Relation
	if err := res.Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *RelationsClient) Remove(ctx context.Context, relationID string) error {
	_, err := r.c.do(ctx, "DELETE", "/relation/"+relationID, nil, nil)
	return err
}

// ForUser lists a user's relations; pass toUserID to narrow to one target.
func (r *RelationsClient) ForUser(ctx context.Context, userID, toUserID string) ([]Relation, error) {
	var query map[string]string
	if toUserID != "" {
		query = map[string]string{"to": toUserID}
	}
	res, err := r.c.do(ctx, "GET", "/relations/"+userID, nil, query)
	if err != nil {
		return nil, err
	}
	var rels []Relation
	if err := res.Decode(&rels); err != nil {
		return nil, err
	}
	return rels, nil
}

// Lookup fetches a single relation matching the given query parameters.
func (r *RelationsClient) Lookup(ctx context.Context, params map[string]string) (*Relation, error) {
	res, err := r.c.do(ctx, "GET", "/relation", nil, params)
	if err != nil {
		return nil, err
	}
	var rel Relation
	if err := res.Decode(&rel); err != nil {
		return nil, err
	}
	return &rel, nil
}

// ============================================================================
// Messages Sub-Client
// ============================================================================

// MessagesClient handles direct/anonymous messages and conversations.
type MessagesClient struct{ c *Client }

// Send posts a new message. opts may carry a replyTo reference and the
// share-to-profile flag.
func (m *MessagesClient) Send(ctx context.Context, receiverID, content string, isAnonymous bool, opts *SendOptions) (*Message, error) {
	payload := map[string]interface{}{
		"receiverId":  receiverID,
		"content":     content,
		"isAnonymous": isAnonymous,
	}
	if opts != nil {
		if opts.ReplyTo != "" {
			payload["replyTo"] = opts.ReplyTo
		}
		if opts.ShareToProfile {
			payload["shareToProfile"] = true
		}
	}
	res, err := m.c.do(ctx, "POST", "/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

func (m *MessagesClient) Conversations(ctx context.Context) ([]Conversation, error) {
	res, err := m.c.do(ctx, "GET", "/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := res.Decode(&convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (m *MessagesClient) ConversationMessages(ctx context.Context, conversationID string) ([]Message, error) {
	res, err := m.c.do(ctx, "GET", "/conversations/"+conversationID+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m *MessagesClient) MarkRead(ctx context.Context, messageID string) error {
	_, err := m.c.do(ctx, "PUT", "/messages/"+messageID+"/read", nil, nil)
	return err
}

// ToggleShare shares or unshares a received message on the owner's profile.
func (m *MessagesClient) ToggleShare(ctx context.Context, messageID string, share bool) (*Message, error) {
	res, err := m.c.do(ctx, "PUT", "/messages/"+messageID+"/share", map[string]bool{"share": share}, nil)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (m *MessagesClient) Shared(ctx context.Context, userID string) ([]Message, error) {
	res, err := m.c.do(ctx, "GET", "/messages/shared/"+userID, nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Anonymous fetches the anonymous inbox (received anonymous messages and
// their reply chains).
func (m *MessagesClient) Anonymous(ctx context.Context) ([]Message, error) {
	res, err := m.c.do(ctx, "GET", "/messages/anonymous", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m *MessagesClient) SentAnonymous(ctx context.Context) ([]Message, error) {
	res, err := m.c.do(ctx, "GET", "/messages/sent-anonymous", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (m *MessagesClient) Stats(ctx context.Context) (*MessageStats, error) {
	res, err := m.c.do(ctx, "GET", "/messages/stats", nil, nil)
	if err != nil {
		return nil, err
	}
	var stats MessageStats
	if err := res.Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ============================================================================
// Notifications Sub-Client
// ============================================================================

// NotificationsClient handles the durable server-side notification list.
type NotificationsClient struct{ c *Client }

func (n *NotificationsClient) List(ctx context.Context) ([]Notification, error) {
	res, err := n.c.do(ctx, "GET", "/notifications", nil, nil)
	if err != nil {
		return nil, err
	}
	var items []Notification
	if err := res.Decode(&items); err != nil {
		return nil, err
	}
	return items, nil
}

func (n *NotificationsClient) MarkAllRead(ctx context.Context) error {
	_, err := n.c.do(ctx, "PUT", "/notifications/mark-all-read", nil, nil)
	return err
}

func (n *NotificationsClient) MarkRead(ctx context.Context, notificationID string) error {
	_, err := n.c.do(ctx, "PUT", "/notifications/"+notificationID+"/mark-read", nil, nil)
	return err
}
