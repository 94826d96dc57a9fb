package whispr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// ============================================================================
// Credential Store
// ============================================================================

// CredentialStore persists the auth token and user preferences between runs.
type CredentialStore interface {
	Token() (string, error)
	SetToken(token string) error
	ClearToken() error
	Language() (string, error)
	SetLanguage(lang string) error
}

type credentialsFile struct {
	Token    string `toml:"token,omitempty"`
	Language string `toml:"language,omitempty"`
}

// FileCredentialStore stores credentials in a TOML file under the given
// directory (credentials.toml).
type FileCredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewFileCredentialStore creates a file-backed credential store rooted at
// dir. The directory is created on first write.
func NewFileCredentialStore(dir string) *FileCredentialStore {
	return &FileCredentialStore{path: filepath.Join(dir, "credentials.toml")}
}

// DefaultCredentialDir returns ~/.whispr.
func DefaultCredentialDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".whispr"), nil
}

func (s *FileCredentialStore) load() (*credentialsFile, error) {
	creds := &credentialsFile{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return creds, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	return creds, nil
}

func (s *FileCredentialStore) save(creds *credentialsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}
	data, err := toml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

func (s *FileCredentialStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.load()
	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

func (s *FileCredentialStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.load()
	if err != nil {
		return err
	}
	creds.Token = token
	return s.save(creds)
}

func (s *FileCredentialStore) ClearToken() error {
	return s.SetToken("")
}

func (s *FileCredentialStore) Language() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.load()
	if err != nil {
		return "", err
	}
	return creds.Language, nil
}

func (s *FileCredentialStore) SetLanguage(lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, err := s.load()
	if err != nil {
		return err
	}
	creds.Language = lang
	return s.save(creds)
}

// MemoryCredentialStore is an in-memory credential store, mainly for tests
// and short-lived programs.
type MemoryCredentialStore struct {
	mu       sync.Mutex
	token    string
	language string
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *MemoryCredentialStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryCredentialStore) ClearToken() error {
	return s.SetToken("")
}

func (s *MemoryCredentialStore) Language() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language, nil
}

func (s *MemoryCredentialStore) SetLanguage(lang string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = lang
	return nil
}

// ============================================================================
// Session
// ============================================================================

// SessionState is a snapshot of the session handed to observers.
type SessionState struct {
	Authenticated bool
	Loading       bool
	User          *User
}

// Session owns authentication state: the current user, the persisted token,
// and the derived authenticated flag. All auth-gated components read from
// here and subscribe to OnChange.
type Session struct {
	client *Client
	store  CredentialStore

	mu            sync.RWMutex
	user          *User
	authenticated bool
	loading       bool

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]func(SessionState)

	navMu     sync.Mutex
	navigator func(route string)
}

// NewSession creates a session bound to the given API client and credential
// store. A 401 from any API call clears the session globally and routes to
// the login screen.
func NewSession(client *Client, store CredentialStore) *Session {
	s := &Session{
		client:    client,
		store:     store,
		loading:   true,
		observers: make(map[int]func(SessionState)),
	}
	client.SetOnUnauthorized(func() {
		s.expire()
	})
	return s
}

// Hydrate restores the session from the persisted token. A missing token
// finishes hydration unauthenticated; an invalid token additionally clears
// the stored value. Hydrate never returns an error: startup proceeds either
// way, so validation failures are logged and absorbed here.
func (s *Session) Hydrate(ctx context.Context) {
	defer s.finishLoading()

	token, err := s.store.Token()
	if err != nil {
		logWarn("reading stored token: %v", err)
		return
	}
	if token == "" {
		return
	}

	s.client.SetToken(token)
	user, err := s.client.Auth().Profile(ctx)
	if err != nil {
		logInfo("stored token rejected, clearing: %v", err)
		if cerr := s.store.ClearToken(); cerr != nil {
			logWarn("clearing stored token: %v", cerr)
		}
		s.client.SetToken("")
		return
	}

	s.mu.Lock()
	s.user = user
	s.authenticated = true
	s.mu.Unlock()
}

func (s *Session) finishLoading() {
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// Login installs an already-issued token and user, persisting the token.
func (s *Session) Login(token string, user *User) error {
	if err := s.store.SetToken(token); err != nil {
		return fmt.Errorf("persisting token: %w", err)
	}
	s.client.SetToken(token)

	s.mu.Lock()
	s.user = user
	s.authenticated = true
	s.loading = false
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoginWithCredentials authenticates against the API and installs the
// resulting session.
func (s *Session) LoginWithCredentials(ctx context.Context, email, password string) (*User, error) {
	data, err := s.client.Auth().Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	user := data.User
	if err := s.Login(data.Token, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout ends the session. The server-side logout is best effort: local
// state is cleared regardless of whether the call succeeds.
func (s *Session) Logout(ctx context.Context) {
	if err := s.client.Auth().Logout(ctx); err != nil {
		logDebug("server logout failed: %v", err)
	}
	s.clearLocal()
}

// expire clears local session state after a 401 and routes to login.
func (s *Session) expire() {
	s.mu.RLock()
	wasAuthenticated := s.authenticated
	s.mu.RUnlock()

	s.clearLocal()

	if wasAuthenticated {
		s.navMu.Lock()
		nav := s.navigator
		s.navMu.Unlock()
		if nav != nil {
			nav("/login")
		}
	}
}

func (s *Session) clearLocal() {
	if err := s.store.ClearToken(); err != nil {
		logWarn("clearing stored token: %v", err)
	}
	s.client.SetToken("")

	s.mu.Lock()
	s.user = nil
	s.authenticated = false
	s.loading = false
	s.mu.Unlock()
	s.notify()
}

// IsAuthenticated reports whether a validated session exists.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Loading reports whether hydration is still in progress.
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// User returns the current user, or nil when unauthenticated.
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// UserID returns the current user's id, or "" when unauthenticated.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// Token returns the client's current bearer token.
func (s *Session) Token() string {
	return s.client.Token()
}

func (s *Session) state() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{
		Authenticated: s.authenticated,
		Loading:       s.loading,
		User:          s.user,
	}
}

// OnChange registers an observer invoked on every session transition. The
// returned function removes it.
func (s *Session) OnChange(f func(SessionState)) Unsubscribe {
	s.obsMu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = f
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// SetNavigator installs the route callback used when the session expires.
func (s *Session) SetNavigator(nav func(route string)) {
	s.navMu.Lock()
	s.navigator = nav
	s.navMu.Unlock()
}

func (s *Session) notify() {
	state := s.state()
	s.obsMu.Lock()
	obs := make([]func(SessionState), 0, len(s.observers))
	for _, f := range s.observers {
		obs = append(obs, f)
	}
	s.obsMu.Unlock()
	for _, f := range obs {
		f(state)
	}
}
