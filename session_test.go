package whispr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionHydrate(t *testing.T) {
	t.Run("no stored token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected without a token")
		}))
		defer srv.Close()

		session := NewSession(testClient(srv, ""), NewMemoryCredentialStore())
		if !session.Loading() {
			t.Fatal("expected loading before hydration")
		}
		session.Hydrate(context.Background())
		if session.IsAuthenticated() || session.Loading() {
			t.Fatal("expected settled unauthenticated state")
		}
	})

	t.Run("valid stored token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/auth/profile" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			jsonData(w, 200, User{ID: "u1", Name: "Me"})
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		store.SetToken("tok-valid")
		session := NewSession(testClient(srv, ""), store)
		session.Hydrate(context.Background())

		if !session.IsAuthenticated() {
			t.Fatal("expected authenticated session")
		}
		if session.UserID() != "u1" {
			t.Fatalf("expected user u1, got %q", session.UserID())
		}
		if session.Token() != "tok-valid" {
			t.Fatal("expected token installed on the client")
		}
	})

	t.Run("rejected stored token is cleared", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 401, "UNAUTHORIZED", "token expired")
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		store.SetToken("tok-stale")
		session := NewSession(testClient(srv, ""), store)
		session.Hydrate(context.Background())

		if session.IsAuthenticated() {
			t.Fatal("expected unauthenticated session")
		}
		if tok, _ := store.Token(); tok != "" {
			t.Fatalf("expected stored token cleared, got %q", tok)
		}
		if session.Token() != "" {
			t.Fatal("expected client token cleared")
		}
	})
}

func TestSessionLoginLogout(t *testing.T) {
	t.Run("login persists token and notifies", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonData(w, 200, nil)
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		session := NewSession(testClient(srv, ""), store)

		var states []SessionState
		session.OnChange(func(s SessionState) { states = append(states, s) })

		if err := session.Login("tok-new", &User{ID: "u1", Name: "Me"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if tok, _ := store.Token(); tok != "tok-new" {
			t.Fatalf("expected persisted token, got %q", tok)
		}
		if len(states) == 0 || !states[len(states)-1].Authenticated {
			t.Fatal("expected authenticated observer notification")
		}
	})

	t.Run("logout clears locally even when server fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 500, "INTERNAL", "boom")
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		session := NewSession(testClient(srv, ""), store)
		session.Login("tok", &User{ID: "u1"})

		session.Logout(context.Background())

		if session.IsAuthenticated() {
			t.Fatal("expected unauthenticated session")
		}
		if tok, _ := store.Token(); tok != "" {
			t.Fatalf("expected stored token cleared, got %q", tok)
		}
	})

	t.Run("login with credentials", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/auth/login" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			jsonData(w, 200, LoginData{Token: "tok-issued", User: User{ID: "u1", Name: "Me"}})
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		session := NewSession(testClient(srv, ""), store)

		user, err := session.LoginWithCredentials(context.Background(), "a@b.c", "pw")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.ID != "u1" || !session.IsAuthenticated() {
			t.Fatal("expected authenticated session")
		}
		if tok, _ := store.Token(); tok != "tok-issued" {
			t.Fatalf("expected issued token persisted, got %q", tok)
		}
	})

	t.Run("bad credentials propagate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 401, "UNAUTHORIZED", "wrong password")
		}))
		defer srv.Close()

		session := NewSession(testClient(srv, ""), NewMemoryCredentialStore())
		if _, err := session.LoginWithCredentials(context.Background(), "a@b.c", "nope"); !IsUnauthorized(err) {
			t.Fatalf("expected 401, got %v", err)
		}
	})
}

func TestSessionExpiry(t *testing.T) {
	t.Run("any 401 clears the session and routes to login", func(t *testing.T) {
		calls := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			jsonError(w, 401, "UNAUTHORIZED", "token expired")
		}))
		defer srv.Close()

		store := NewMemoryCredentialStore()
		client := testClient(srv, "")
		session := NewSession(client, store)
		session.Login("tok", &User{ID: "u1"})

		var route string
		session.SetNavigator(func(r string) { route = r })

		// An unrelated API call hits the expired token.
		_, err := client.Notifications().List(context.Background())
		if !IsUnauthorized(err) {
			t.Fatalf("expected 401, got %v", err)
		}

		if session.IsAuthenticated() {
			t.Fatal("expected session cleared")
		}
		if route != "/login" {
			t.Fatalf("expected redirect to /login, got %q", route)
		}
		if tok, _ := store.Token(); tok != "" {
			t.Fatal("expected stored token cleared")
		}
	})

	t.Run("expiry when already unauthenticated does not navigate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 401, "UNAUTHORIZED", "no token")
		}))
		defer srv.Close()

		client := testClient(srv, "")
		session := NewSession(client, NewMemoryCredentialStore())

		navigated := false
		session.SetNavigator(func(string) { navigated = true })

		client.Notifications().List(context.Background())
		if navigated {
			t.Fatal("expected no navigation for an anonymous 401")
		}
	})
}

func TestSessionObservers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonData(w, 200, nil)
	}))
	defer srv.Close()

	session := NewSession(testClient(srv, ""), NewMemoryCredentialStore())

	calls := 0
	unsub := session.OnChange(func(SessionState) { calls++ })

	session.Login("tok", &User{ID: "u1"})
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}

	unsub()
	session.Logout(context.Background())
	if calls != 1 {
		t.Fatalf("expected no notification after unsubscribe, got %d", calls)
	}
}
