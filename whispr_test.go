package whispr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

func jsonData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func testClient(srv *httptest.Server, token string) *Client {
	return NewClient(token, WithBaseURL(srv.URL))
}

// offlineConn builds a connection manager whose socket is never connected,
// so components can be driven by direct Apply/Push calls.
func offlineConn(session *Session) *ConnectionManager {
	rt := NewRealtimeClient("http://127.0.0.1:1", nil)
	return NewConnectionManager(session, rt)
}

// ============================================================================
// Request plumbing
// ============================================================================

func TestClientAuth(t *testing.T) {
	t.Run("bearer header", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			jsonData(w, 200, User{ID: "u1", Name: "Me"})
		}))
		defer srv.Close()

		client := testClient(srv, "tok-123")
		if _, err := client.Auth().Profile(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotAuth != "Bearer tok-123" {
			t.Fatalf("expected bearer header, got %q", gotAuth)
		}
	})

	t.Run("no header without token", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			jsonData(w, 200, LoginData{Token: "t", User: User{ID: "u1"}})
		}))
		defer srv.Close()

		client := testClient(srv, "")
		if _, err := client.Auth().Login(context.Background(), "a@b.c", "pw"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gotAuth != "" {
			t.Fatalf("expected no auth header, got %q", gotAuth)
		}
	})
}

func TestErrorTaxonomy(t *testing.T) {
	t.Run("401 fires hook and classifies", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 401, "UNAUTHORIZED", "token expired")
		}))
		defer srv.Close()

		client := testClient(srv, "stale")
		fired := false
		client.SetOnUnauthorized(func() { fired = true })

		_, err := client.Auth().Profile(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		if !IsUnauthorized(err) {
			t.Fatalf("expected 401 classification, got %v", err)
		}
		if !fired {
			t.Fatal("expected unauthorized hook to fire")
		}
	})

	t.Run("403 carries server message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			jsonError(w, 403, "FORBIDDEN", "blocked by recipient")
		}))
		defer srv.Close()

		client := testClient(srv, "tok")
		_, err := client.Messages().Send(context.Background(), "u2", "hi", false, nil)
		if !IsForbidden(err) {
			t.Fatalf("expected 403 classification, got %v", err)
		}
		var ae *APIError
		if !errors.As(err, &ae) || ae.Message != "blocked by recipient" {
			t.Fatalf("expected server message to survive, got %v", err)
		}
	})

	t.Run("non-JSON error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			fmt.Fprint(w, "Internal Server Error")
		}))
		defer srv.Close()

		client := testClient(srv, "tok")
		_, err := client.Messages().Conversations(context.Background())
		var ae *APIError
		if !errors.As(err, &ae) || ae.Status != 500 {
			t.Fatalf("expected APIError with status 500, got %v", err)
		}
	})
}

// ============================================================================
// ReplyRef normalization
// ============================================================================

func TestReplyRefUnmarshal(t *testing.T) {
	t.Run("bare id", func(t *testing.T) {
		var r ReplyRef
		if err := json.Unmarshal([]byte(`"m-42"`), &r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.ID != "m-42" {
			t.Fatalf("expected id m-42, got %q", r.ID)
		}
	})

	t.Run("object with sender object", func(t *testing.T) {
		raw := `{"id":"m-1","content":"secret","isAnonymous":true,"sender":{"id":"u-9","name":"Nina"}}`
		var r ReplyRef
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.SenderID != "u-9" || !r.IsAnonymous || r.Content != "secret" {
			t.Fatalf("unexpected decode: %+v", r)
		}
	})

	t.Run("object with bare sender id", func(t *testing.T) {
		raw := `{"id":"m-1","sender":"u-9"}`
		var r ReplyRef
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.SenderID != "u-9" {
			t.Fatalf("expected sender u-9, got %q", r.SenderID)
		}
	})

	t.Run("explicit senderId wins", func(t *testing.T) {
		raw := `{"id":"m-1","senderId":"u-5","sender":{"id":"u-9"}}`
		var r ReplyRef
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.SenderID != "u-5" {
			t.Fatalf("expected sender u-5, got %q", r.SenderID)
		}
	})
}

// ============================================================================
// Profiles
// ============================================================================

func TestProfileSearch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		jsonData(w, 200, []User{{ID: "u2", Name: "Nina"}})
	}))
	defer srv.Close()

	client := testClient(srv, "tok")
	users, err := client.Profiles().Search(context.Background(), "nin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery != "nin" {
		t.Fatalf("expected query param, got %q", gotQuery)
	}
	if len(users) != 1 || users[0].Name != "Nina" {
		t.Fatalf("unexpected results: %+v", users)
	}
}

func TestUploadAvatar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart form: %v", err)
		}
		file, header, err := r.FormFile("avatar")
		if err != nil {
			t.Errorf("missing avatar field: %v", err)
			jsonError(w, 400, "BAD_REQUEST", "missing file")
			return
		}
		defer file.Close()
		if header.Filename != "me.png" {
			t.Errorf("expected filename me.png, got %q", header.Filename)
		}
		jsonData(w, 200, User{ID: "u1", Avatar: "/uploads/me.png"})
	}))
	defer srv.Close()

	client := testClient(srv, "tok")
	user, err := client.Profiles().UploadAvatar(context.Background(), []byte{0x89, 0x50, 0x4e, 0x47}, "me.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Avatar != "/uploads/me.png" {
		t.Fatalf("unexpected avatar: %q", user.Avatar)
	}
}
