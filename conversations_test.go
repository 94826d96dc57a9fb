package whispr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

type convFixture struct {
	cm          *ConversationManager
	session     *Session
	listFetches *atomic.Int32
	sends       *atomic.Int32
	sendStatus  *atomic.Int32
}

func newConvFixture(t *testing.T) *convFixture {
	t.Helper()

	f := &convFixture{
		listFetches: &atomic.Int32{},
		sends:       &atomic.Int32{},
		sendStatus:  &atomic.Int32{},
	}
	f.sendStatus.Store(200)

	conversations := []Conversation{
		{ID: "c1", Participants: []User{{ID: "me"}, {ID: "u2", Name: "Nina"}},
			LastMessage: &Message{ID: "m1", Content: "hey"}, UpdatedAt: "2026-08-02T10:00:00Z"},
		{ID: "c2", Participants: []User{{ID: "me"}, {ID: "u3", Name: "Omar"}},
			LastMessage: &Message{ID: "m9", Content: "psst", IsAnonymous: true}, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	threadC1 := []Message{
		{ID: "m1", ConversationID: "c1", Sender: User{ID: "u2"}, Content: "hey"},
		{ID: "m2", ConversationID: "c1", Sender: User{ID: "anon"}, Content: "whisper", IsAnonymous: true},
		{ID: "m3", ConversationID: "c1", Sender: User{ID: "me"}, Content: "re: whisper", ParentIsAnonymous: true},
		{ID: "m4", ConversationID: "c1", Sender: User{ID: "me"}, Content: "hi back"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "GET" && r.URL.Path == "/conversations":
			f.listFetches.Add(1)
			jsonData(w, 200, conversations)
		case r.Method == "GET" && r.URL.Path == "/conversations/c1/messages":
			jsonData(w, 200, threadC1)
		case r.Method == "POST" && r.URL.Path == "/messages":
			f.sends.Add(1)
			if status := int(f.sendStatus.Load()); status != 200 {
				jsonError(w, status, "INTERNAL", "send rejected")
				return
			}
			jsonData(w, 200, Message{ID: "m-new", ConversationID: "c1", Sender: User{ID: "me"}, Content: "sent"})
		case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/profile/user/"):
			id := strings.TrimPrefix(r.URL.Path, "/profile/user/")
			if id == "u404" {
				jsonError(w, 404, "NOT_FOUND", "no such user")
				return
			}
			jsonData(w, 200, User{ID: id, Name: "Resolved " + id})
		case r.Method == "GET" && r.URL.Path == "/messages/anonymous":
			jsonData(w, 200, []Message{
				{ID: "a1", IsAnonymous: true, Content: "root secret"},
				{ID: "a2", IsAnonymous: true, Content: "nested", ReplyTo: &ReplyRef{ID: "a1"}},
				{ID: "a3", Content: "visible reply", ReplyTo: &ReplyRef{ID: "a1"}},
			})
		default:
			jsonData(w, 200, nil)
		}
	}))
	t.Cleanup(srv.Close)

	client := testClient(srv, "tok")
	f.session = NewSession(client, NewMemoryCredentialStore())
	f.session.Login("tok", &User{ID: "me", Name: "Me"})
	f.cm = NewConversationManager(client, f.session, offlineConn(f.session))
	return f
}

// ============================================================================
// Conversation list
// ============================================================================

func TestConversationList(t *testing.T) {
	f := newConvFixture(t)
	if err := f.cm.RefreshConversations(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.cm.Conversations()) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(f.cm.Conversations()))
	}

	visible := f.cm.VisibleConversations()
	if len(visible) != 1 || visible[0].ID != "c1" {
		t.Fatalf("expected anonymous-last conversation hidden, got %+v", visible)
	}
}

// ============================================================================
// Thread loading
// ============================================================================

func TestOpenConversation(t *testing.T) {
	f := newConvFixture(t)
	if err := f.cm.OpenConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	thread := f.cm.Thread()
	if len(thread) != 2 {
		t.Fatalf("expected anonymous traffic filtered, got %d messages", len(thread))
	}
	for _, m := range thread {
		if m.IsAnonymous || m.ParentIsAnonymous {
			t.Fatalf("anonymous message leaked into thread: %+v", m)
		}
	}
	if f.cm.ActiveConversationID() != "c1" {
		t.Fatalf("expected c1 active, got %q", f.cm.ActiveConversationID())
	}
}

// ============================================================================
// Push handling
// ============================================================================

func TestHandlePush(t *testing.T) {
	t.Run("appends to the active thread once", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.OpenConversation(context.Background(), "c1")
		before := len(f.cm.Thread())

		push := Message{ID: "m5", ConversationID: "c1", Sender: User{ID: "u2"}, Content: "pushed"}
		f.cm.HandlePush(push)
		f.cm.HandlePush(push)

		if got := len(f.cm.Thread()); got != before+1 {
			t.Fatalf("expected exactly one append, thread went %d -> %d", before, got)
		}
	})

	t.Run("anonymous push never enters the thread", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.OpenConversation(context.Background(), "c1")
		before := len(f.cm.Thread())

		f.cm.HandlePush(Message{ID: "m6", ConversationID: "c1", Content: "sneaky", IsAnonymous: true})
		f.cm.HandlePush(Message{ID: "m7", ConversationID: "c1", Content: "reply to sneaky", ParentIsAnonymous: true})

		if got := len(f.cm.Thread()); got != before {
			t.Fatalf("expected thread unchanged, went %d -> %d", before, got)
		}
	})

	t.Run("push for another conversation refreshes the list only", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.OpenConversation(context.Background(), "c1")
		before := len(f.cm.Thread())
		fetchesBefore := f.listFetches.Load()

		f.cm.HandlePush(Message{ID: "m8", ConversationID: "c9", Sender: User{ID: "u9"}, Content: "elsewhere"})

		if got := len(f.cm.Thread()); got != before {
			t.Fatalf("expected thread unchanged, went %d -> %d", before, got)
		}
		if f.listFetches.Load() != fetchesBefore+1 {
			t.Fatal("expected a summary refresh for the inactive conversation")
		}
	})
}

// ============================================================================
// Sending
// ============================================================================

func TestSendMessage(t *testing.T) {
	t.Run("whitespace only is a silent no-op", func(t *testing.T) {
		f := newConvFixture(t)
		msg, err := f.cm.SendMessage(context.Background(), "u2", "   \n\t ", false)
		if err != nil || msg != nil {
			t.Fatalf("expected nil, nil, got %v, %v", msg, err)
		}
		if f.sends.Load() != 0 {
			t.Fatal("expected no request for whitespace content")
		}
	})

	t.Run("optimistic append of the server echo", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.OpenConversation(context.Background(), "c1")

		msg, err := f.cm.SendMessage(context.Background(), "u2", "sent", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		thread := f.cm.Thread()
		if thread[len(thread)-1].ID != msg.ID {
			t.Fatal("expected the echo appended to the thread")
		}
		if f.cm.SendState() != MutationConfirmed {
			t.Fatalf("expected confirmed, got %s", f.cm.SendState())
		}
	})

	t.Run("send refreshes the summary list", func(t *testing.T) {
		f := newConvFixture(t)
		before := f.listFetches.Load()
		if _, err := f.cm.SendMessage(context.Background(), "u2", "hello", false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.listFetches.Load() != before+1 {
			t.Fatal("expected a summary refresh after send")
		}
	})

	t.Run("failure surfaces and tags the mutation", func(t *testing.T) {
		f := newConvFixture(t)
		f.sendStatus.Store(500)

		_, err := f.cm.SendMessage(context.Background(), "u2", "doomed", false)
		if err == nil {
			t.Fatal("expected error")
		}
		if f.cm.SendState() != MutationFailed {
			t.Fatalf("expected failed, got %s", f.cm.SendState())
		}
		if f.cm.LastError() == nil {
			t.Fatal("expected last error recorded")
		}
	})
}

// ============================================================================
// Deep links
// ============================================================================

func TestOpenWithUser(t *testing.T) {
	t.Run("existing conversation opens directly", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.RefreshConversations(context.Background())

		if err := f.cm.OpenWithUser(context.Background(), "u2"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.cm.ActiveConversationID() != "c1" {
			t.Fatalf("expected c1 active, got %q", f.cm.ActiveConversationID())
		}
		if f.cm.DraftProfile() != nil {
			t.Fatal("expected no draft for an existing conversation")
		}
	})

	t.Run("unknown user becomes a draft", func(t *testing.T) {
		f := newConvFixture(t)
		f.cm.RefreshConversations(context.Background())

		if err := f.cm.OpenWithUser(context.Background(), "u77"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		draft := f.cm.DraftProfile()
		if draft == nil || draft.Name != "Resolved u77" {
			t.Fatalf("expected resolved draft profile, got %+v", draft)
		}
	})

	t.Run("unresolvable profile falls back to a placeholder", func(t *testing.T) {
		f := newConvFixture(t)
		if err := f.cm.OpenWithUser(context.Background(), "u404"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		draft := f.cm.DraftProfile()
		if draft == nil || draft.Name != "Unknown User" || draft.ID != "u404" {
			t.Fatalf("expected placeholder draft, got %+v", draft)
		}
	})

	t.Run("self link is ignored", func(t *testing.T) {
		f := newConvFixture(t)
		if err := f.cm.OpenWithUser(context.Background(), "me"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if f.cm.DraftProfile() != nil || f.cm.ActiveConversationID() != "" {
			t.Fatal("expected no state change for a self deep link")
		}
	})
}

// ============================================================================
// Anonymous inbox
// ============================================================================

func TestAnonymousInbox(t *testing.T) {
	f := newConvFixture(t)
	roots, err := f.cm.AnonymousInbox(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(roots) != 1 || roots[0].ID != "a1" {
		t.Fatalf("expected only root anonymous messages, got %+v", roots)
	}
}

func TestDirectReply(t *testing.T) {
	msgs := []Message{
		{ID: "a1", IsAnonymous: true},
		{ID: "a2", ReplyTo: &ReplyRef{ID: "a1"}, Content: "first reply"},
		{ID: "a3", ReplyTo: &ReplyRef{ID: "a1"}, Content: "second reply"},
	}
	if r := DirectReply(msgs, "a1"); r == nil || r.ID != "a2" {
		t.Fatalf("expected first matching reply, got %+v", r)
	}
	if r := DirectReply(msgs, "zz"); r != nil {
		t.Fatalf("expected nil for unknown root, got %+v", r)
	}
}

// ============================================================================
// Reply masking
// ============================================================================

func TestReplyMasking(t *testing.T) {
	anonReply := Message{
		ID:      "m1",
		Content: "thanks for the secret",
		ReplyTo: &ReplyRef{ID: "a1", SenderID: "target", Content: "the secret", IsAnonymous: true},
	}

	t.Run("reply target sees the content", func(t *testing.T) {
		if !CanViewReplyContent("target", anonReply) {
			t.Fatal("expected the reply target to see the parent")
		}
		if got := RenderReplyContent("target", anonReply); got != "the secret" {
			t.Fatalf("expected parent content, got %q", got)
		}
	})

	t.Run("everyone else sees the placeholder", func(t *testing.T) {
		if CanViewReplyContent("bystander", anonReply) {
			t.Fatal("expected the parent masked for other viewers")
		}
		if got := RenderReplyContent("bystander", anonReply); got != MaskedReplyPlaceholder {
			t.Fatalf("expected placeholder, got %q", got)
		}
	})

	t.Run("non-anonymous parents are visible to all", func(t *testing.T) {
		m := Message{ReplyTo: &ReplyRef{ID: "p1", SenderID: "u2", Content: "public"}}
		if !CanViewReplyContent("anyone", m) {
			t.Fatal("expected public parent visible")
		}
	})

	t.Run("parent flag alone triggers masking", func(t *testing.T) {
		m := Message{
			ParentIsAnonymous: true,
			ReplyTo:           &ReplyRef{ID: "p1", SenderID: "target", Content: "hidden"},
		}
		if CanViewReplyContent("bystander", m) {
			t.Fatal("expected masking from the parent flag")
		}
		if !CanViewReplyContent("target", m) {
			t.Fatal("expected the target still sees it")
		}
	})

	t.Run("no reply reference means nothing to mask", func(t *testing.T) {
		if !CanViewReplyContent("anyone", Message{Content: "plain"}) {
			t.Fatal("expected plain messages unaffected")
		}
	})
}
