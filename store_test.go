package whispr

import (
	"testing"
)

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemoryStore()
	s.PutMessages("c1", []Message{
		{ID: "m2", Content: "second", CreatedAt: "2026-08-02T10:00:00Z"},
		{ID: "m1", Content: "first", CreatedAt: "2026-08-01T10:00:00Z"},
	})

	t.Run("sorted oldest first", func(t *testing.T) {
		msgs := s.Messages("c1")
		if len(msgs) != 2 || msgs[0].ID != "m1" {
			t.Fatalf("unexpected order: %+v", msgs)
		}
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		s.PutMessages("c1", []Message{{ID: "m1", Content: "edited", CreatedAt: "2026-08-01T10:00:00Z"}})
		msgs := s.Messages("c1")
		if len(msgs) != 2 || msgs[0].Content != "edited" {
			t.Fatalf("expected upsert, got %+v", msgs)
		}
	})

	t.Run("id-less messages are skipped", func(t *testing.T) {
		s.PutMessages("c1", []Message{{Content: "ghost"}})
		if len(s.Messages("c1")) != 2 {
			t.Fatal("expected id-less message skipped")
		}
	})

	t.Run("unknown conversation is empty", func(t *testing.T) {
		if len(s.Messages("nope")) != 0 {
			t.Fatal("expected empty thread")
		}
	})
}

func TestMemoryStoreConversations(t *testing.T) {
	s := NewMemoryStore()
	s.PutConversations([]Conversation{
		{ID: "c1", UpdatedAt: "2026-08-01T10:00:00Z"},
		{ID: "c2", UpdatedAt: "2026-08-02T10:00:00Z"},
	})

	convs := s.Conversations()
	if len(convs) != 2 || convs[0].ID != "c2" {
		t.Fatalf("expected most recent first, got %+v", convs)
	}

	if c, ok := s.GetConversation("c1"); !ok || c.ID != "c1" {
		t.Fatal("expected c1 retrievable by id")
	}
	if _, ok := s.GetConversation("zz"); ok {
		t.Fatal("expected miss for unknown id")
	}
}

func TestMemoryStoreCursor(t *testing.T) {
	s := NewMemoryStore()
	if _, ok := s.Cursor("c1"); ok {
		t.Fatal("expected no cursor initially")
	}
	s.SetCursor("c1", "m3")
	if id, ok := s.Cursor("c1"); !ok || id != "m3" {
		t.Fatalf("expected cursor m3, got %q", id)
	}
}

func TestMemoryStoreSearch(t *testing.T) {
	s := NewMemoryStore()
	s.PutMessages("c1", []Message{
		{ID: "m1", Content: "Hello World", CreatedAt: "2026-08-01T10:00:00Z"},
		{ID: "m2", Content: "goodbye", CreatedAt: "2026-08-02T10:00:00Z"},
	})
	s.PutMessages("c2", []Message{
		{ID: "m3", Content: "the world is wide", CreatedAt: "2026-08-03T10:00:00Z"},
	})

	hits := s.SearchMessages("WORLD")
	if len(hits) != 2 || hits[0].ID != "m1" || hits[1].ID != "m3" {
		t.Fatalf("expected case-insensitive hits across conversations, got %+v", hits)
	}
}

func TestMemoryStoreClear(t *testing.T) {
	s := NewMemoryStore()
	s.PutMessages("c1", []Message{{ID: "m1"}})
	s.PutConversations([]Conversation{{ID: "c1"}})
	s.SetCursor("c1", "m1")

	s.Clear()

	if len(s.Messages("c1")) != 0 || len(s.Conversations()) != 0 {
		t.Fatal("expected everything dropped")
	}
	if _, ok := s.Cursor("c1"); ok {
		t.Fatal("expected cursor dropped")
	}
}
