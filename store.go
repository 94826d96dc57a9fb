package whispr

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory cache of conversations and message threads.
// It backs the conversation manager so reopening a conversation can render
// the last known thread before the network round trip completes.
type MemoryStore struct {
	mu            sync.RWMutex
	messages      map[string]map[string]Message // convID -> msgID -> message
	conversations map[string]Conversation
	cursors       map[string]string // convID -> last read message id
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:      make(map[string]map[string]Message),
		conversations: make(map[string]Conversation),
		cursors:       make(map[string]string),
	}
}

// PutMessages upserts messages into a conversation's thread.
func (s *MemoryStore) PutMessages(convID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread := s.messages[convID]
	if thread == nil {
		thread = make(map[string]Message)
		s.messages[convID] = thread
	}
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		thread[m.ID] = m
	}
}

// Messages returns a conversation's cached thread, oldest first.
func (s *MemoryStore) Messages(convID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread := s.messages[convID]
	out := make([]Message, 0, len(thread))
	for _, m := range thread {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// PutConversations upserts conversation summaries.
func (s *MemoryStore) PutConversations(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		if c.ID == "" {
			continue
		}
		s.conversations[c.ID] = c
	}
}

// Conversations returns all cached summaries, most recently updated first.
func (s *MemoryStore) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// GetConversation returns a cached summary by id.
func (s *MemoryStore) GetConversation(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	return c, ok
}

// SetCursor records the last read message id for a conversation.
func (s *MemoryStore) SetCursor(convID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[convID] = messageID
}

// Cursor returns the last read message id for a conversation.
func (s *MemoryStore) Cursor(convID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.cursors[convID]
	return id, ok
}

// SearchMessages returns cached messages whose content contains the query,
// case-insensitive, across all conversations.
func (s *MemoryStore) SearchMessages(query string) []Message {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, thread := range s.messages {
		for _, m := range thread {
			if strings.Contains(strings.ToLower(m.Content), q) {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// Clear drops everything, for use when the session ends.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]map[string]Message)
	s.conversations = make(map[string]Conversation)
	s.cursors = make(map[string]string)
}
