package memory

import (
	"context"
	"sync"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"
)

// MemoryMessageStore is a stand-in for the external persistent message store.
// It records messages and status transitions per conversation; status only
// escalates forward.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[domain.ConversationID][]*domain.ChatMessage
	statuses map[domain.MessageID]*domain.MessageStatusUpdate
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		messages: make(map[domain.ConversationID][]*domain.ChatMessage),
		statuses: make(map[domain.MessageID]*domain.MessageStatusUpdate),
	}
}

var _ ports.MessageStore = (*MemoryMessageStore)(nil)

func (s *MemoryMessageStore) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &copied)
	return nil
}

func (s *MemoryMessageStore) SaveStatus(ctx context.Context, update *domain.MessageStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.statuses[update.MessageID]
	if ok && existing.Status.Rank() >= update.Status.Rank() {
		// Lower or equal status after a higher one is absorbed.
		return nil
	}
	copied := *update
	s.statuses[update.MessageID] = &copied
	return nil
}

// Messages returns the recorded messages for a conversation, oldest first.
func (s *MemoryMessageStore) Messages(conversation domain.ConversationID) []*domain.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ChatMessage, len(s.messages[conversation]))
	copy(out, s.messages[conversation])
	return out
}

// Status returns the highest recorded status for a message.
func (s *MemoryMessageStore) Status(id domain.MessageID) (*domain.MessageStatusUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	update, ok := s.statuses[id]
	if !ok {
		return nil, false
	}
	copied := *update
	return &copied, true
}
