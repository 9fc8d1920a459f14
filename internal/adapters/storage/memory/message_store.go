package memory

import (
	"context"
	"sync"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

type MessageStore struct {
	mu       sync.RWMutex
	messages map[domain.SessionID][]*domain.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: make(map[domain.SessionID][]*domain.Message),
	}
}

func (s *MessageStore) AppendMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	cp.Suggestions = append([]string(nil), msg.Suggestions...)
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &cp)
	return nil
}

// GetMessagesBySession returns the full history in insertion order.
func (s *MessageStore) GetMessagesBySession(_ context.Context, sessionID domain.SessionID) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	out := make([]*domain.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MessageStore) DeleteMessagesBySession(_ context.Context, sessionID domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, sessionID)
	return nil
}
