package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

// SessionStore keeps sessions in process memory. Values are copied in and
// out so callers never share state with the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
	}

	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) UpdateSession(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}

	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id domain.SessionID) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	return cloneSession(sess), nil
}

func (s *SessionStore) DeleteSession(_ context.Context, id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// ListSessionsByUser returns the newest sessions first.
func (s *SessionStore) ListSessionsByUser(_ context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Session{}
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, cloneSession(sess))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneSession(in *domain.Session) *domain.Session {
	out := *in
	if in.Result != nil {
		res := cloneResult(*in.Result)
		out.Result = &res
	}
	return &out
}

func cloneResult(in domain.DiscoveryResult) domain.DiscoveryResult {
	out := in
	out.KeyInsights = append([]string(nil), in.KeyInsights...)
	out.SuggestedPaths = append([]string(nil), in.SuggestedPaths...)
	out.Dimensions = append([]domain.Dimension(nil), in.Dimensions...)
	return out
}
