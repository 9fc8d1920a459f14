package journal

import (
	"context"

	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
)

const defaultLimit = 20

// Service reads the reports of finished journeys.
type Service struct {
	store domain.JournalStore
}

// NewService creates a journal service from a JournalStore
func NewService(store domain.JournalStore) *Service {
	return &Service{
		store: store,
	}
}

// GetUserReports returns the last `limit` reports for a user, newest first.
// If limit <= 0, a reasonable default value is used.
func (s *Service) GetUserReports(
	ctx context.Context,
	userID domain.UserID,
	limit int,
) ([]*domain.JournalEntry, error) {

	if s.store == nil {
		return []*domain.JournalEntry{}, nil
	}

	if limit <= 0 {
		limit = defaultLimit
	}

	entries, err := s.store.ListJournalEntriesByUser(ctx, userID, limit)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to list reports", "user_id", userID, "error", err)
		return nil, err
	}
	return entries, nil
}
