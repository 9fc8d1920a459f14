package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JournalEntryID identifies a stored report.
type JournalEntryID string

// JournalEntry keeps a finalized report so a user can revisit past journeys.
type JournalEntry struct {
	ID        JournalEntryID  `json:"id"`
	SessionID SessionID       `json:"session_id"`
	UserID    UserID          `json:"user_id"`
	Mode      Mode            `json:"mode"`
	Intensity Intensity       `json:"intensity"`
	Turns     int             `json:"turns"`
	CreatedAt time.Time       `json:"created_at"`
	Result    DiscoveryResult `json:"result"`
}

// NewJournalEntry snapshots a finished session.
func NewJournalEntry(s *Session, now time.Time) *JournalEntry {
	e := &JournalEntry{
		ID:        JournalEntryID(uuid.NewString()),
		SessionID: s.ID,
		UserID:    s.UserID,
		Mode:      s.Mode,
		Intensity: s.Intensity,
		Turns:     s.TurnCount,
		CreatedAt: now,
	}
	if s.Result != nil {
		e.Result = *s.Result
	}
	return e
}

// JournalStore defines the minimum operations to persist reports.
type JournalStore interface {
	AppendJournalEntry(ctx context.Context, entry *JournalEntry) error
	ListJournalEntriesByUser(ctx context.Context, userID UserID, limit int) ([]*JournalEntry, error)
}
