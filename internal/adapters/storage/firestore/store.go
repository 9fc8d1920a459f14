package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

type Store struct {
	client *firestore.Client
	prefix string
}

// Config selects the GCP project and an optional collection prefix, useful
// to share one project between environments.
type Config struct {
	ProjectID        string
	CollectionPrefix string
}

// NewStore creates a Firestore store.
// Uses the project passed (COMPASS_GCP_PROJECT).
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, prefix: cfg.CollectionPrefix}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) messagesCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection("messages")
}

func (s *Store) messageDoc(sessionID domain.SessionID, msgID domain.MessageID) *firestore.DocumentRef {
	return s.messagesCol(sessionID).Doc(string(msgID))
}

func (s *Store) journalCol() *firestore.CollectionRef {
	return s.client.Collection(s.prefix + "journal")
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type sessionDoc struct {
	UserID         string                  `firestore:"user_id"`
	Mode           string                  `firestore:"mode"`
	Intensity      string                  `firestore:"intensity"`
	State          string                  `firestore:"state"`
	TurnCount      int                     `firestore:"turn_count"`
	FinishEligible bool                    `firestore:"finish_eligible"`
	PendingReply   bool                    `firestore:"pending_reply"`
	MessageCount   int                     `firestore:"message_count"`
	Result         *domain.DiscoveryResult `firestore:"result"`
	CreatedAt      time.Time               `firestore:"created_at"`
	UpdatedAt      time.Time               `firestore:"updated_at"`
}

func toSessionDoc(s *domain.Session) sessionDoc {
	return sessionDoc{
		UserID:         string(s.UserID),
		Mode:           string(s.Mode),
		Intensity:      string(s.Intensity),
		State:          string(s.State),
		TurnCount:      s.TurnCount,
		FinishEligible: s.FinishEligible,
		PendingReply:   s.PendingReply,
		MessageCount:   s.MessageCount,
		Result:         s.Result,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (d sessionDoc) session(id domain.SessionID) *domain.Session {
	return &domain.Session{
		ID:             id,
		UserID:         domain.UserID(d.UserID),
		Mode:           domain.Mode(d.Mode),
		Intensity:      domain.Intensity(d.Intensity),
		State:          domain.SessionState(d.State),
		TurnCount:      d.TurnCount,
		FinishEligible: d.FinishEligible,
		PendingReply:   d.PendingReply,
		MessageCount:   d.MessageCount,
		Result:         d.Result,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type messageDoc struct {
	SessionID   string    `firestore:"session_id"`
	Seq         int       `firestore:"seq"`
	Role        string    `firestore:"role"`
	Content     string    `firestore:"content"`
	Suggestions []string  `firestore:"suggestions"`
	CreatedAt   time.Time `firestore:"created_at"`
}

type journalDoc struct {
	SessionID string                 `firestore:"session_id"`
	UserID    string                 `firestore:"user_id"`
	Mode      string                 `firestore:"mode"`
	Intensity string                 `firestore:"intensity"`
	Turns     int                    `firestore:"turns"`
	Result    domain.DiscoveryResult `firestore:"result"`
	CreatedAt time.Time              `firestore:"created_at"`
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.sessionDoc(session.ID).Create(ctx, toSessionDoc(session))
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", domain.ErrSessionExists, session.ID)
	}
	if err != nil {
		return fmt.Errorf("firestore CreateSession: %w", err)
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, session *domain.Session) error {
	updates := []firestore.Update{
		{Path: "state", Value: string(session.State)},
		{Path: "turn_count", Value: session.TurnCount},
		{Path: "finish_eligible", Value: session.FinishEligible},
		{Path: "pending_reply", Value: session.PendingReply},
		{Path: "message_count", Value: session.MessageCount},
		{Path: "result", Value: session.Result},
		{Path: "updated_at", Value: session.UpdatedAt},
	}

	// Update fails on a missing document, unlike Set.
	_, err := s.sessionDoc(session.ID).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, session.ID)
	}
	if err != nil {
		return fmt.Errorf("firestore UpdateSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}
	return doc.session(id), nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	_, err := s.sessionDoc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	q := s.sessionsCol().Where("user_id", "==", string(userID)).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.Session{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListSessionsByUser: %w", err)
		}

		var doc sessionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode sessionDoc: %w", err)
		}
		out = append(out, doc.session(domain.SessionID(snap.Ref.ID)))
	}
	return out, nil
}

// ─────────────────────────────────────────
// MessageStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	doc := messageDoc{
		SessionID:   string(msg.SessionID),
		Seq:         msg.Seq,
		Role:        string(msg.Role),
		Content:     msg.Content,
		Suggestions: msg.Suggestions,
		CreatedAt:   msg.CreatedAt,
	}

	_, err := s.messageDoc(msg.SessionID, msg.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) GetMessagesBySession(ctx context.Context, sessionID domain.SessionID) ([]*domain.Message, error) {
	iter := s.messagesCol(sessionID).OrderBy("seq", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	out := []*domain.Message{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore GetMessagesBySession: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}

		out = append(out, &domain.Message{
			ID:          domain.MessageID(snap.Ref.ID),
			SessionID:   sessionID,
			Seq:         doc.Seq,
			Role:        domain.Role(doc.Role),
			Content:     doc.Content,
			Suggestions: doc.Suggestions,
			CreatedAt:   doc.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) DeleteMessagesBySession(ctx context.Context, sessionID domain.SessionID) error {
	refs, err := s.messagesCol(sessionID).DocumentRefs(ctx).GetAll()
	if err != nil {
		return fmt.Errorf("firestore DeleteMessagesBySession: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("firestore DeleteMessagesBySession: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("firestore DeleteMessagesBySession: %w", err)
		}
	}
	return nil
}

// ─────────────────────────────────────────
// JournalStore implementation
// ─────────────────────────────────────────

func (s *Store) AppendJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	doc := journalDoc{
		SessionID: string(entry.SessionID),
		UserID:    string(entry.UserID),
		Mode:      string(entry.Mode),
		Intensity: string(entry.Intensity),
		Turns:     entry.Turns,
		Result:    entry.Result,
		CreatedAt: entry.CreatedAt,
	}

	ref := s.journalCol().NewDoc()
	if entry.ID != "" {
		ref = s.journalCol().Doc(string(entry.ID))
	}
	if _, err := ref.Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendJournalEntry: %w", err)
	}
	entry.ID = domain.JournalEntryID(ref.ID)
	return nil
}

func (s *Store) ListJournalEntriesByUser(ctx context.Context, userID domain.UserID, limit int) ([]*domain.JournalEntry, error) {
	q := s.journalCol().Where("user_id", "==", string(userID)).OrderBy("created_at", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	out := []*domain.JournalEntry{}
	for {
		snap, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("firestore ListJournalEntriesByUser: %w", err)
		}

		var doc journalDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode journalDoc: %w", err)
		}

		out = append(out, &domain.JournalEntry{
			ID:        domain.JournalEntryID(snap.Ref.ID),
			SessionID: domain.SessionID(doc.SessionID),
			UserID:    domain.UserID(doc.UserID),
			Mode:      domain.Mode(doc.Mode),
			Intensity: domain.Intensity(doc.Intensity),
			Turns:     doc.Turns,
			Result:    doc.Result,
			CreatedAt: doc.CreatedAt,
		})
	}
	return out, nil
}
