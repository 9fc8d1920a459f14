package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/compass-agent/internal/app/agentflow"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
)

// Service exposes the caller-facing journey operations over the stores.
// Calls on one session are serialised; a concurrent call fails with
// domain.ErrSessionBusy.
type Service struct {
	sessionStore domain.SessionStore
	messageStore domain.MessageStore
	journalStore domain.JournalStore
	now          func() time.Time

	orchestrator *agentflow.Orchestrator
	analyst      *agentflow.Analyst

	mu       sync.Mutex
	inflight map[domain.SessionID]struct{}
}

// NewService wires the service. journalStore may be nil, in which case
// reports are kept on the session only.
func NewService(
	orchestrator *agentflow.Orchestrator,
	analyst *agentflow.Analyst,
	sessionStore domain.SessionStore,
	messageStore domain.MessageStore,
	journalStore domain.JournalStore,
) *Service {
	return &Service{
		sessionStore: sessionStore,
		messageStore: messageStore,
		journalStore: journalStore,
		now:          time.Now,
		orchestrator: orchestrator,
		analyst:      analyst,
		inflight:     make(map[domain.SessionID]struct{}),
	}
}

func (s *Service) acquire(id domain.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return domain.ErrSessionBusy
	}
	s.inflight[id] = struct{}{}
	return nil
}

func (s *Service) release(id domain.SessionID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

type StartJourneyInput struct {
	UserID    domain.UserID
	Mode      domain.Mode
	Intensity domain.Intensity
}

type StartJourneyOutput struct {
	Session *domain.Session
	Opening *domain.Message
}

// StartJourney creates a session and serves the opening scenario.
func (s *Service) StartJourney(ctx context.Context, in StartJourneyInput) (*StartJourneyOutput, error) {
	log := observability.LoggerFromContext(ctx).With(
		"user_id", in.UserID,
		"mode", in.Mode,
		"intensity", in.Intensity,
	)
	log.Info("starting journey")

	opening, err := s.orchestrator.StartTurn(ctx, in.Mode, in.Intensity)
	if err != nil {
		log.Warn("start rejected", "error", err)
		return nil, err
	}

	now := s.now()
	session := &domain.Session{
		ID:        domain.NewSessionID(),
		UserID:    in.UserID,
		Mode:      in.Mode,
		Intensity: in.Intensity,
		CreatedAt: now,
		State:     domain.StateNotStarted,
	}
	session.RecordOpening(now)

	sentinel := domain.NewSentinelMessage(session.ID, now)
	sentinel.Seq = session.NextSeq()
	msg := &domain.Message{
		ID:          domain.NewMessageID(),
		SessionID:   session.ID,
		Seq:         session.NextSeq(),
		Role:        domain.RoleAssistant,
		Content:     opening.Content,
		CreatedAt:   now,
		Suggestions: opening.Suggestions,
	}

	if err := s.sessionStore.CreateSession(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return nil, err
	}

	for _, m := range []*domain.Message{sentinel, msg} {
		if err := s.messageStore.AppendMessage(ctx, m); err != nil {
			log.Error("failed to append opening messages", "error", err)
			s.discard(ctx, session.ID)
			return nil, err
		}
	}

	observability.ActiveSessions.Inc()
	log.Info("journey started", "session_id", session.ID)

	return &StartJourneyOutput{Session: session, Opening: msg}, nil
}

type SendTurnInput struct {
	SessionID domain.SessionID
	Text      string
	Settings  domain.Settings
}

type RetryTurnInput struct {
	SessionID domain.SessionID
	Settings  domain.Settings
}

type TurnOutput struct {
	Session *domain.Session
	// Reply is the assistant message. When Degraded it is a placeholder that
	// was not stored, and the user's message stays pending.
	Reply    *domain.Message
	Degraded bool
}

// SendTurn stores the user's reply and generates the next assistant turn.
// On failure the reply stays in history and can be resubmitted with RetryTurn.
func (s *Service) SendTurn(ctx context.Context, in SendTurnInput) (*TurnOutput, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, domain.ErrEmptyMessage
	}

	if err := s.acquire(in.SessionID); err != nil {
		return nil, err
	}
	defer s.release(in.SessionID)

	ctx = observability.WithSessionID(ctx, string(in.SessionID))
	log := observability.LoggerFromContext(ctx)

	session, err := s.sessionStore.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Result != nil {
		return nil, domain.ErrSessionFinished
	}
	if session.PendingReply {
		return nil, domain.ErrTurnPending
	}

	userMsg := &domain.Message{
		ID:        domain.NewMessageID(),
		SessionID: session.ID,
		Seq:       session.NextSeq(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: s.now(),
	}

	// The pending flag is stored before the message so a stored user
	// message is never left without it.
	session.PendingReply = true
	session.State = domain.StateGenerating
	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to update session", "error", err)
		return nil, err
	}

	if err := s.messageStore.AppendMessage(ctx, userMsg); err != nil {
		log.Error("failed to append user message", "error", err)
		session.PendingReply = false
		session.State = domain.StateAwaitingUser
		session.UpdatedAt = s.now()
		if uerr := s.sessionStore.UpdateSession(ctx, session); uerr != nil {
			log.Error("failed to restore session state", "error", uerr)
		}
		return nil, err
	}

	return s.generate(ctx, session, in.Settings)
}

// RetryTurn resubmits the pending user reply without retyping it.
func (s *Service) RetryTurn(ctx context.Context, in RetryTurnInput) (*TurnOutput, error) {
	if err := s.acquire(in.SessionID); err != nil {
		return nil, err
	}
	defer s.release(in.SessionID)

	ctx = observability.WithSessionID(ctx, string(in.SessionID))

	session, err := s.sessionStore.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Result != nil {
		return nil, domain.ErrSessionFinished
	}
	if !session.PendingReply {
		return nil, domain.ErrNoPendingTurn
	}

	observability.LoggerFromContext(ctx).Info("retrying pending turn", "turn", session.TurnCount+1)
	return s.generate(ctx, session, in.Settings)
}

// generate runs the orchestrator for a session whose last message is a
// pending user reply. The call is not cancelled when the caller goes away so
// that a completed turn is never lost.
func (s *Service) generate(ctx context.Context, session *domain.Session, settings domain.Settings) (*TurnOutput, error) {
	ctx = context.WithoutCancel(ctx)
	log := observability.LoggerFromContext(ctx).With("mode", session.Mode)

	history, err := s.messageStore.GetMessagesBySession(ctx, session.ID)
	if err != nil {
		log.Error("failed to load history", "error", err)
		return nil, err
	}

	out, err := s.orchestrator.ContinueTurn(ctx, history, session.Mode, session.Intensity, settings)
	if err != nil {
		session.State = domain.StateAwaitingUser
		session.UpdatedAt = s.now()
		if uerr := s.sessionStore.UpdateSession(ctx, session); uerr != nil {
			log.Error("failed to restore session state", "error", uerr)
		}
		return nil, err
	}

	reply := &domain.Message{
		ID:          domain.NewMessageID(),
		SessionID:   session.ID,
		Role:        domain.RoleAssistant,
		Content:     out.Content,
		CreatedAt:   s.now(),
		Suggestions: out.Suggestions,
	}

	if out.Degraded {
		session.State = domain.StateAwaitingUser
		session.UpdatedAt = s.now()
		if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
			log.Error("failed to update session", "error", err)
			return nil, err
		}
		return &TurnOutput{Session: session, Reply: reply, Degraded: true}, nil
	}

	reply.Seq = session.NextSeq()
	if err := s.messageStore.AppendMessage(ctx, reply); err != nil {
		log.Error("failed to append assistant message", "error", err)
		return nil, err
	}

	session.RecordTurn(out.Finished, s.now())
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to update session", "error", err)
		return nil, err
	}

	log.Info("turn completed", "turn", session.TurnCount, "finish_eligible", session.FinishEligible)
	return &TurnOutput{Session: session, Reply: reply}, nil
}

type FinalizeInput struct {
	SessionID domain.SessionID
	Settings  domain.Settings
}

type FinalizeOutput struct {
	Session *domain.Session
	Result  *domain.DiscoveryResult
}

// Finalize generates the report of a finish-eligible session. On failure
// the session returns to its conversational state.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*FinalizeOutput, error) {
	if err := s.acquire(in.SessionID); err != nil {
		return nil, err
	}
	defer s.release(in.SessionID)

	ctx = context.WithoutCancel(observability.WithSessionID(ctx, string(in.SessionID)))
	log := observability.LoggerFromContext(ctx)

	session, err := s.sessionStore.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Result != nil {
		return nil, domain.ErrSessionFinished
	}
	if !session.FinishEligible {
		return nil, domain.ErrNotFinishEligible
	}

	history, err := s.messageStore.GetMessagesBySession(ctx, session.ID)
	if err != nil {
		log.Error("failed to load history", "error", err)
		return nil, err
	}

	session.State = domain.StateAnalyzing
	session.UpdatedAt = s.now()
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to update session", "error", err)
		return nil, err
	}

	res, err := s.analyst.Finalize(ctx, history, session.Mode, in.Settings)
	if err != nil {
		session.State = domain.StateAwaitingUser
		session.UpdatedAt = s.now()
		if uerr := s.sessionStore.UpdateSession(ctx, session); uerr != nil {
			log.Error("failed to restore session state", "error", uerr)
		}
		return nil, err
	}

	session.RecordResult(res, s.now())
	if err := s.sessionStore.UpdateSession(ctx, session); err != nil {
		log.Error("failed to store report", "error", err)
		return nil, err
	}

	if s.journalStore != nil {
		if err := s.journalStore.AppendJournalEntry(ctx, domain.NewJournalEntry(session, s.now())); err != nil {
			log.Error("failed to append journal entry", "error", err)
		}
	}

	log.Info("journey finalized", "trend", res.PhilosophicalTrend)
	return &FinalizeOutput{Session: session, Result: res}, nil
}

// discard removes a session whose creation could not complete.
func (s *Service) discard(ctx context.Context, id domain.SessionID) {
	log := observability.LoggerFromContext(ctx).With("session_id", id)
	if err := s.messageStore.DeleteMessagesBySession(ctx, id); err != nil {
		log.Error("failed to discard messages", "error", err)
	}
	if err := s.sessionStore.DeleteSession(ctx, id); err != nil {
		log.Error("failed to discard session", "error", err)
	}
}

// Reset discards a session and its history.
func (s *Service) Reset(ctx context.Context, id domain.SessionID) error {
	if err := s.acquire(id); err != nil {
		return err
	}
	defer s.release(id)

	log := observability.LoggerFromContext(ctx).With("session_id", id)

	if _, err := s.sessionStore.GetSession(ctx, id); err != nil {
		return err
	}
	if err := s.messageStore.DeleteMessagesBySession(ctx, id); err != nil {
		log.Error("failed to delete messages", "error", err)
		return fmt.Errorf("reset messages: %w", err)
	}
	if err := s.sessionStore.DeleteSession(ctx, id); err != nil {
		log.Error("failed to delete session", "error", err)
		return fmt.Errorf("reset session: %w", err)
	}

	observability.ActiveSessions.Dec()
	log.Info("journey reset")
	return nil
}

// GetJourney returns a session with its visible transcript.
func (s *Service) GetJourney(ctx context.Context, id domain.SessionID) (*domain.Session, []*domain.Message, error) {
	log := observability.LoggerFromContext(ctx).With("session_id", id)

	session, err := s.sessionStore.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	msgs, err := s.messageStore.GetMessagesBySession(ctx, id)
	if err != nil {
		log.Error("failed to get messages", "error", err)
		return nil, nil, err
	}

	visible := domain.VisibleMessages(msgs)
	log.Debug("fetched journey", "message_count", len(visible))
	return session, visible, nil
}

// ListJourneys returns the most recent sessions of a user.
func (s *Service) ListJourneys(ctx context.Context, userID domain.UserID, limit int) ([]*domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.sessionStore.ListSessionsByUser(ctx, userID, limit)
}
