package domain

import (
	"time"

	"github.com/google/uuid"
)

// StartSentinel is the content of the synthetic user message that opens every
// journey. It triggers orchestration and is never shown or analysed.
const StartSentinel = "START"

// Message is one entry of a session history. Immutable once appended.
type Message struct {
	ID        MessageID `json:"id"`
	SessionID SessionID `json:"session_id"`
	// Seq is the position of the message in its session, starting at 0.
	Seq       int       `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"` // bilingual-encoded
	CreatedAt Timestamp `json:"created_at"`

	// Suggestions are the bilingual quick replies offered with an assistant message.
	Suggestions []string `json:"suggestions,omitempty"`
}

// IsSentinel reports whether m is the synthetic START message.
func (m Message) IsSentinel() bool {
	return m.Role == RoleUser && m.Content == StartSentinel
}

func NewMessageID() MessageID {
	return MessageID(uuid.NewString())
}

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// NewSentinelMessage builds the START message for a session.
func NewSentinelMessage(sessionID SessionID, now time.Time) *Message {
	return &Message{
		ID:        NewMessageID(),
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   StartSentinel,
		CreatedAt: now,
	}
}

// VisibleMessages drops the sentinel, keeping order.
func VisibleMessages(history []*Message) []*Message {
	out := make([]*Message, 0, len(history))
	for _, m := range history {
		if m == nil || m.IsSentinel() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SessionState tracks where a session sits in the journey state machine.
// Finish eligibility is a separate flag, not a state.
type SessionState string

const (
	StateNotStarted   SessionState = "NOT_STARTED"
	StateAwaitingUser SessionState = "AWAITING_USER"
	StateGenerating   SessionState = "GENERATING"
	StateAnalyzing    SessionState = "ANALYZING"
	StateDone         SessionState = "DONE"
)

// Session is the conversational state of one journey.
type Session struct {
	ID        SessionID `json:"id"`
	UserID    UserID    `json:"user_id"`
	Mode      Mode      `json:"mode"`
	Intensity Intensity `json:"intensity"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`

	State          SessionState `json:"state"`
	TurnCount      int          `json:"turn_count"`
	FinishEligible bool         `json:"finish_eligible"`

	// PendingReply is set while the latest user message has no assistant answer.
	PendingReply bool `json:"pending_reply"`
	// MessageCount is the number of stored messages, sentinel included.
	MessageCount int  `json:"message_count"`

	Result *DiscoveryResult `json:"result,omitempty"`
}

// NextSeq reserves the sequence number of the next stored message.
func (s *Session) NextSeq() int {
	n := s.MessageCount
	s.MessageCount++
	return n
}

// RecordOpening marks the canned opening question as served.
func (s *Session) RecordOpening(now time.Time) {
	s.TurnCount = 1
	s.State = StateAwaitingUser
	s.PendingReply = false
	s.UpdatedAt = now
}

// RecordTurn advances the session after a successful assistant turn.
// finishEligible only ever moves from false to true.
func (s *Session) RecordTurn(finished bool, now time.Time) {
	s.TurnCount++
	if finished {
		s.FinishEligible = true
	}
	s.PendingReply = false
	s.State = StateAwaitingUser
	s.UpdatedAt = now
}

// RecordResult stores the final report.
func (s *Session) RecordResult(res *DiscoveryResult, now time.Time) {
	s.Result = res
	s.State = StateDone
	s.UpdatedAt = now
}
