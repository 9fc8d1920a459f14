package domain

import "context"

// ChatMessage is one message of generator context, already stripped of the
// sentinel.
type ChatMessage struct {
	Role    Role
	Content string
}

// CallKind distinguishes conversational turns from the final analysis.
// Adapters may route the two to different models.
type CallKind string

const (
	CallTurn     CallKind = "turn"
	CallAnalysis CallKind = "analysis"
)

// GenerateRequest is the provider-neutral request sent to a Generator.
type GenerateRequest struct {
	Kind              CallKind
	SystemInstruction string
	Messages          []ChatMessage
	Temperature       float32
}

// Generator is the external text-generation capability. Implementations are
// stateless per call.
type Generator interface {
	// GenerateText returns free text.
	GenerateText(ctx context.Context, req GenerateRequest) (string, error)

	// GenerateStructured returns a text-encoded JSON document. A nil schema
	// asks for a bare JSON object.
	GenerateStructured(ctx context.Context, req GenerateRequest, schema *Schema) (string, error)
}

// GeneratorResolver picks the Generator for a call from caller settings.
type GeneratorResolver interface {
	Resolve(ctx context.Context, settings Settings) (Generator, Provider, error)
}

// SessionStore defines session persistence.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	UpdateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id SessionID) (*Session, error)
	DeleteSession(ctx context.Context, id SessionID) error
	ListSessionsByUser(ctx context.Context, userID UserID, limit int) ([]*Session, error)
}

// MessageStore defines append-only history persistence.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	GetMessagesBySession(ctx context.Context, sessionID SessionID) ([]*Message, error)
	DeleteMessagesBySession(ctx context.Context, sessionID SessionID) error
}
