package agentflow_test

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

type reply struct {
	text string
	err  error
}

// scriptedGenerator replays replies in order; the last one repeats.
type scriptedGenerator struct {
	mu       sync.Mutex
	replies  []reply
	calls    int
	requests []domain.GenerateRequest
	schemas  []*domain.Schema
}

func script(replies ...reply) *scriptedGenerator {
	return &scriptedGenerator{replies: replies}
}

func (g *scriptedGenerator) next(req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	g.schemas = append(g.schemas, schema)
	i := min(g.calls, len(g.replies)-1)
	g.calls++
	return g.replies[i].text, g.replies[i].err
}

func (g *scriptedGenerator) GenerateText(_ context.Context, req domain.GenerateRequest) (string, error) {
	return g.next(req, nil)
}

func (g *scriptedGenerator) GenerateStructured(_ context.Context, req domain.GenerateRequest, schema *domain.Schema) (string, error) {
	return g.next(req, schema)
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeResolver struct {
	gen   domain.Generator
	err   error
	calls int
}

func (r *fakeResolver) Resolve(context.Context, domain.Settings) (domain.Generator, domain.Provider, error) {
	r.calls++
	if r.err != nil {
		return nil, domain.ProviderMock, r.err
	}
	return r.gen, domain.ProviderMock, nil
}

// instantRetry records backoff instead of sleeping.
func instantRetry(slept *[]time.Duration) retry.Policy {
	p := retry.Default()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}
	return p
}

func history(contents ...string) []*domain.Message {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []*domain.Message{domain.NewSentinelMessage("s1", now)}
	for i, c := range contents {
		role := domain.RoleAssistant
		if i%2 == 1 {
			role = domain.RoleUser
		}
		msgs = append(msgs, &domain.Message{
			ID:        domain.NewMessageID(),
			SessionID: "s1",
			Role:      role,
			Content:   c,
			CreatedAt: now,
		})
	}
	return msgs
}

const validTurn = `{
  "analysis_zh": "你选择了尊严。",
  "analysis_en": "You chose dignity.",
  "scenario_zh": "现在代价是孤独。",
  "scenario_en": "Now the price is solitude.",
  "question_zh": "你还坚持吗？",
  "question_en": "Do you hold on?",
  "suggestions_zh": ["坚持", "放弃", "犹豫"],
  "suggestions_en": ["Hold on", "Let go"]
}`
