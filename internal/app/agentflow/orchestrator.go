package agentflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

const turnTemperature = 0.8

// TurnOutput is the result of one orchestrated exchange.
type TurnOutput struct {
	Content     string
	Suggestions []string
	// Finished is true when the generator signalled completion or the
	// intensity target was reached.
	Finished bool
	// Degraded marks a placeholder served because the generator output could
	// not be parsed. Session progress must not advance.
	Degraded  bool
	TurnIndex int
}

// Orchestrator drives single conversational exchanges. It owns no session
// state; callers pass the full history on every call.
type Orchestrator struct {
	catalog  *content.Catalog
	composer *Composer
	resolver domain.GeneratorResolver
	retry    retry.Policy
	rng      content.Rand
}

type Option func(*Orchestrator)

// WithRand injects the opening-scenario random source.
func WithRand(r content.Rand) Option {
	return func(o *Orchestrator) { o.rng = &lockedRand{r: r} }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func NewOrchestrator(catalog *content.Catalog, resolver domain.GeneratorResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:  catalog,
		composer: NewComposer(catalog),
		resolver: resolver,
		retry:    retry.Default(),
		rng:      &lockedRand{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartTurn serves turn 1 verbatim from the question bank. It never calls a
// generator.
func (o *Orchestrator) StartTurn(ctx context.Context, mode domain.Mode, intensity domain.Intensity) (TurnOutput, error) {
	if !intensity.Valid() {
		return TurnOutput{}, fmt.Errorf("%w: %q", domain.ErrInvalidIntensity, intensity)
	}
	item, err := o.catalog.Pick(mode, o.rng)
	if err != nil {
		return TurnOutput{}, err
	}

	observability.TurnsTotal.WithLabelValues(string(mode), "opening").Inc()
	observability.LoggerFromContext(ctx).Info("opening turn served", "mode", mode, "intensity", intensity)

	return TurnOutput{
		Content:     item.Content,
		Suggestions: item.Suggestions,
		TurnIndex:   1,
	}, nil
}

// ContinueTurn generates the next assistant turn. history includes the
// start sentinel and must end with the user's reply.
func (o *Orchestrator) ContinueTurn(
	ctx context.Context,
	history []*domain.Message,
	mode domain.Mode,
	intensity domain.Intensity,
	settings domain.Settings,
) (TurnOutput, error) {
	visible := domain.VisibleMessages(history)
	if !hasExchange(visible) {
		return TurnOutput{}, domain.ErrEmptyHistory
	}

	turnIndex := len(history)/2 + 1
	instr, err := o.composer.BuildTurnInstruction(mode, intensity, turnIndex)
	if err != nil {
		return TurnOutput{}, err
	}

	log := observability.LoggerFromContext(ctx).With(
		"mode", mode,
		"intensity", intensity,
		"turn", turnIndex,
		"phase", instr.Phase,
	)
	log.Info("turn generation start")
	start := time.Now()

	gen, provider, err := o.resolver.Resolve(ctx, settings)
	if err != nil {
		log.Error("resolve generator failed", "error", err)
		observability.TurnsTotal.WithLabelValues(string(mode), "error").Inc()
		return TurnOutput{}, err
	}

	req := domain.GenerateRequest{
		Kind:              domain.CallTurn,
		SystemInstruction: instr.System,
		Messages:          chatMessages(visible),
		Temperature:       turnTemperature,
	}
	raw, err := retry.Do(ctx, o.retry, func(ctx context.Context) (string, error) {
		return gen.GenerateStructured(ctx, req, instr.Schema)
	})
	if errors.Is(err, domain.ErrEmptyResponse) {
		log.Warn("empty turn, serving placeholder", "provider", provider, "error", err)
		return o.degraded(mode, turnIndex), nil
	}
	if err != nil {
		log.Error("turn generation failed", "provider", provider, "error", err)
		observability.TurnsTotal.WithLabelValues(string(mode), "error").Inc()
		return TurnOutput{}, fmt.Errorf("generate turn %d: %w", turnIndex, err)
	}

	payload, err := parseTurn(raw)
	if err != nil {
		log.Warn("unparseable turn, serving placeholder", "provider", provider, "error", err, "response_bytes", len(raw))
		return o.degraded(mode, turnIndex), nil
	}

	finished := strings.Contains(raw, DoneMarker) || turnIndex >= intensity.TargetTurns()

	observability.TurnsTotal.WithLabelValues(string(mode), "ok").Inc()
	log.Info("turn generation end",
		"provider", provider,
		"finished", finished,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return TurnOutput{
		Content:     payload.display(),
		Suggestions: payload.suggestions(),
		Finished:    finished,
		TurnIndex:   turnIndex,
	}, nil
}

// hasExchange reports whether there is an assistant turn followed by a user
// reply.
func hasExchange(visible []*domain.Message) bool {
	seenAssistant := false
	for _, m := range visible {
		switch m.Role {
		case domain.RoleAssistant:
			seenAssistant = true
		case domain.RoleUser:
			if seenAssistant {
				return true
			}
		}
	}
	return false
}

func chatMessages(msgs []*domain.Message) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// lockedRand serialises access to a *rand.Rand shared across sessions.
type lockedRand struct {
	mu sync.Mutex
	r  content.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// degraded is the busy placeholder served in place of unusable output.
func (o *Orchestrator) degraded(mode domain.Mode, turnIndex int) TurnOutput {
	observability.TurnsTotal.WithLabelValues(string(mode), "degraded").Inc()
	return TurnOutput{
		Content:     o.catalog.Prompts.Busy,
		Suggestions: []string{},
		Degraded:    true,
		TurnIndex:   turnIndex,
	}
}
