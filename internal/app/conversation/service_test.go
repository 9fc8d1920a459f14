package conversation_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/compass-agent/internal/app/agentflow"
	"github.com/PabloGalante/compass-agent/internal/app/conversation"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

const turnJSON = `{
  "analysis_zh": "你选择了尊严。", "analysis_en": "You chose dignity.",
  "scenario_zh": "现在代价是孤独。", "scenario_en": "Now the price is solitude.",
  "question_zh": "你还坚持吗？", "question_en": "Do you hold on?",
  "suggestions_zh": ["坚持", "放弃"], "suggestions_en": ["Hold on", "Let go"]
}`

const doneTurnJSON = `{
  "analysis_zh": "够了。", "analysis_en": "Enough.",
  "scenario_zh": "门开了。", "scenario_en": "The door opens.",
  "question_zh": "准备好了吗？", "question_en": "Ready? [DONE]",
  "suggestions_zh": ["是"], "suggestions_en": ["Yes"]
}`

const reportJSON = `{
  "title": "守夜人 [SEP] The Watchman",
  "summary": "斯多葛。 [SEP] Stoic.",
  "philosophicalTrend": "Stoicism",
  "keyInsights": ["a [SEP] a"],
  "suggestedPaths": ["b [SEP] b"],
  "motto": "c [SEP] c",
  "dimensions": [{"label": "意志自由度 [SEP] Freedom of Will", "value": 0.4}]
}`

var rateLimited = &domain.ProviderError{
	Provider:   domain.ProviderGemini,
	StatusCode: http.StatusTooManyRequests,
	Err:        errors.New("quota"),
}

// stubGenerator answers with respond; when gate is set each call signals
// entered and waits for gate to close.
type stubGenerator struct {
	mu      sync.Mutex
	respond func(call int) (string, error)
	calls   int

	entered chan struct{}
	gate    chan struct{}
}

func (g *stubGenerator) set(respond func(call int) (string, error)) {
	g.mu.Lock()
	g.respond = respond
	g.mu.Unlock()
}

func (g *stubGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *stubGenerator) GenerateText(ctx context.Context, req domain.GenerateRequest) (string, error) {
	return g.GenerateStructured(ctx, req, nil)
}

func (g *stubGenerator) GenerateStructured(context.Context, domain.GenerateRequest, *domain.Schema) (string, error) {
	if g.gate != nil {
		g.entered <- struct{}{}
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.respond(g.calls)
}

func always(text string, err error) func(int) (string, error) {
	return func(int) (string, error) { return text, err }
}

type stubResolver struct{ gen domain.Generator }

func (r stubResolver) Resolve(context.Context, domain.Settings) (domain.Generator, domain.Provider, error) {
	return r.gen, domain.ProviderMock, nil
}

type fixture struct {
	svc      *conversation.Service
	gen      *stubGenerator
	sessions *memory.SessionStore
	journal  *memory.JournalStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog, err := content.Default()
	require.NoError(t, err)

	policy := retry.Default()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	gen := &stubGenerator{respond: always(turnJSON, nil)}
	resolver := stubResolver{gen: gen}
	sessions := memory.NewSessionStore()
	journal := memory.NewJournalStore()

	svc := conversation.NewService(
		agentflow.NewOrchestrator(catalog, resolver, agentflow.WithRetryPolicy(policy)),
		agentflow.NewAnalyst(catalog, resolver, policy),
		sessions,
		memory.NewMessageStore(),
		journal,
	)
	return &fixture{svc: svc, gen: gen, sessions: sessions, journal: journal}
}

func (f *fixture) start(t *testing.T) *domain.Session {
	t.Helper()
	out, err := f.svc.StartJourney(context.Background(), conversation.StartJourneyInput{
		UserID:    "u-1",
		Mode:      domain.ModeLifeMeaning,
		Intensity: domain.IntensityQuick,
	})
	require.NoError(t, err)
	return out.Session
}

func (f *fixture) send(t *testing.T, id domain.SessionID, text string) *conversation.TurnOutput {
	t.Helper()
	out, err := f.svc.SendTurn(context.Background(), conversation.SendTurnInput{SessionID: id, Text: text})
	require.NoError(t, err)
	return out
}

func TestStartJourney(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.StartJourney(ctx, conversation.StartJourneyInput{
		UserID:    "u-1",
		Mode:      domain.ModeJustice,
		Intensity: domain.IntensityDeep,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, out.Session.TurnCount)
	assert.Equal(t, domain.StateAwaitingUser, out.Session.State)
	assert.False(t, out.Session.FinishEligible)
	assert.Equal(t, domain.RoleAssistant, out.Opening.Role)
	assert.NotEmpty(t, out.Opening.Suggestions)
	assert.Zero(t, f.gen.Calls(), "the opening never calls the generator")

	sess, msgs, err := f.svc.GetJourney(ctx, out.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Session.ID, sess.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, out.Opening.Content, msgs[0].Content)
}

func TestStartJourneyRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.StartJourney(ctx, conversation.StartJourneyInput{UserID: "u", Mode: "NOPE", Intensity: domain.IntensityQuick})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	_, err = f.svc.StartJourney(ctx, conversation.StartJourneyInput{UserID: "u", Mode: domain.ModeJustice, Intensity: "HARD"})
	assert.ErrorIs(t, err, domain.ErrInvalidIntensity)
}

func TestSendTurnAdvancesSession(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)

	out := f.send(t, sess.ID, "I would stay")
	assert.False(t, out.Degraded)
	assert.Equal(t, 2, out.Session.TurnCount)
	assert.False(t, out.Session.PendingReply)
	assert.Equal(t, domain.StateAwaitingUser, out.Session.State)
	assert.Contains(t, out.Reply.Content, "Do you hold on?")
	assert.Len(t, out.Reply.Suggestions, 2)

	_, msgs, err := f.svc.GetJourney(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, "I would stay", msgs[1].Content)
	assert.Equal(t, out.Reply.ID, msgs[2].ID)
}

func TestSendTurnRejectsEmptyText(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)

	_, err := f.svc.SendTurn(context.Background(), conversation.SendTurnInput{SessionID: sess.ID, Text: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
}

func TestTurnCountReachesTargetAndStaysEligible(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)

	last := 1
	for i := 0; i < 9; i++ {
		out := f.send(t, sess.ID, "answer")
		assert.Equal(t, last+1, out.Session.TurnCount, "turn count increments by one")
		last = out.Session.TurnCount
		if out.Session.TurnCount >= domain.IntensityQuick.TargetTurns() {
			assert.True(t, out.Session.FinishEligible)
		}
	}

	// a failing call does not revoke eligibility
	f.gen.set(always("", errors.New("boom")))
	_, err := f.svc.SendTurn(context.Background(), conversation.SendTurnInput{SessionID: sess.ID, Text: "x"})
	require.Error(t, err)

	got, err := f.sessions.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, got.FinishEligible)
}

func TestDoneMarkerMakesSessionEligibleEarly(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)

	f.gen.set(always(doneTurnJSON, nil))
	out := f.send(t, sess.ID, "ok")

	assert.True(t, out.Session.FinishEligible)
	assert.NotContains(t, out.Reply.Content, agentflow.DoneMarker)
}

func TestDegradedTurnDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	f.gen.set(always("this is not json", nil))
	out := f.send(t, sess.ID, "hello")

	assert.True(t, out.Degraded)
	assert.Equal(t, 1, out.Session.TurnCount)
	assert.Empty(t, out.Reply.Suggestions)
	assert.True(t, out.Session.PendingReply)

	_, msgs, err := f.svc.GetJourney(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "placeholder is not stored")
	assert.Equal(t, "hello", msgs[1].Content)

	_, err = f.svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: sess.ID, Text: "again"})
	assert.ErrorIs(t, err, domain.ErrTurnPending)

	f.gen.set(always(turnJSON, nil))
	retried, err := f.svc.RetryTurn(ctx, conversation.RetryTurnInput{SessionID: sess.ID})
	require.NoError(t, err)
	assert.False(t, retried.Degraded)
	assert.Equal(t, 2, retried.Session.TurnCount)
}

func TestRateLimitExhaustionKeepsReplyForRetry(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	f.gen.set(always("", rateLimited))
	_, err := f.svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: sess.ID, Text: "my answer"})
	require.Error(t, err)
	assert.True(t, retry.IsRateLimited(err))
	assert.Equal(t, retry.DefaultMaxAttempts, f.gen.Calls())

	got, err := f.sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingUser, got.State)
	assert.True(t, got.PendingReply)
	assert.Equal(t, 1, got.TurnCount)

	_, msgs, err := f.svc.GetJourney(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "my answer", msgs[len(msgs)-1].Content)

	// two more rate limits, then success, within one retry
	f.gen.set(func(call int) (string, error) {
		if call <= retry.DefaultMaxAttempts+2 {
			return "", rateLimited
		}
		return turnJSON, nil
	})
	out, err := f.svc.RetryTurn(ctx, conversation.RetryTurnInput{SessionID: sess.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Session.TurnCount)
	assert.False(t, out.Session.PendingReply)
}

func TestRetryWithoutPendingReply(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)

	_, err := f.svc.RetryTurn(context.Background(), conversation.RetryTurnInput{SessionID: sess.ID})
	assert.ErrorIs(t, err, domain.ErrNoPendingTurn)
}

func TestFinalize(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, conversation.FinalizeInput{SessionID: sess.ID})
	assert.ErrorIs(t, err, domain.ErrNotFinishEligible)

	f.gen.set(always(doneTurnJSON, nil))
	f.send(t, sess.ID, "ready")

	f.gen.set(always(reportJSON, nil))
	out, err := f.svc.Finalize(ctx, conversation.FinalizeInput{SessionID: sess.ID})
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, out.Session.State)
	assert.Equal(t, "斯多葛主义 [SEP] Stoicism", out.Result.PhilosophicalTrend)
	assert.Equal(t, 40, out.Result.Dimensions[0].Value)

	entries, err := f.journal.ListJournalEntriesByUser(ctx, "u-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sess.ID, entries[0].SessionID)

	_, err = f.svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: sess.ID, Text: "more"})
	assert.ErrorIs(t, err, domain.ErrSessionFinished)
	_, err = f.svc.Finalize(ctx, conversation.FinalizeInput{SessionID: sess.ID})
	assert.ErrorIs(t, err, domain.ErrSessionFinished)
}

func TestFinalizeFailureRevertsState(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	f.gen.set(always(doneTurnJSON, nil))
	f.send(t, sess.ID, "ready")

	f.gen.set(always(`{"title": ""}`, nil))
	_, err := f.svc.Finalize(ctx, conversation.FinalizeInput{SessionID: sess.ID})
	require.ErrorIs(t, err, domain.ErrMalformedReport)

	got, err := f.sessions.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingUser, got.State)
	assert.True(t, got.FinishEligible)
	assert.Nil(t, got.Result)

	// the same action can be retried
	f.gen.set(always(reportJSON, nil))
	_, err = f.svc.Finalize(ctx, conversation.FinalizeInput{SessionID: sess.ID})
	require.NoError(t, err)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Reset(ctx, sess.ID))

	_, _, err := f.svc.GetJourney(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.svc.Reset(ctx, sess.ID), domain.ErrSessionNotFound)
}

func TestConcurrentCallIsRejected(t *testing.T) {
	f := newFixture(t)
	sess := f.start(t)
	ctx := context.Background()

	f.gen.entered = make(chan struct{})
	f.gen.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: sess.ID, Text: "first"})
		done <- err
	}()
	<-f.gen.entered

	_, err := f.svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: sess.ID, Text: "second"})
	assert.ErrorIs(t, err, domain.ErrSessionBusy)
	assert.ErrorIs(t, f.svc.Reset(ctx, sess.ID), domain.ErrSessionBusy)

	close(f.gen.gate)
	require.NoError(t, <-done)
}

func TestListJourneys(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.start(t)

	list, err := f.svc.ListJourneys(context.Background(), "u-1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

// failingMessages fails AppendMessage for messages matching fail.
type failingMessages struct {
	*memory.MessageStore
	fail func(*domain.Message) bool
}

var errWrite = errors.New("write failed")

func (m *failingMessages) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if m.fail != nil && m.fail(msg) {
		return errWrite
	}
	return m.MessageStore.AppendMessage(ctx, msg)
}

func newServiceWithMessages(t *testing.T, sessions domain.SessionStore, messages domain.MessageStore) *conversation.Service {
	t.Helper()
	catalog, err := content.Default()
	require.NoError(t, err)

	policy := retry.Default()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	resolver := stubResolver{gen: &stubGenerator{respond: always(turnJSON, nil)}}

	return conversation.NewService(
		agentflow.NewOrchestrator(catalog, resolver, agentflow.WithRetryPolicy(policy)),
		agentflow.NewAnalyst(catalog, resolver, policy),
		sessions,
		messages,
		memory.NewJournalStore(),
	)
}

func TestStartJourneyDiscardsSessionWhenOpeningIsNotStored(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionStore()
	messages := &failingMessages{
		MessageStore: memory.NewMessageStore(),
		fail:         func(m *domain.Message) bool { return m.Role == domain.RoleAssistant },
	}
	svc := newServiceWithMessages(t, sessions, messages)

	_, err := svc.StartJourney(ctx, conversation.StartJourneyInput{
		UserID:    "u-1",
		Mode:      domain.ModeJustice,
		Intensity: domain.IntensityQuick,
	})
	require.ErrorIs(t, err, errWrite)

	list, err := sessions.ListSessionsByUser(ctx, "u-1", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendTurnRestoresSessionWhenMessageIsNotStored(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionStore()
	failUser := true
	messages := &failingMessages{
		MessageStore: memory.NewMessageStore(),
		fail:         func(m *domain.Message) bool { return failUser && m.Role == domain.RoleUser },
	}
	svc := newServiceWithMessages(t, sessions, messages)

	started, err := svc.StartJourney(ctx, conversation.StartJourneyInput{
		UserID:    "u-1",
		Mode:      domain.ModeJustice,
		Intensity: domain.IntensityQuick,
	})
	require.NoError(t, err)
	id := started.Session.ID

	_, err = svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: id, Text: "I would stay"})
	require.ErrorIs(t, err, errWrite)

	sess, msgs, err := svc.GetJourney(ctx, id)
	require.NoError(t, err)
	assert.False(t, sess.PendingReply)
	assert.Equal(t, domain.StateAwaitingUser, sess.State)
	assert.Len(t, msgs, 1)

	failUser = false
	out, err := svc.SendTurn(ctx, conversation.SendTurnInput{SessionID: id, Text: "I would stay"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Session.TurnCount)

	_, msgs, err = svc.GetJourney(ctx, id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
}
