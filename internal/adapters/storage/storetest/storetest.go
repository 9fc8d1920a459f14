// Package storetest holds the behaviour every storage backend must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/domain"
)

// Stores bundles one backend's implementations. Journal may be nil.
type Stores struct {
	Sessions domain.SessionStore
	Messages domain.MessageStore
	Journal  domain.JournalStore
}

var base = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// Run exercises a backend. newStores must return empty stores.
func Run(t *testing.T, newStores func(t *testing.T) Stores) {
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStores(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStores(t)) })
	t.Run("journal", func(t *testing.T) {
		st := newStores(t)
		if st.Journal == nil {
			t.Skip("backend has no journal store")
		}
		testJournal(t, st)
	})
}

func newSession(id domain.SessionID, user domain.UserID, created time.Time) *domain.Session {
	return &domain.Session{
		ID:        id,
		UserID:    user,
		Mode:      domain.ModeJustice,
		Intensity: domain.IntensityQuick,
		CreatedAt: created,
		UpdatedAt: created,
		State:     domain.StateAwaitingUser,
		TurnCount: 1,
	}
}

func testSessions(t *testing.T, st Stores) {
	ctx := context.Background()

	s1 := newSession("s-1", "u-1", base)
	require.NoError(t, st.Sessions.CreateSession(ctx, s1))
	assert.ErrorIs(t, st.Sessions.CreateSession(ctx, s1), domain.ErrSessionExists)

	got, err := st.Sessions.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, s1.UserID, got.UserID)
	assert.Equal(t, s1.Mode, got.Mode)
	assert.Equal(t, s1.Intensity, got.Intensity)
	assert.Equal(t, s1.State, got.State)
	assert.True(t, s1.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", s1.CreatedAt, got.CreatedAt)
	assert.Nil(t, got.Result)

	got.RecordTurn(true, base.Add(time.Minute))
	got.MessageCount = 5
	got.RecordResult(&domain.DiscoveryResult{
		Title:              "t [SEP] t",
		Summary:            "s [SEP] s",
		PhilosophicalTrend: "功利主义 [SEP] Utilitarianism",
		KeyInsights:        []string{"k"},
		SuggestedPaths:     []string{"p"},
		Motto:              "m",
		Dimensions:         []domain.Dimension{{Label: "d", Value: 73}},
	}, base.Add(2*time.Minute))
	require.NoError(t, st.Sessions.UpdateSession(ctx, got))

	again, err := st.Sessions.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, again.TurnCount)
	assert.Equal(t, 5, again.MessageCount)
	assert.True(t, again.FinishEligible)
	assert.Equal(t, domain.StateDone, again.State)
	require.NotNil(t, again.Result)
	assert.Equal(t, got.Result.PhilosophicalTrend, again.Result.PhilosophicalTrend)
	assert.Equal(t, []domain.Dimension{{Label: "d", Value: 73}}, again.Result.Dimensions)

	assert.ErrorIs(t, st.Sessions.UpdateSession(ctx, newSession("missing", "u-1", base)), domain.ErrSessionNotFound)

	require.NoError(t, st.Sessions.CreateSession(ctx, newSession("s-2", "u-1", base.Add(time.Hour))))
	require.NoError(t, st.Sessions.CreateSession(ctx, newSession("s-3", "u-1", base.Add(2*time.Hour))))
	require.NoError(t, st.Sessions.CreateSession(ctx, newSession("s-4", "u-2", base)))

	list, err := st.Sessions.ListSessionsByUser(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionID("s-3"), list[0].ID)
	assert.Equal(t, domain.SessionID("s-2"), list[1].ID)

	require.NoError(t, st.Sessions.DeleteSession(ctx, "s-1"))
	_, err = st.Sessions.GetSession(ctx, "s-1")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, st.Sessions.DeleteSession(ctx, "s-1"), domain.ErrSessionNotFound)
}

func testMessages(t *testing.T, st Stores) {
	ctx := context.Background()
	require.NoError(t, st.Sessions.CreateSession(ctx, newSession("s-1", "u-1", base)))
	require.NoError(t, st.Sessions.CreateSession(ctx, newSession("s-2", "u-1", base)))

	sentinel := domain.NewSentinelMessage("s-1", base)
	opening := &domain.Message{
		ID:          domain.NewMessageID(),
		SessionID:   "s-1",
		Seq:         1,
		Role:        domain.RoleAssistant,
		Content:     "问 [SEP] Q",
		CreatedAt:   base,
		Suggestions: []string{"是 [SEP] Yes", "否 [SEP] No"},
	}
	reply := &domain.Message{
		ID:        domain.NewMessageID(),
		SessionID: "s-1",
		Seq:       2,
		Role:      domain.RoleUser,
		Content:   "Yes",
		CreatedAt: base.Add(time.Second),
	}
	other := &domain.Message{ID: domain.NewMessageID(), SessionID: "s-2", Role: domain.RoleUser, Content: "x", CreatedAt: base}

	for _, m := range []*domain.Message{sentinel, opening, reply, other} {
		require.NoError(t, st.Messages.AppendMessage(ctx, m))
	}

	msgs, err := st.Messages.GetMessagesBySession(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].IsSentinel())
	assert.Equal(t, opening.ID, msgs[1].ID)
	assert.Equal(t, opening.Suggestions, msgs[1].Suggestions)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, reply.ID, msgs[2].ID)
	assert.Equal(t, "Yes", msgs[2].Content)

	require.NoError(t, st.Messages.DeleteMessagesBySession(ctx, "s-1"))
	msgs, err = st.Messages.GetMessagesBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = st.Messages.GetMessagesBySession(ctx, "s-2")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testJournal(t *testing.T, st Stores) {
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, st.Journal.AppendJournalEntry(ctx, &domain.JournalEntry{
			ID:        domain.JournalEntryID("j-" + string(rune('a'+i))),
			SessionID: domain.SessionID("s-" + string(rune('a'+i))),
			UserID:    "u-1",
			Mode:      domain.ModeScience,
			Intensity: domain.IntensityDeep,
			Turns:     15,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Result: domain.DiscoveryResult{
				Title:      "t",
				Summary:    "s",
				Dimensions: []domain.Dimension{{Label: "d", Value: 10 * i}},
			},
		}))
	}

	list, err := st.Journal.ListJournalEntriesByUser(ctx, "u-1", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.JournalEntryID("j-c"), list[0].ID)
	assert.Equal(t, domain.JournalEntryID("j-b"), list[1].ID)
	assert.Equal(t, 20, list[0].Result.Dimensions[0].Value)
	assert.Equal(t, domain.ModeScience, list[0].Mode)

	none, err := st.Journal.ListJournalEntriesByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
