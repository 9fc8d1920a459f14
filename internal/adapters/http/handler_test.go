package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/PabloGalante/compass-agent/internal/adapters/http"
	"github.com/PabloGalante/compass-agent/internal/adapters/llm"
	"github.com/PabloGalante/compass-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/compass-agent/internal/app/agentflow"
	"github.com/PabloGalante/compass-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/compass-agent/internal/app/journal"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	catalog, err := content.Default()
	require.NoError(t, err)

	resolver := llm.NewResolver(llm.ResolverConfig{DefaultProvider: domain.ProviderMock})
	journalStore := memory.NewJournalStore()

	convSvc := conversation.NewService(
		agentflow.NewOrchestrator(catalog, resolver),
		agentflow.NewAnalyst(catalog, resolver, retry.Default()),
		memory.NewSessionStore(),
		memory.NewMessageStore(),
		journalStore,
	)
	journalSvc := journalapp.NewService(journalStore)

	return httpadapter.NewServer(convSvc, journalSvc, catalog)
}

func do(t *testing.T, srv http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type text struct {
	Text string `json:"text"`
	Zh   string `json:"zh"`
	En   string `json:"en"`
}

type session struct {
	ID             string `json:"id"`
	State          string `json:"state"`
	TurnCount      int    `json:"turn_count"`
	TargetTurns    int    `json:"target_turns"`
	FinishEligible bool   `json:"finish_eligible"`
}

type message struct {
	Role        string `json:"role"`
	Content     text   `json:"content"`
	Suggestions []text `json:"suggestions"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func start(t *testing.T, srv http.Handler) (session, message) {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/journeys", map[string]string{
		"user_id": "u-1", "mode": "justice", "intensity": "quick",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[struct {
		Session session `json:"session"`
		Opening message `json:"opening"`
	}](t, w)
	return resp.Session, resp.Opening
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/healthz", nil, "X-Request-Id", "req-42")
	assert.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
}

func TestModes(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/modes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	modes := decode[[]struct {
		Mode   string `json:"mode"`
		Trends []text `json:"trends"`
	}](t, w)
	require.Len(t, modes, len(domain.Modes))
	assert.Equal(t, string(domain.ModeLifeMeaning), modes[0].Mode)
	assert.NotEmpty(t, modes[0].Trends)
}

func TestStartJourney(t *testing.T) {
	srv := newTestServer(t)
	sess, opening := start(t, srv)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, sess.TurnCount)
	assert.Equal(t, 8, sess.TargetTurns)
	assert.Equal(t, string(domain.StateAwaitingUser), sess.State)
	assert.Equal(t, "assistant", opening.Role)
	assert.NotEmpty(t, opening.Content.Zh)
	assert.NotEmpty(t, opening.Content.En)
	assert.NotEmpty(t, opening.Suggestions)
}

func TestStartJourneyValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing user", map[string]string{"mode": "JUSTICE"}},
		{"bad mode", map[string]string{"user_id": "u", "mode": "ASTROLOGY"}},
		{"bad intensity", map[string]string{"user_id": "u", "mode": "JUSTICE", "intensity": "EXTREME"}},
		{"not json", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, srv, http.MethodPost, "/journeys", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestJourneyToReport(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := start(t, srv)
	base := "/journeys/" + sess.ID

	// a report is refused until the session is eligible
	w := do(t, srv, http.MethodPost, base+"/report", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var last session
	for i := 0; i < 10 && !last.FinishEligible; i++ {
		w := do(t, srv, http.MethodPost, base+"/turns", map[string]string{"text": "I would pull the lever"},
			httpadapter.HeaderProvider, "mock")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		resp := decode[struct {
			Session  session `json:"session"`
			Reply    message `json:"reply"`
			Degraded bool    `json:"degraded"`
		}](t, w)
		require.False(t, resp.Degraded)
		assert.Equal(t, "assistant", resp.Reply.Role)
		assert.Greater(t, resp.Session.TurnCount, last.TurnCount)
		last = resp.Session
	}
	require.True(t, last.FinishEligible)
	assert.LessOrEqual(t, last.TurnCount, 8)

	w = do(t, srv, http.MethodPost, base+"/report", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[struct {
		Session session `json:"session"`
		Result  struct {
			Title      text `json:"title"`
			Dimensions []struct {
				Value int `json:"value"`
			} `json:"dimensions"`
		} `json:"result"`
	}](t, w)
	assert.Equal(t, string(domain.StateDone), report.Session.State)
	assert.NotEmpty(t, report.Result.Title.En)
	for _, d := range report.Result.Dimensions {
		assert.GreaterOrEqual(t, d.Value, 0)
		assert.LessOrEqual(t, d.Value, 100)
	}

	w = do(t, srv, http.MethodPost, base+"/turns", map[string]string{"text": "more"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodGet, "/users/u-1/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]json.RawMessage](t, w), 1)

	w = do(t, srv, http.MethodGet, "/users/u-1/journeys?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]session](t, w), 1)
}

func TestGetAndResetJourney(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := start(t, srv)
	base := "/journeys/" + sess.ID

	w := do(t, srv, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[struct {
		Messages []message `json:"messages"`
	}](t, w)
	// the START sentinel is never exposed
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "assistant", got.Messages[0].Role)

	w = do(t, srv, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[apiError](t, w).Code)
}

func TestTurnErrors(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := start(t, srv)

	w := do(t, srv, http.MethodPost, "/journeys/"+sess.ID+"/turns", map[string]string{"text": "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/journeys/"+sess.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, srv, http.MethodPost, "/journeys/"+sess.ID+"/turns", map[string]string{"text": "hi"},
		httpadapter.HeaderProvider, "oracle")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, http.MethodPost, "/journeys/missing/turns", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMissingCredential(t *testing.T) {
	srv := newTestServer(t)
	sess, _ := start(t, srv)

	w := do(t, srv, http.MethodPost, "/journeys/"+sess.ID+"/turns", map[string]string{"text": "hi"},
		httpadapter.HeaderProvider, "gemini")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// the reply stays pending and can be retried with a working provider
	w = do(t, srv, http.MethodPost, "/journeys/"+sess.ID+"/retry", nil, httpadapter.HeaderProvider, "mock")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, http.MethodOptions, "/journeys", nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), httpadapter.HeaderAPIKey)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	do(t, srv, http.MethodGet, "/healthz", nil)

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "compass_http_requests_total")
}
