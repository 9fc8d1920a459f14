package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PabloGalante/compass-agent/internal/app/conversation"
	journalapp "github.com/PabloGalante/compass-agent/internal/app/journal"
	"github.com/PabloGalante/compass-agent/internal/bilingual"
	"github.com/PabloGalante/compass-agent/internal/content"
	"github.com/PabloGalante/compass-agent/internal/domain"
	"github.com/PabloGalante/compass-agent/internal/observability"
	"github.com/PabloGalante/compass-agent/internal/retry"
)

const (
	// HeaderProvider and HeaderAPIKey carry the caller's generator settings.
	HeaderProvider = "X-Compass-Provider"
	HeaderAPIKey   = "X-Compass-Api-Key"

	maxBodyBytes = 64 << 10
)

type Server struct {
	conv    *conversation.Service
	journal *journalapp.Service
	catalog *content.Catalog
}

func NewServer(conv *conversation.Service, journal *journalapp.Service, catalog *content.Catalog) http.Handler {
	s := &Server{conv: conv, journal: journal, catalog: catalog}
	mux := http.NewServeMux()

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, withMetrics(pattern, withSessionID(h)))
	}

	handle("GET /healthz", s.handleHealthz)
	handle("GET /modes", s.handleModes)

	handle("POST /journeys", s.handleStartJourney)
	handle("GET /journeys/{id}", s.handleGetJourney)
	handle("DELETE /journeys/{id}", s.handleResetJourney)
	handle("POST /journeys/{id}/turns", s.handleSendTurn)
	handle("POST /journeys/{id}/retry", s.handleRetryTurn)
	handle("POST /journeys/{id}/report", s.handleFinalize)

	handle("GET /users/{id}/journeys", s.handleListJourneys)
	handle("GET /users/{id}/reports", s.handleListReports)

	mux.Handle("GET /metrics", promhttp.Handler())

	return chainMiddlewares(mux, withLogging, withRequestID, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type startJourneyRequest struct {
	UserID    string `json:"user_id"`
	Mode      string `json:"mode"`
	Intensity string `json:"intensity,omitempty"`
}

type sendTurnRequest struct {
	Text string `json:"text"`
}

// textResponse exposes a bilingual string both encoded and split.
type textResponse struct {
	Text string `json:"text"`
	Zh   string `json:"zh"`
	En   string `json:"en"`
}

type sessionResponse struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Mode           string          `json:"mode"`
	Intensity      string          `json:"intensity"`
	State          string          `json:"state"`
	TurnCount      int             `json:"turn_count"`
	TargetTurns    int             `json:"target_turns"`
	FinishEligible bool            `json:"finish_eligible"`
	PendingReply   bool            `json:"pending_reply"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Result         *resultResponse `json:"result,omitempty"`
}

type messageResponse struct {
	ID          string         `json:"id"`
	Seq         int            `json:"seq"`
	Role        string         `json:"role"`
	Content     textResponse   `json:"content"`
	Suggestions []textResponse `json:"suggestions,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type dimensionResponse struct {
	Label textResponse `json:"label"`
	Value int          `json:"value"`
}

type resultResponse struct {
	Title              textResponse        `json:"title"`
	Summary            textResponse        `json:"summary"`
	PhilosophicalTrend *textResponse       `json:"philosophical_trend,omitempty"`
	KeyInsights        []textResponse      `json:"key_insights"`
	SuggestedPaths     []textResponse      `json:"suggested_paths"`
	Motto              textResponse        `json:"motto"`
	Dimensions         []dimensionResponse `json:"dimensions"`
}

type startJourneyResponse struct {
	Session sessionResponse `json:"session"`
	Opening messageResponse `json:"opening"`
}

type turnResponse struct {
	Session  sessionResponse `json:"session"`
	Reply    messageResponse `json:"reply"`
	Degraded bool            `json:"degraded"`
}

type getJourneyResponse struct {
	Session  sessionResponse   `json:"session"`
	Messages []messageResponse `json:"messages"`
}

type reportResponse struct {
	Session sessionResponse `json:"session"`
	Result  resultResponse  `json:"result"`
}

type journalEntryResponse struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Mode      string         `json:"mode"`
	Intensity string         `json:"intensity"`
	Turns     int            `json:"turns"`
	CreatedAt time.Time      `json:"created_at"`
	Result    resultResponse `json:"result"`
}

type modeResponse struct {
	Mode       string         `json:"mode"`
	Persona    textResponse   `json:"persona"`
	Trends     []textResponse `json:"trends"`
	Dimensions []textResponse `json:"dimensions"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	out := make([]modeResponse, 0, len(domain.Modes))
	for _, m := range domain.Modes {
		mc, err := s.catalog.Mode(m)
		if err != nil {
			continue
		}
		out = append(out, modeResponse{
			Mode:       string(m),
			Persona:    toText(mc.Persona),
			Trends:     toTexts(mc.Trends),
			Dimensions: toTexts(mc.Dimensions),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartJourney(w http.ResponseWriter, r *http.Request) {
	var req startJourneyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.UserID == "" {
		badRequest(w, "user_id is required")
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	intensity := domain.IntensityQuick
	if req.Intensity != "" {
		if intensity, err = domain.ParseIntensity(req.Intensity); err != nil {
			writeError(w, r, err)
			return
		}
	}

	out, err := s.conv.StartJourney(r.Context(), conversation.StartJourneyInput{
		UserID:    domain.UserID(req.UserID),
		Mode:      mode,
		Intensity: intensity,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, startJourneyResponse{
		Session: toSessionResponse(out.Session),
		Opening: toMessageResponse(out.Opening),
	})
}

func (s *Server) handleGetJourney(w http.ResponseWriter, r *http.Request) {
	session, msgs, err := s.conv.GetJourney(r.Context(), pathSessionID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, getJourneyResponse{
		Session:  toSessionResponse(session),
		Messages: toMessagesResponse(msgs),
	})
}

func (s *Server) handleResetJourney(w http.ResponseWriter, r *http.Request) {
	if err := s.conv.Reset(r.Context(), pathSessionID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSendTurn(w http.ResponseWriter, r *http.Request) {
	var req sendTurnRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := s.conv.SendTurn(r.Context(), conversation.SendTurnInput{
		SessionID: pathSessionID(r),
		Text:      req.Text,
		Settings:  settingsFrom(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnResponse(out))
}

func (s *Server) handleRetryTurn(w http.ResponseWriter, r *http.Request) {
	out, err := s.conv.RetryTurn(r.Context(), conversation.RetryTurnInput{
		SessionID: pathSessionID(r),
		Settings:  settingsFrom(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnResponse(out))
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	out, err := s.conv.Finalize(r.Context(), conversation.FinalizeInput{
		SessionID: pathSessionID(r),
		Settings:  settingsFrom(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, reportResponse{
		Session: toSessionResponse(out.Session),
		Result:  toResultResponse(out.Result),
	})
}

func (s *Server) handleListJourneys(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.conv.ListJourneys(r.Context(), domain.UserID(r.PathValue("id")), queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	entries, err := s.journal.GetUserReports(r.Context(), domain.UserID(r.PathValue("id")), queryLimit(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]journalEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, journalEntryResponse{
			ID:        string(e.ID),
			SessionID: string(e.SessionID),
			Mode:      string(e.Mode),
			Intensity: string(e.Intensity),
			Turns:     e.Turns,
			CreatedAt: e.CreatedAt,
			Result:    toResultResponse(&e.Result),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func pathSessionID(r *http.Request) domain.SessionID {
	return domain.SessionID(r.PathValue("id"))
}

// settingsFrom reads the per-call generator settings. Empty values fall back
// to the process defaults inside the resolver.
func settingsFrom(r *http.Request) domain.Settings {
	return domain.Settings{
		Provider: domain.Provider(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderProvider)))),
		APIKey:   strings.TrimSpace(r.Header.Get(HeaderAPIKey)),
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func toText(s string) textResponse {
	zh, en := bilingual.Split(s)
	return textResponse{Text: s, Zh: zh, En: en}
}

func toTexts(in []string) []textResponse {
	out := make([]textResponse, 0, len(in))
	for _, s := range in {
		out = append(out, toText(s))
	}
	return out
}

func toSessionResponse(s *domain.Session) sessionResponse {
	resp := sessionResponse{
		ID:             string(s.ID),
		UserID:         string(s.UserID),
		Mode:           string(s.Mode),
		Intensity:      string(s.Intensity),
		State:          string(s.State),
		TurnCount:      s.TurnCount,
		TargetTurns:    s.Intensity.TargetTurns(),
		FinishEligible: s.FinishEligible,
		PendingReply:   s.PendingReply,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.Result != nil {
		res := toResultResponse(s.Result)
		resp.Result = &res
	}
	return resp
}

func toMessageResponse(m *domain.Message) messageResponse {
	resp := messageResponse{
		ID:        string(m.ID),
		Seq:       m.Seq,
		Role:      string(m.Role),
		Content:   toText(m.Content),
		CreatedAt: m.CreatedAt,
	}
	if len(m.Suggestions) > 0 {
		resp.Suggestions = toTexts(m.Suggestions)
	}
	return resp
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

func toTurnResponse(out *conversation.TurnOutput) turnResponse {
	return turnResponse{
		Session:  toSessionResponse(out.Session),
		Reply:    toMessageResponse(out.Reply),
		Degraded: out.Degraded,
	}
}

func toResultResponse(res *domain.DiscoveryResult) resultResponse {
	resp := resultResponse{
		Title:          toText(res.Title),
		Summary:        toText(res.Summary),
		KeyInsights:    toTexts(res.KeyInsights),
		SuggestedPaths: toTexts(res.SuggestedPaths),
		Motto:          toText(res.Motto),
		Dimensions:     make([]dimensionResponse, 0, len(res.Dimensions)),
	}
	if res.PhilosophicalTrend != "" {
		t := toText(res.PhilosophicalTrend)
		resp.PhilosophicalTrend = &t
	}
	for _, d := range res.Dimensions {
		resp.Dimensions = append(resp.Dimensions, dimensionResponse{Label: toText(d.Label), Value: d.Value})
	}
	return resp
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: "bad_request"})
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()

	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}

	switch code {
	case "internal":
		msg = "internal server error"
	case "provider_busy":
		msg = "connection interrupted, please retry"
		w.Header().Set("Retry-After", "5")
	case "provider_error":
		msg = "generator request failed"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func classify(err error) (int, string) {
	var perr *domain.ProviderError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidMode),
		errors.Is(err, domain.ErrInvalidIntensity),
		errors.Is(err, domain.ErrUnknownProvider),
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrEmptyHistory):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrSessionExists),
		errors.Is(err, domain.ErrSessionFinished),
		errors.Is(err, domain.ErrTurnPending),
		errors.Is(err, domain.ErrNoPendingTurn):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrNotFinishEligible),
		errors.Is(err, domain.ErrMissingCredential):
		return http.StatusUnprocessableEntity, "unprocessable"
	case errors.Is(err, domain.ErrMalformedReport):
		return http.StatusBadGateway, "malformed_report"
	case retry.IsRateLimited(err):
		return http.StatusServiceUnavailable, "provider_busy"
	case errors.As(err, &perr) && perr.Unauthorized():
		return http.StatusUnprocessableEntity, "provider_unauthorized"
	case errors.As(err, &perr):
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, "internal"
}
