package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/parley/internal/feedback"
	"github.com/MikeSquared-Agency/parley/internal/llm"
	"github.com/MikeSquared-Agency/parley/internal/store"
	"github.com/MikeSquared-Agency/parley/internal/tactics"
)

type analyzeRequest struct {
	Message   string            `json:"message"`
	History   []tactics.Message `json:"history"`
	SessionID string            `json:"session_id,omitempty"`
}

type executeRequest struct {
	tactics.ExecuteRequest
	SessionID string `json:"session_id,omitempty"`
}

type visionRequest struct {
	Image    string           `json:"image"`
	Hint     string           `json:"hint,omitempty"`
	Override tactics.Override `json:"intent_override,omitempty"`
}

type selectionRequest struct {
	SessionID string `json:"session_id"`
	Strategy  string `json:"strategy"`
	Style     string `json:"style"`
	Text      string `json:"text"`
}

type sessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	history, _, err := s.resolveHistory(r.Context(), req.SessionID, req.History)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	analysis, err := s.deps.Pipeline.Analyze(r.Context(), req.Message, history)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, analysis)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	history, sess, err := s.resolveHistory(r.Context(), req.SessionID, req.History)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.History = history

	result, err := s.deps.Pipeline.Execute(r.Context(), req.ExecuteRequest)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sess != nil {
		s.remember(r.Context(), sess.ID, tactics.RoleOther, req.Message)
	}
	JSON(w, http.StatusOK, result)
}

func (s *Server) visionAnalyze(w http.ResponseWriter, r *http.Request) {
	req, img, ok := s.decodeVision(w, r)
	if !ok {
		return
	}
	report, err := s.deps.Vision.AnalyzeScreenshot(r.Context(), img, req.Hint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, report)
}

func (s *Server) visionExecute(w http.ResponseWriter, r *http.Request) {
	req, img, ok := s.decodeVision(w, r)
	if !ok {
		return
	}
	result, err := s.deps.Vision.ExecuteScreenshot(r.Context(), img, req.Hint, req.Override)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

func (s *Server) decodeVision(w http.ResponseWriter, r *http.Request) (visionRequest, *llm.Image, bool) {
	var req visionRequest
	if s.deps.Vision == nil {
		JSON(w, http.StatusServiceUnavailable, errorBody{Error: "vision is not configured", Code: "vision_disabled"})
		return req, nil, false
	}
	if err := decode(w, r, maxImageBytes, &req); err != nil {
		s.writeError(w, r, err)
		return req, nil, false
	}
	img, err := llm.ParseImage(req.Image)
	if err != nil {
		s.writeError(w, r, err)
		return req, nil, false
	}
	return req, img, true
}

func (s *Server) selection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, r, fmt.Errorf("%w: text is required", llm.ErrInvariantViolation))
		return
	}
	if req.SessionID == "" {
		s.writeError(w, r, fmt.Errorf("%w: session_id is required", llm.ErrInvariantViolation))
		return
	}
	style := strings.ToUpper(strings.TrimSpace(req.Style))
	if style != "" && s.deps.Catalog != nil {
		if _, ok := s.deps.Catalog.Lookup(style); !ok {
			s.writeError(w, r, fmt.Errorf("%w: unknown style %q", llm.ErrInvariantViolation, req.Style))
			return
		}
	}
	sess, err := s.ownSession(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sel := &store.Selection{
		UserID:    userFrom(r.Context()),
		SessionID: sess.ID,
		Strategy:  strings.ToUpper(req.Strategy),
		Style:     style,
		Text:      req.Text,
	}
	if err := s.deps.Repo.AppendSelection(r.Context(), sel); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.remember(r.Context(), sess.ID, tactics.RoleAdvisor, req.Text)
	JSON(w, http.StatusCreated, map[string]any{"selection": sel})
}

func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	var req feedback.Request
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := s.deps.Feedback.Record(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{"feedback": f})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decode(w, r, maxBodyBytes, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := &store.Session{UserID: userFrom(r.Context()), Title: strings.TrimSpace(req.Title)}
	if err := s.deps.Repo.PutSession(r.Context(), sess); err != nil {
		s.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, sess)
}

func (s *Server) sessionMessages(w http.ResponseWriter, r *http.Request) {
	sess, err := s.ownSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := tactics.MaxHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be 1-200", llm.ErrInvariantViolation))
			return
		}
		limit = n
	}
	msgs, err := s.deps.Repo.RecentMessages(r.Context(), sess.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	JSON(w, http.StatusOK, map[string]any{"session": sess, "messages": msgs})
}

// resolveHistory loads the stored conversation when the caller names a
// session and sends no history of its own.
func (s *Server) resolveHistory(ctx context.Context, sessionID string, history []tactics.Message) ([]tactics.Message, *store.Session, error) {
	if sessionID == "" {
		return history, nil, nil
	}
	sess, err := s.ownSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if len(history) > 0 {
		return history, sess, nil
	}
	stored, err := s.deps.Repo.RecentMessages(ctx, sess.ID, tactics.MaxHistory)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]tactics.Message, 0, len(stored))
	for _, m := range stored {
		out = append(out, tactics.Message{Role: tactics.Role(m.Role), Content: m.Content})
	}
	return out, sess, nil
}

// ownSession hides other users' sessions behind ErrNotFound.
func (s *Server) ownSession(ctx context.Context, raw string) (*store.Session, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: bad session_id", llm.ErrInvariantViolation)
	}
	sess, err := s.deps.Repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userFrom(ctx) {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

func (s *Server) remember(ctx context.Context, sessionID uuid.UUID, role tactics.Role, content string) {
	err := s.deps.Repo.AppendMessage(ctx, &store.Message{SessionID: sessionID, Role: string(role), Content: content})
	if err != nil {
		s.logger.Warn("failed to persist message", "session_id", sessionID, "error", err)
	}
}
