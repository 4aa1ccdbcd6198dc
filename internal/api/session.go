package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/akai-desk/internal/backend"
	"github.com/ashureev/akai-desk/internal/config"
	"github.com/ashureev/akai-desk/internal/dispatch"
	"github.com/ashureev/akai-desk/internal/domain"
	"github.com/ashureev/akai-desk/internal/session"
	"github.com/ashureev/akai-desk/internal/store"
	"github.com/ashureev/akai-desk/internal/transport"
)

// SessionHandler owns the lifecycle of the active session engine. At
// most one session is live at a time.
type SessionHandler struct {
	cfg     *config.Config
	backend *backend.Client
	archive store.Archive

	// newEngine builds an engine for a session. Overridable in tests.
	newEngine func(sess *domain.Session) *session.Engine

	mu     sync.Mutex
	engine *session.Engine
}

// NewSessionHandler creates the control-surface handler.
func NewSessionHandler(cfg *config.Config, client *backend.Client, archive store.Archive) *SessionHandler {
	h := &SessionHandler{
		cfg:     cfg,
		backend: client,
		archive: archive,
	}
	h.newEngine = func(sess *domain.Session) *session.Engine {
		return session.New(h.engineOptions(sess))
	}
	return h
}

// engineOptions builds the engine configuration for a session,
// overlaying the configured keepalive on the fixed production delays.
func (h *SessionHandler) engineOptions(sess *domain.Session) session.Options {
	timing := session.DefaultTiming()
	timing.KeepaliveInterval = h.cfg.KeepaliveInterval
	return session.Options{
		Session:    sess,
		ChannelURL: h.cfg.WebSocketURL(sess.ID),
		Backend:    h.backend,
		Archive:    h.archive,
		Timing:     timing,
	}
}

// RegisterRoutes registers the control-surface routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Get("/history", h.GetHistory)

		r.Post("/session", h.CreateSession)
		r.Post("/session/join", h.JoinSession)
		r.Delete("/session", h.EndSession)

		r.Post("/chat", h.Chat)
		r.Post("/voice/transcribe", h.Transcribe)
		r.Post("/voice/synthesize", h.Synthesize)

		r.Post("/plan/{planID}/start", h.StartPlan)
		r.Post("/plan/{planID}/steps/{stepID}/complete", h.CompleteStep)
		r.Post("/plan/{planID}/steps/{stepID}/skip", h.SkipStep)
		r.Post("/templates/{templateID}/instantiate", h.InstantiateTemplate)
		r.Post("/solutions/{solutionID}/feedback", h.SolutionFeedback)
	})
}

// current returns the active engine, or nil.
func (h *SessionHandler) current() *session.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// Shutdown tears down the active session, if any. Called on process
// exit.
func (h *SessionHandler) Shutdown() {
	h.mu.Lock()
	eng := h.engine
	h.engine = nil
	h.mu.Unlock()
	if eng != nil {
		eng.Teardown()
	}
}

// GetState returns the current render view. Always 200; Active is
// false when no session is live.
func (h *SessionHandler) GetState(w http.ResponseWriter, _ *http.Request) {
	eng := h.current()
	if eng == nil {
		JSON(w, http.StatusOK, stateResponse{Active: false})
		return
	}
	JSON(w, http.StatusOK, stateResponse{Active: true, View: eng.View()})
}

// GetHistory returns a session's transcript. With ?session_id it reads
// the local archive, so past sessions stay reachable; without it the
// active session's full transcript is returned, hidden bubbles included.
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		if h.archive == nil {
			Error(w, http.StatusNotFound, "archive disabled")
			return
		}
		turns, err := h.archive.ListTurns(r.Context(), sessionID)
		if err != nil {
			slog.Error("Failed to read archived turns", "session_id", sessionID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to read archive")
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"turns": turns})
		return
	}

	eng := h.current()
	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"turns": eng.History()})
}

// CreateSession asks the server for a fresh session and opens its
// channel.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	h.startSession(w, r, func(ctx context.Context) (*domain.Session, error) {
		return h.backend.CreateSession(ctx)
	})
}

// JoinSession joins an existing session by its short code.
func (h *SessionHandler) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		Error(w, http.StatusBadRequest, "code is required")
		return
	}
	h.startSession(w, r, func(ctx context.Context) (*domain.Session, error) {
		return h.backend.JoinSession(ctx, req.Code)
	})
}

func (h *SessionHandler) startSession(w http.ResponseWriter, r *http.Request, obtain func(ctx context.Context) (*domain.Session, error)) {
	h.mu.Lock()
	if h.engine != nil {
		h.mu.Unlock()
		Error(w, http.StatusConflict, "session already active")
		return
	}
	h.mu.Unlock()

	sess, err := obtain(r.Context())
	if err != nil {
		writeBackendError(w, err)
		return
	}

	eng := h.newEngine(sess)

	h.mu.Lock()
	if h.engine != nil {
		// Lost the race to a concurrent start.
		h.mu.Unlock()
		eng.Teardown()
		Error(w, http.StatusConflict, "session already active")
		return
	}
	h.engine = eng
	h.mu.Unlock()

	eng.Start()
	slog.Info("Session started", "session_id", sess.ID, "code", sess.ShortCode)

	if h.archive != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.archive.SaveSession(ctx, sess); err != nil {
				slog.Warn("Failed to archive session", "session_id", sess.ID, "error", err)
			}
		}()
	}

	JSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"code":       sess.ShortCode,
		"created_at": sess.CreatedAt,
	})
}

// EndSession tears down the active session.
func (h *SessionHandler) EndSession(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	eng := h.engine
	h.engine = nil
	h.mu.Unlock()

	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	eng.Teardown()
	JSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// Chat submits one user turn. Delivery status shows up in /api/state
// once the round trip finishes.
func (h *SessionHandler) Chat(w http.ResponseWriter, r *http.Request) {
	eng := h.current()
	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}

	var req struct {
		Message    string `json:"message"`
		Screenshot string `json:"screenshot,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var screenshot []byte
	if req.Screenshot != "" {
		data, err := base64.StdEncoding.DecodeString(req.Screenshot)
		if err != nil {
			Error(w, http.StatusBadRequest, "screenshot must be base64")
			return
		}
		screenshot = data
	}

	if err := eng.SendMessage(req.Message, screenshot); err != nil {
		switch {
		case errors.Is(err, session.ErrEmptyMessage):
			Error(w, http.StatusBadRequest, "message is empty")
		case errors.Is(err, session.ErrTornDown):
			Error(w, http.StatusConflict, "session ended")
		default:
			Error(w, http.StatusInternalServerError, "failed to submit message")
		}
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Transcribe uploads recorded audio and returns the recognized text.
func (h *SessionHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	eng := h.current()
	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "failed to read audio")
		return
	}

	text, err := h.backend.Transcribe(r.Context(), eng.Session().ID, audio, header.Filename)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"text": text})
}

// Synthesize converts text to speech via the server.
func (h *SessionHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	audio, format, err := h.backend.Synthesize(r.Context(), req.Text)
	if err != nil {
		writeBackendError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"audio": audio, "format": format})
}

// StartPlan issues a start command for the given plan.
func (h *SessionHandler) StartPlan(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(eng *session.Engine) error {
		return eng.StartPlan(chi.URLParam(r, "planID"))
	})
}

// CompleteStep marks the given step done on the server's side.
func (h *SessionHandler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(eng *session.Engine) error {
		return eng.CompleteStep(chi.URLParam(r, "planID"), chi.URLParam(r, "stepID"))
	})
}

// SkipStep skips the given step.
func (h *SessionHandler) SkipStep(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(eng *session.Engine) error {
		return eng.SkipStep(chi.URLParam(r, "planID"), chi.URLParam(r, "stepID"))
	})
}

// InstantiateTemplate asks the server to build a plan from a detected
// template.
func (h *SessionHandler) InstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	h.command(w, func(eng *session.Engine) error {
		return eng.InstantiateTemplate(chi.URLParam(r, "templateID"))
	})
}

// command runs one outbound task command against the active engine and
// maps its result. A command dropped because the channel is down is
// reported, not retried.
func (h *SessionHandler) command(w http.ResponseWriter, run func(eng *session.Engine) error) {
	eng := h.current()
	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}
	if err := run(eng); err != nil {
		switch {
		case errors.Is(err, dispatch.ErrMissingID):
			Error(w, http.StatusBadRequest, "missing identifier")
		case errors.Is(err, transport.ErrNotConnected):
			Error(w, http.StatusServiceUnavailable, "channel not connected")
		default:
			Error(w, http.StatusInternalServerError, "failed to send command")
		}
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// SolutionFeedback records whether a suggested solution worked. Always
// accepted: delivery is fire-and-forget.
func (h *SessionHandler) SolutionFeedback(w http.ResponseWriter, r *http.Request) {
	eng := h.current()
	if eng == nil {
		Error(w, http.StatusNotFound, "no active session")
		return
	}

	var req struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := eng.SubmitFeedback(chi.URLParam(r, "solutionID"), req.Success); err != nil {
		Error(w, http.StatusConflict, "session ended")
		return
	}
	JSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

// writeBackendError maps a server error onto the control surface.
func writeBackendError(w http.ResponseWriter, err error) {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		Error(w, apiErr.Status, apiErr.Detail)
		return
	}
	slog.Error("Backend request failed", "error", err)
	Error(w, http.StatusBadGateway, "assistance server unreachable")
}
