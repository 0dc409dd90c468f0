// Package server exposes the HTTP API that microsite pages talk to: session
// lifecycle and event ingest, the chat widget endpoint, and profile content.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/agentfolio/agentfolio/internal/chat"
	"github.com/agentfolio/agentfolio/internal/profile"
	"github.com/agentfolio/agentfolio/pkg/analytics"
	"github.com/agentfolio/agentfolio/pkg/docstore"
)

const maxBodyBytes = 1 << 20

// Chat requests fan out to the completion backend, so they are rate limited
// across the server.
const (
	chatRequestsPerSecond = 1
	chatBurst             = 5
)

// Server is the microsite API server.
type Server struct {
	manager     *analytics.Manager
	profiles    *profile.Service
	completer   chat.Completer
	fallback    string
	chatLimiter *rate.Limiter

	httpServer *http.Server
}

// Config configures the API server.
type Config struct {
	Port     int
	Manager  *analytics.Manager
	Profiles *profile.Service
	// Completer answers chat messages the FAQ cannot. Optional.
	Completer chat.Completer
	// Fallback is the reply when neither FAQ nor completer can answer.
	Fallback string
}

// New creates the API server.
func New(cfg Config) *Server {
	s := &Server{
		manager:     cfg.Manager,
		profiles:    cfg.Profiles,
		completer:   cfg.Completer,
		fallback:    cfg.Fallback,
		chatLimiter: rate.NewLimiter(rate.Limit(chatRequestsPerSecond), chatBurst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/end", s.handleEndSession)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/chat", s.handleChat)
	mux.HandleFunc("GET /v1/profiles/{userID}", s.handleGetProfile)
	mux.HandleFunc("PUT /v1/profiles/{userID}", s.handleSaveProfile)
	mux.HandleFunc("GET /v1/profiles/{userID}/posts/{postID}", s.handleGetPost)
	mux.HandleFunc("PUT /v1/profiles/{userID}/posts/{postID}", s.handleSavePost)
	mux.HandleFunc("PUT /v1/profiles/{userID}/faq", s.handleSaveFAQ)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	log.Printf("server: API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type createSessionRequest struct {
	UserID      string `json:"userId"`
	ReferralTag string `json:"referralTag,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	tracker, err := s.manager.Create(r.Context(), req.UserID, req.ReferralTag)
	if err != nil {
		log.Printf("server: create session for user %s failed: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: tracker.SessionID()})
}

// trackedEvent is one event in an ingest batch. Type selects which fields
// apply.
type trackedEvent struct {
	Type string `json:"type"`

	// scroll
	ScrollOffset  float64 `json:"scrollOffset,omitempty"`
	MaxScrollable float64 `json:"maxScrollable,omitempty"`

	// section_view
	Section         string  `json:"section,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`

	// interaction
	Interaction string `json:"interaction,omitempty"`

	// chatbot
	Action   string `json:"action,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

type eventsRequest struct {
	Events []trackedEvent `json:"events"`
}

type eventsResponse struct {
	Recorded int `json:"recorded"`
	Dropped  int `json:"dropped"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tracker, ok := s.tracker(w, r)
	if !ok {
		return
	}

	var req eventsRequest
	if !s.decode(w, r, &req) {
		return
	}

	var resp eventsResponse
	for _, ev := range req.Events {
		recorded, err := s.dispatch(r.Context(), tracker, ev)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if recorded {
			resp.Recorded++
		} else {
			resp.Dropped++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, tracker *analytics.Tracker, ev trackedEvent) (bool, error) {
	switch ev.Type {
	case "scroll":
		return tracker.TrackScroll(ev.ScrollOffset, ev.MaxScrollable), nil
	case "section_view":
		if ev.Section == "" {
			return false, errors.New("section_view event requires a section")
		}
		return tracker.TrackSectionView(ev.Section, ev.DurationSeconds), nil
	case "interaction":
		kind := analytics.InteractionKind(ev.Interaction)
		if !analytics.KnownInteraction(kind) {
			return false, fmt.Errorf("unknown interaction %q", ev.Interaction)
		}
		return tracker.TrackInteraction(kind), nil
	case "chatbot":
		return tracker.TrackChatbotEvent(analytics.ChatAction(ev.Action), ev.Metadata), nil
	case "hidden":
		flushed, err := tracker.Hidden(ctx)
		if err != nil {
			log.Printf("server: hidden flush for session %s failed: %v", tracker.SessionID(), err)
		}
		return flushed, nil
	case "visible":
		flushed, err := tracker.Visible(ctx)
		if err != nil {
			log.Printf("server: visible flush for session %s failed: %v", tracker.SessionID(), err)
		}
		return flushed, nil
	default:
		return false, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionID")
	err := s.manager.End(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, analytics.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		// The tracker is already deregistered; the client cannot retry, so
		// report success and leave the failure in the logs.
		log.Printf("server: end session %s failed: %v", sessionID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.chatLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many chat requests")
		return
	}

	tracker, ok := s.tracker(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	widget, err := s.widgetFor(r.Context(), tracker.UserID())
	if err != nil {
		log.Printf("server: chat widget for user %s failed: %v", tracker.UserID(), err)
		writeError(w, http.StatusInternalServerError, "chat unavailable")
		return
	}

	reply := widget.Respond(r.Context(), tracker, req.Message)
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

// widgetFor assembles the chat widget for a profile from its stored FAQ
// entries and persona.
func (s *Server) widgetFor(ctx context.Context, userID string) (*chat.Widget, error) {
	entries, err := s.profiles.FAQ(ctx, userID)
	if err != nil {
		return nil, err
	}

	persona := ""
	p, err := s.profiles.Get(ctx, userID)
	if err == nil {
		persona = p.ChatPersona
	} else if !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	return chat.NewWidget(entries, s.completer, persona, s.fallback), nil
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), r.PathValue("userID"))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		log.Printf("server: get profile failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p profile.Profile
	if !s.decode(w, r, &p) {
		return
	}
	p.UserID = r.PathValue("userID")

	if err := s.profiles.Save(r.Context(), &p); err != nil {
		log.Printf("server: save profile %s failed: %v", p.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetPost(r.Context(), r.PathValue("userID"), r.PathValue("postID"))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		log.Printf("server: get post failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load post")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSavePost(w http.ResponseWriter, r *http.Request) {
	var p profile.Post
	if !s.decode(w, r, &p) {
		return
	}
	userID := r.PathValue("userID")
	p.ID = r.PathValue("postID")

	if err := s.profiles.SavePost(r.Context(), userID, &p); err != nil {
		log.Printf("server: save post %s/%s failed: %v", userID, p.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to save post")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveFAQ(w http.ResponseWriter, r *http.Request) {
	var entries []chat.FAQEntry
	if !s.decode(w, r, &entries) {
		return
	}
	userID := r.PathValue("userID")

	if err := s.profiles.SaveFAQ(r.Context(), userID, entries); err != nil {
		log.Printf("server: save faq %s failed: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save faq")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tracker(w http.ResponseWriter, r *http.Request) (*analytics.Tracker, bool) {
	tracker, err := s.manager.Get(r.PathValue("sessionID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return tracker, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
