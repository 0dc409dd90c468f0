package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentfolio/agentfolio/internal/chat"
	"github.com/agentfolio/agentfolio/internal/profile"
	"github.com/agentfolio/agentfolio/pkg/analytics"
	"github.com/agentfolio/agentfolio/pkg/docstore/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.MemoryStore, *analytics.Manager) {
	t.Helper()

	store := memory.New()
	manager := analytics.NewManager(analytics.TrackerConfig{
		Store:         store,
		FlushInterval: time.Hour,
	})
	srv := New(Config{
		Port:     0,
		Manager:  manager,
		Profiles: profile.NewService(store),
		Fallback: "Please use the contact form.",
	})
	t.Cleanup(func() {
		_ = manager.EndAll(context.Background())
	})
	return srv, store, manager
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, handler http.Handler, userID string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/v1/sessions", map[string]string{"userId": userID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp createSessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("empty session ID")
	}
	return resp.SessionID
}

func TestServer_CreateSession(t *testing.T) {
	srv, _, manager := newTestServer(t)

	sessionID := createSession(t, srv.Handler(), "user-1")
	if manager.Len() != 1 {
		t.Errorf("Len = %d, want 1", manager.Len())
	}
	if _, err := manager.Get(sessionID); err != nil {
		t.Errorf("session not registered: %v", err)
	}
}

func TestServer_CreateSession_Invalid(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing userId", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewBufferString("not json"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for malformed body", rec.Code)
	}
}

func TestServer_IngestEvents(t *testing.T) {
	srv, _, manager := newTestServer(t)
	sessionID := createSession(t, srv.Handler(), "user-1")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/events", eventsRequest{
		Events: []trackedEvent{
			{Type: "scroll", ScrollOffset: 450, MaxScrollable: 1000},
			{Type: "section_view", Section: "bio", DurationSeconds: 2.5},
			{Type: "interaction", Interaction: "click"},
			{Type: "interaction", Interaction: "click"}, // same-second duplicate
			{Type: "chatbot", Action: "open"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp eventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Recorded != 4 || resp.Dropped != 1 {
		t.Errorf("recorded/dropped = %d/%d, want 4/1", resp.Recorded, resp.Dropped)
	}

	tracker, err := manager.Get(sessionID)
	if err != nil {
		t.Fatalf("Get tracker: %v", err)
	}
	snap := tracker.Snapshot()
	if snap.Scroll.MaxPercentage != 45 {
		t.Errorf("MaxPercentage = %d, want 45", snap.Scroll.MaxPercentage)
	}
	if snap.Interactions[analytics.InteractionClick] != 1 {
		t.Errorf("clicks = %d, want 1", snap.Interactions[analytics.InteractionClick])
	}
	if snap.Chat.SessionsOpened != 1 {
		t.Errorf("SessionsOpened = %d, want 1", snap.Chat.SessionsOpened)
	}
}

func TestServer_IngestEvents_ThrottledFlushIsDropped(t *testing.T) {
	srv, _, _ := newTestServer(t)
	sessionID := createSession(t, srv.Handler(), "user-1")

	// The start flush just ran, so a visible flush inside the minimum
	// interval is throttled and must not be reported as recorded.
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/events", eventsRequest{
		Events: []trackedEvent{{Type: "visible"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp eventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Recorded != 0 || resp.Dropped != 1 {
		t.Errorf("recorded/dropped = %d/%d, want 0/1", resp.Recorded, resp.Dropped)
	}
}

func TestServer_IngestEvents_Errors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	sessionID := createSession(t, srv.Handler(), "user-1")

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/unknown/events", eventsRequest{})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for unknown session", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/events", eventsRequest{
		Events: []trackedEvent{{Type: "teleport"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown event type", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/events", eventsRequest{
		Events: []trackedEvent{{Type: "interaction", Interaction: "hover"}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown interaction", rec.Code)
	}
}

func TestServer_EndSession(t *testing.T) {
	srv, store, manager := newTestServer(t)
	sessionID := createSession(t, srv.Handler(), "user-1")
	tracker, err := manager.Get(sessionID)
	if err != nil {
		t.Fatalf("Get tracker: %v", err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/end", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if manager.Len() != 0 {
		t.Errorf("Len = %d after end, want 0", manager.Len())
	}

	snap := tracker.Snapshot()
	if _, err := store.Get(context.Background(), analytics.SummaryDocPath(snap.UserID, snap.HourBucket)); err != nil {
		t.Errorf("summary not written on end: %v", err)
	}

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/sessions/"+sessionID+"/end", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for repeated end", rec.Code)
	}
}

func TestServer_Chat(t *testing.T) {
	srv, store, manager := newTestServer(t)
	handler := srv.Handler()

	svc := profile.NewService(store)
	if err := svc.SaveFAQ(context.Background(), "user-1", []chat.FAQEntry{
		{ID: "pricing", Patterns: []string{"charge"}, Answer: "Rates start at $100/hour."},
	}); err != nil {
		t.Fatalf("SaveFAQ failed: %v", err)
	}

	sessionID := createSession(t, handler, "user-1")

	rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", chatRequest{Message: "what do you charge?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Rates start at $100/hour." {
		t.Errorf("reply = %q, want the FAQ answer", resp.Reply)
	}

	// The exchange is reflected in the session's chat metrics.
	tracker, err := manager.Get(sessionID)
	if err != nil {
		t.Fatalf("Get tracker: %v", err)
	}
	if got := tracker.Snapshot().Chat.TotalMessages; got != 2 {
		t.Errorf("TotalMessages = %d, want 2", got)
	}

	// No FAQ match and no completer: the fallback answers.
	rec = doJSON(t, handler, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", chatRequest{Message: "tell me a story"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp = chatResponse{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Please use the contact form." {
		t.Errorf("reply = %q, want the fallback", resp.Reply)
	}

	// Empty messages are rejected.
	rec = doJSON(t, handler, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", chatRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for empty message", rec.Code)
	}
}

func TestServer_Chat_RateLimited(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()
	sessionID := createSession(t, handler, "user-1")

	var limited bool
	for i := 0; i < chatBurst+1; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/v1/sessions/"+sessionID+"/chat", chatRequest{Message: "hello"})
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, body %s", i+1, rec.Code, rec.Body.String())
		}
	}
	if !limited {
		t.Errorf("no 429 after %d rapid chat requests", chatBurst+1)
	}
}

func TestServer_ProfileCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/profiles/user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for missing profile", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/v1/profiles/user-1", profile.Profile{
		Name:     "Ada",
		Headline: "Backend engineer",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/profiles/user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var p profile.Profile
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if p.UserID != "user-1" || p.Name != "Ada" {
		t.Errorf("profile = %+v", p)
	}
}

func TestServer_PostCRUD(t *testing.T) {
	srv, _, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPut, "/v1/profiles/user-1/posts/go-errors", profile.Post{
		Title: "Error handling in Go",
		Body:  "Wrap with %w.",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/profiles/user-1/posts/go-errors", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var p profile.Post
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if p.ID != "go-errors" || p.Title != "Error handling in Go" {
		t.Errorf("post = %+v", p)
	}

	rec = doJSON(t, handler, http.MethodGet, "/v1/profiles/user-1/posts/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServer_SaveFAQ(t *testing.T) {
	srv, store, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPut, "/v1/profiles/user-1/faq", []chat.FAQEntry{
		{ID: "pricing", Patterns: []string{"price"}, Answer: "Rates start at $100/hour."},
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	entries, err := profile.NewService(store).FAQ(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FAQ failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "pricing" {
		t.Errorf("entries = %+v", entries)
	}
}
