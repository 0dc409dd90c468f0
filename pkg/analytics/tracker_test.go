package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentfolio/agentfolio/pkg/docstore"
	"github.com/agentfolio/agentfolio/pkg/docstore/memory"
)

func newTestTracker(t *testing.T) (*Tracker, *memory.MemoryStore, *fakeClock) {
	t.Helper()

	clock := newFakeClock(testStart)
	store := memory.New()
	tracker, err := NewTracker(context.Background(), TrackerConfig{
		UserID: "user-1",
		Store:  store,
		// Keep the real-time periodic loop out of the way; flushes in tests
		// are triggered explicitly.
		FlushInterval: time.Hour,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	t.Cleanup(func() {
		_ = tracker.End(context.Background())
	})
	return tracker, store, clock
}

func sessionDoc(t *testing.T, store *memory.MemoryStore, tracker *Tracker) docstore.Document {
	t.Helper()
	snap := tracker.Snapshot()
	doc, err := store.Get(context.Background(), SessionDocPath(snap.UserID, snap.HourBucket, snap.SessionID))
	if err != nil {
		t.Fatalf("session document not found: %v", err)
	}
	return doc
}

func TestNewTracker_Validation(t *testing.T) {
	ctx := context.Background()

	if _, err := NewTracker(ctx, TrackerConfig{Store: memory.New()}); err == nil {
		t.Error("expected error for missing user ID")
	}
	if _, err := NewTracker(ctx, TrackerConfig{UserID: "user-1"}); err == nil {
		t.Error("expected error for missing store")
	}
}

func TestTracker_StartFlush(t *testing.T) {
	tracker, store, _ := newTestTracker(t)

	doc := sessionDoc(t, store, tracker)
	if doc["flushReason"] != string(FlushStart) {
		t.Errorf("flushReason = %v, want start", doc["flushReason"])
	}
	if _, ok := doc["created"].(time.Time); !ok {
		t.Errorf("created = %v (%T), want time.Time", doc["created"], doc["created"])
	}
	if doc["duration"] != int64(0) {
		t.Errorf("duration = %v, want 0", doc["duration"])
	}
}

func TestTracker_ThrottleDropsEarlyFlush(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	// The start flush opened the throttle window.
	clock.Advance(3 * time.Second)
	flushed, err := tracker.Flush(ctx, FlushPeriodic)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if flushed {
		t.Error("flush 3s after the start flush should be dropped")
	}
	if got := sessionDoc(t, store, tracker)["flushReason"]; got != string(FlushStart) {
		t.Errorf("flushReason = %v; throttled flush should not have written", got)
	}

	clock.Advance(7 * time.Second)
	flushed, err = tracker.Flush(ctx, FlushPeriodic)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !flushed {
		t.Error("flush after the interval should be written")
	}
	if got := sessionDoc(t, store, tracker)["flushReason"]; got != string(FlushPeriodic) {
		t.Errorf("flushReason = %v, want periodic after the interval", got)
	}
}

func TestTracker_HiddenFlushesImmediately(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	clock.Advance(time.Second)
	tracker.TrackScroll(450, 1000)
	flushed, err := tracker.Hidden(ctx)
	if err != nil {
		t.Fatalf("Hidden failed: %v", err)
	}
	if !flushed {
		t.Error("hidden flush should be written even right after the start flush")
	}

	doc := sessionDoc(t, store, tracker)
	if doc["flushReason"] != string(FlushHidden) {
		t.Errorf("flushReason = %v, want hidden", doc["flushReason"])
	}
	scroll := doc["scrollDepth"].(map[string]any)
	if scroll["maxPercentage"] != int64(45) {
		t.Errorf("maxPercentage = %v, want 45", scroll["maxPercentage"])
	}
}

func TestTracker_FullSessionLifecycle(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	// The visitor scrolls partway down, opens the chat, exchanges a couple of
	// messages over 20 seconds, then leaves two minutes in.
	clock.Advance(5 * time.Second)
	if !tracker.TrackScroll(450, 1000) {
		t.Fatal("scroll should be recorded")
	}
	if !tracker.TrackChatbotEvent(ChatOpen, "") {
		t.Fatal("chat open should be recorded")
	}
	clock.Advance(8 * time.Second)
	if !tracker.TrackChatbotEvent(ChatSendMessage, "what do you charge?") {
		t.Fatal("chat send should be recorded")
	}
	if !tracker.TrackInteraction(InteractionChatbot) {
		t.Fatal("chatbot interaction should be recorded")
	}
	clock.Advance(4 * time.Second)
	if !tracker.TrackChatbotEvent(ChatReceiveMessage, "rates start at...") {
		t.Fatal("chat receive should be recorded")
	}
	clock.Advance(8 * time.Second)
	if !tracker.TrackChatbotEvent(ChatClose, "") {
		t.Fatal("chat close should be recorded")
	}
	tracker.TrackSectionView("bio", 12)

	clock.Advance(95 * time.Second) // 120s total
	if err := tracker.End(ctx); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	doc := sessionDoc(t, store, tracker)
	if doc["flushReason"] != string(FlushEnd) {
		t.Errorf("flushReason = %v, want end", doc["flushReason"])
	}
	if doc["duration"] != int64(120) {
		t.Errorf("duration = %v, want 120", doc["duration"])
	}
	if _, ok := doc["endTime"].(time.Time); !ok {
		t.Errorf("endTime = %v (%T), want time.Time", doc["endTime"], doc["endTime"])
	}

	scroll := doc["scrollDepth"].(map[string]any)
	if scroll["maxPercentage"] != int64(45) {
		t.Errorf("maxPercentage = %v, want 45", scroll["maxPercentage"])
	}
	chatbot := doc["chatbot"].(map[string]any)
	if chatbot["totalMessages"] != int64(2) {
		t.Errorf("totalMessages = %v, want 2", chatbot["totalMessages"])
	}
	if chatbot["totalChatTime"] != int64(20) {
		t.Errorf("totalChatTime = %v, want 20", chatbot["totalChatTime"])
	}
	if chatbot["sessionsOpened"] != int64(1) {
		t.Errorf("sessionsOpened = %v, want 1", chatbot["sessionsOpened"])
	}

	// The terminal merge landed in the hour's shared summary.
	snap := tracker.Snapshot()
	summary, err := store.Get(ctx, SummaryDocPath(snap.UserID, snap.HourBucket))
	if err != nil {
		t.Fatalf("summary document not found: %v", err)
	}
	if got, _ := docstore.Numeric(summary["totalSessions"]); got != 1 {
		t.Errorf("summary totalSessions = %d, want 1", got)
	}
	if got, _ := docstore.Numeric(summary["totalDuration"]); got != 120 {
		t.Errorf("summary totalDuration = %d, want 120", got)
	}
	if got, _ := docstore.Numeric(summary["maxScrollDepth"]); got != 45 {
		t.Errorf("summary maxScrollDepth = %d, want 45", got)
	}
	if got, _ := docstore.Numeric(summary["totalChatbotMessages"]); got != 2 {
		t.Errorf("summary totalChatbotMessages = %d, want 2", got)
	}
}

func TestTracker_EndIsIdempotent(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	clock.Advance(time.Minute)
	if err := tracker.End(ctx); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if !tracker.Ended() {
		t.Fatal("tracker should report ended")
	}

	// A second End does not merge the summary again.
	if err := tracker.End(ctx); err != nil {
		t.Fatalf("second End failed: %v", err)
	}
	snap := tracker.Snapshot()
	summary, err := store.Get(ctx, SummaryDocPath(snap.UserID, snap.HourBucket))
	if err != nil {
		t.Fatalf("summary not found: %v", err)
	}
	if got, _ := docstore.Numeric(summary["totalSessions"]); got != 1 {
		t.Errorf("summary totalSessions = %d after double End, want 1", got)
	}
}

func TestTracker_NoWritesAfterEnd(t *testing.T) {
	tracker, store, clock := newTestTracker(t)
	ctx := context.Background()

	clock.Advance(time.Minute)
	if err := tracker.End(ctx); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if tracker.TrackScroll(900, 1000) {
		t.Error("scroll after End should be rejected")
	}
	if _, err := tracker.Flush(ctx, FlushPeriodic); !errors.Is(err, ErrTrackerEnded) {
		t.Errorf("Flush after End = %v, want ErrTrackerEnded", err)
	}
	if _, err := tracker.Hidden(ctx); !errors.Is(err, ErrTrackerEnded) {
		t.Errorf("Hidden after End = %v, want ErrTrackerEnded", err)
	}

	doc := sessionDoc(t, store, tracker)
	if doc["flushReason"] != string(FlushEnd) {
		t.Errorf("flushReason = %v; document changed after End", doc["flushReason"])
	}
}

func TestTracker_SurvivesStoreFailureOnStart(t *testing.T) {
	store := memory.New()
	_ = store.Close()

	// The start flush fails but the tracker still runs; in-memory state is
	// intact for later retries.
	tracker, err := NewTracker(context.Background(), TrackerConfig{
		UserID:        "user-1",
		Store:         store,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	defer tracker.End(context.Background())

	if !tracker.TrackScroll(450, 1000) {
		t.Error("tracking should still work after a failed start flush")
	}
}
