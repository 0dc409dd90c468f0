package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// DefaultActiveWindow is how recently a session must have seen activity to be
// flagged active in its durable document.
const DefaultActiveWindow = 300 * time.Second

// SessionWriter serializes session snapshots into the durable per-session
// document. The document key is stable for the session's hour, and every
// write merges, so a field absent from one snapshot is never clobbered.
type SessionWriter struct {
	store        docstore.Store
	activeWindow time.Duration
}

// NewSessionWriter creates a writer against the given store. activeWindow of
// zero selects DefaultActiveWindow.
func NewSessionWriter(store docstore.Store, activeWindow time.Duration) *SessionWriter {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &SessionWriter{store: store, activeWindow: activeWindow}
}

// Write persists a snapshot. The created marker is included only on the start
// write so merges on later flushes cannot clobber the creation time.
func (w *SessionWriter) Write(ctx context.Context, snap Snapshot, reason FlushReason) error {
	fields := docstore.Document{
		"sessionId":       snap.SessionID,
		"userId":          snap.UserID,
		"startTime":       snap.StartTime,
		"hourBucket":      HourKey(snap.HourBucket),
		"lastActivity":    snap.LastActivity,
		"duration":        roundSeconds(snap.Duration()),
		"scrollDepth":     scrollFields(snap.Scroll),
		"interactions":    interactionFields(snap.Interactions),
		"sections":        sectionFields(snap.Sections),
		"chatbot":         chatbotFields(snap.Chat),
		"engagementScore": int64(Score(snap)),
		"active":          snap.TakenAt.Sub(snap.LastActivity) < w.activeWindow,
		"flushReason":     string(reason),
		"updatedAt":       docstore.ServerTimestamp,
	}
	if snap.ReferralTag != "" {
		fields["referralTag"] = snap.ReferralTag
	}
	if reason == FlushStart {
		fields["created"] = docstore.ServerTimestamp
	}
	if snap.EndTime != nil {
		fields["endTime"] = *snap.EndTime
	}

	path := SessionDocPath(snap.UserID, snap.HourBucket, snap.SessionID)
	if err := w.store.Set(ctx, path, fields, true); err != nil {
		return fmt.Errorf("write session document %s: %w", path, err)
	}
	return nil
}

func scrollFields(s ScrollMetrics) map[string]any {
	return map[string]any{
		"maxPercentage": int64(s.MaxPercentage),
		"totalEvents":   int64(s.TotalEvents),
		"activeSeconds": roundSeconds(s.ActiveSeconds),
	}
}

func interactionFields(interactions map[InteractionKind]int) map[string]any {
	out := make(map[string]any, len(interactions))
	for kind, count := range interactions {
		out[string(kind)] = int64(count)
	}
	return out
}

func sectionFields(sections map[string]SectionView) map[string]any {
	out := make(map[string]any, len(sections))
	for name, view := range sections {
		out[name] = map[string]any{
			"viewCount": int64(view.ViewCount),
			"duration":  roundSeconds(view.DurationSeconds),
			"firstSeen": view.FirstSeen,
			"lastSeen":  view.LastSeen,
		}
	}
	return out
}

func chatbotFields(c ChatbotMetrics) map[string]any {
	return map[string]any{
		"sessionsOpened": int64(c.SessionsOpened),
		"totalMessages":  int64(c.TotalMessages),
		"totalChatTime":  roundSeconds(c.TotalChatSeconds),
	}
}

// roundSeconds stores durations at second granularity.
func roundSeconds(seconds float64) int64 {
	return int64(math.Round(seconds))
}
