// Package analytics implements the visitor engagement tracker for hosted
// microsite profiles: per-session state, event deduplication, flush
// scheduling, durable session documents, and shared per-hour aggregation.
package analytics

import (
	"fmt"
	"time"
)

// InteractionKind names a visitor interaction counter.
type InteractionKind string

const (
	InteractionClick        InteractionKind = "click"
	InteractionBlogView     InteractionKind = "blog_view"
	InteractionContactClick InteractionKind = "contact_click"
	InteractionLinkClick    InteractionKind = "link_click"
	InteractionChatbot      InteractionKind = "chatbot_interaction"
	InteractionEnquiry      InteractionKind = "enquiry"
)

// KnownInteraction reports whether kind is one of the tracked counters.
func KnownInteraction(kind InteractionKind) bool {
	switch kind {
	case InteractionClick, InteractionBlogView, InteractionContactClick,
		InteractionLinkClick, InteractionChatbot, InteractionEnquiry:
		return true
	}
	return false
}

// ChatAction is a chat-widget lifecycle notification.
type ChatAction string

const (
	ChatOpen           ChatAction = "open"
	ChatClose          ChatAction = "close"
	ChatSendMessage    ChatAction = "send_message"
	ChatReceiveMessage ChatAction = "receive_message"
)

// FlushReason says why session state is being persisted.
type FlushReason string

const (
	// FlushStart is the immediate flush on session creation.
	FlushStart FlushReason = "start"
	// FlushPeriodic is the interval flush while the page is alive.
	FlushPeriodic FlushReason = "periodic"
	// FlushHidden fires when the page becomes hidden.
	FlushHidden FlushReason = "hidden"
	// FlushVisible fires when a hidden page becomes visible again.
	FlushVisible FlushReason = "visible"
	// FlushEnd is the terminal flush; it also triggers the hourly merge.
	FlushEnd FlushReason = "end"
)

// Mandatory reports whether a reason bypasses the minimum-interval throttle.
// Start, hidden and end flushes must never be dropped: they are the writes
// that survive a tab closing abruptly.
func (r FlushReason) Mandatory() bool {
	return r == FlushStart || r == FlushHidden || r == FlushEnd
}

// ScrollMetrics tracks how far and how actively the visitor scrolled.
type ScrollMetrics struct {
	// MaxPercentage is the deepest scroll position seen, 0-100.
	// Monotonically non-decreasing.
	MaxPercentage int
	// TotalEvents counts recorded scroll events.
	TotalEvents int
	// ActiveSeconds is cumulative time spent actively scrolling.
	ActiveSeconds float64
}

// SectionView tracks visibility of one named page section.
type SectionView struct {
	ViewCount       int
	DurationSeconds float64
	FirstSeen       time.Time
	LastSeen        time.Time
}

// ChatbotMetrics tracks chat-widget engagement within the session.
type ChatbotMetrics struct {
	SessionsOpened   int
	TotalMessages    int
	TotalChatSeconds float64
}

// EventRecord is one entry in the session's append-only event log. The log
// exists for deduplication and audit; aggregates are maintained incrementally
// and never recomputed from it.
type EventRecord struct {
	Timestamp   time.Time
	Type        string
	Payload     string
	Fingerprint string
}

// Snapshot is an immutable copy of session state, taken under the session
// lock. Scoring and persistence operate on snapshots only.
type Snapshot struct {
	SessionID    string
	UserID       string
	ReferralTag  string
	StartTime    time.Time
	HourBucket   time.Time
	LastActivity time.Time
	EndTime      *time.Time
	TakenAt      time.Time

	Scroll       ScrollMetrics
	Interactions map[InteractionKind]int
	Sections     map[string]SectionView
	Chat         ChatbotMetrics
	EventCount   int
}

// Duration returns the session duration in seconds as of the snapshot:
// end minus start for an ended session, snapshot time minus start otherwise.
func (s Snapshot) Duration() float64 {
	end := s.TakenAt
	if s.EndTime != nil {
		end = *s.EndTime
	}
	d := end.Sub(s.StartTime).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

// TotalInteractions sums all interaction counters.
func (s Snapshot) TotalInteractions() int {
	total := 0
	for _, n := range s.Interactions {
		total += n
	}
	return total
}

// hourKeyFormat renders an hour bucket for use in document IDs.
const hourKeyFormat = "2006010215"

// HourKey formats a timestamp's enclosing UTC hour for document keys.
func HourKey(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(hourKeyFormat)
}

// SessionDocPath is the durable per-session document path.
func SessionDocPath(userID string, hourBucket time.Time, sessionID string) string {
	return fmt.Sprintf("users/%s/analytics/%s_%s", userID, HourKey(hourBucket), sessionID)
}

// SummaryDocPath is the shared per-hour aggregate document path.
func SummaryDocPath(userID string, hourBucket time.Time) string {
	return fmt.Sprintf("users/%s/analytics/%s_summary", userID, HourKey(hourBucket))
}
