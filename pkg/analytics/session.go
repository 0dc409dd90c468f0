package analytics

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxEventLog bounds the append-only event log; the oldest half is dropped
// when the cap is reached so long sessions cannot grow without bound.
const maxEventLog = 5000

// scrollDebounceWindow is the gap below which consecutive scroll events count
// as continuous active scrolling.
const scrollDebounceWindow = 150 * time.Millisecond

// SessionState is the single source of truth for one visitor session's
// counters. The browser original ran on a single event loop; here all
// operations are serialized by an internal lock, so SessionState is safe for
// concurrent use.
type SessionState struct {
	mu sync.Mutex

	sessionID   string
	userID      string
	referralTag string

	startTime    time.Time
	hourBucket   time.Time
	lastActivity time.Time
	endTime      *time.Time

	scroll       ScrollMetrics
	lastScrollAt time.Time
	interactions map[InteractionKind]int
	sections     map[string]*SectionView
	chat         ChatbotMetrics
	chatOpenedAt *time.Time

	events []EventRecord
	dedup  *EventDeduplicator

	now func() time.Time
}

// NewSessionID builds a globally unique session identifier with a time
// component and a random suffix.
func NewSessionID(at time.Time) string {
	return fmt.Sprintf("%d_%s", at.UnixMilli(), uuid.NewString()[:8])
}

// NewSessionState creates session state for one page visit. now may be nil,
// in which case time.Now is used.
func NewSessionState(sessionID, userID, referralTag string, now func() time.Time) *SessionState {
	if now == nil {
		now = time.Now
	}
	start := now().UTC()
	return &SessionState{
		sessionID:    sessionID,
		userID:       userID,
		referralTag:  referralTag,
		startTime:    start,
		hourBucket:   start.Truncate(time.Hour),
		lastActivity: start,
		interactions: make(map[InteractionKind]int),
		sections:     make(map[string]*SectionView),
		dedup:        NewEventDeduplicator(sessionID),
		now:          now,
	}
}

// SessionID returns the session identifier.
func (s *SessionState) SessionID() string { return s.sessionID }

// UserID returns the profile owner being visited.
func (s *SessionState) UserID() string { return s.userID }

// Ended reports whether the session has been terminally closed.
func (s *SessionState) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endTime != nil
}

// RecordScroll tracks a scroll position update. Returns true if the event was
// recorded, false if it was deduplicated, invalid, or the session has ended.
func (s *SessionState) RecordScroll(scrollOffset, maxScrollable float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil {
		return false
	}

	pct := 0
	if maxScrollable > 0 {
		pct = int(math.Round(100 * scrollOffset / maxScrollable))
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	// Dedup on the nearest-10% bucket so jitter around one position within a
	// second collapses to a single event.
	bucket := pct / 10 * 10
	now := s.now().UTC()
	if !s.record(now, "scroll", strconv.Itoa(bucket)) {
		return false
	}

	if pct > s.scroll.MaxPercentage {
		s.scroll.MaxPercentage = pct
	}
	s.scroll.TotalEvents++

	if !s.lastScrollAt.IsZero() {
		if gap := now.Sub(s.lastScrollAt); gap >= 0 && gap <= scrollDebounceWindow {
			s.scroll.ActiveSeconds += gap.Seconds()
		}
	}
	s.lastScrollAt = now

	s.lastActivity = now
	return true
}

// RecordSectionView tracks a section becoming visible for durationSeconds.
// The section entry is created lazily on first view.
func (s *SessionState) RecordSectionView(name string, durationSeconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil || name == "" {
		return false
	}
	if durationSeconds < 0 {
		durationSeconds = 0
	}

	now := s.now().UTC()
	if !s.record(now, "section", name, strconv.FormatFloat(durationSeconds, 'f', -1, 64)) {
		return false
	}

	view, ok := s.sections[name]
	if !ok {
		view = &SectionView{FirstSeen: now}
		s.sections[name] = view
	}
	view.ViewCount++
	view.DurationSeconds += durationSeconds
	view.LastSeen = now

	s.lastActivity = now
	return true
}

// RecordInteraction increments the named interaction counter.
func (s *SessionState) RecordInteraction(kind InteractionKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil || !KnownInteraction(kind) {
		return false
	}

	now := s.now().UTC()
	if !s.record(now, "interaction", string(kind)) {
		return false
	}

	s.interactions[kind]++
	s.lastActivity = now
	return true
}

// RecordChatbotEvent tracks a chat-widget lifecycle notification. A close
// with no prior open is a no-op: closing a widget that was never opened must
// not mutate chat duration.
func (s *SessionState) RecordChatbotEvent(action ChatAction, metadata string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil {
		return false
	}

	now := s.now().UTC()

	switch action {
	case ChatOpen:
		if !s.record(now, "chatbot", string(action), metadata) {
			return false
		}
		s.chat.SessionsOpened++
		// Overwrites any stale marker from an open that never closed.
		opened := now
		s.chatOpenedAt = &opened
	case ChatClose:
		if s.chatOpenedAt == nil {
			return false
		}
		if !s.record(now, "chatbot", string(action), metadata) {
			return false
		}
		elapsed := now.Sub(*s.chatOpenedAt).Seconds()
		if elapsed > 0 {
			s.chat.TotalChatSeconds += elapsed
		}
		s.chatOpenedAt = nil
	case ChatSendMessage, ChatReceiveMessage:
		if !s.record(now, "chatbot", string(action), metadata) {
			return false
		}
		s.chat.TotalMessages++
	default:
		return false
	}

	s.lastActivity = now
	return true
}

// End terminally closes the session. endTime is set exactly once; repeat
// calls are no-ops.
func (s *SessionState) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endTime != nil {
		return
	}
	now := s.now().UTC()
	s.endTime = &now
	s.lastActivity = now
}

// Snapshot copies the current state under the lock.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:    s.sessionID,
		UserID:       s.userID,
		ReferralTag:  s.referralTag,
		StartTime:    s.startTime,
		HourBucket:   s.hourBucket,
		LastActivity: s.lastActivity,
		TakenAt:      s.now().UTC(),
		Scroll:       s.scroll,
		Chat:         s.chat,
		EventCount:   len(s.events),
		Interactions: make(map[InteractionKind]int, len(s.interactions)),
		Sections:     make(map[string]SectionView, len(s.sections)),
	}
	if s.endTime != nil {
		end := *s.endTime
		snap.EndTime = &end
	}
	for k, v := range s.interactions {
		snap.Interactions[k] = v
	}
	for name, view := range s.sections {
		snap.Sections[name] = *view
	}
	return snap
}

// record runs the dedup gate and, when the event is new, appends it to the
// event log. Caller must hold the lock.
func (s *SessionState) record(now time.Time, parts ...string) bool {
	fp := s.dedup.Fingerprint(now, parts...)
	if s.dedup.Seen(fp) {
		return false
	}
	s.dedup.MarkSeen(fp)

	if len(s.events) >= maxEventLog {
		s.events = append(s.events[:0], s.events[maxEventLog/2:]...)
	}
	s.events = append(s.events, EventRecord{
		Timestamp:   now,
		Type:        parts[0],
		Payload:     joinParts(parts[1:]...),
		Fingerprint: fp,
	})
	return true
}
