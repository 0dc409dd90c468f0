package analytics

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agentfolio/agentfolio/pkg/docstore"
	"github.com/agentfolio/agentfolio/pkg/observability"
)

// ErrTrackerEnded is returned when flushing a tracker after End.
var ErrTrackerEnded = errors.New("tracker has ended")

// TrackerConfig configures one session tracker.
type TrackerConfig struct {
	// UserID is the profile owner being visited. Required.
	UserID string
	// ReferralTag is the attribution tag captured from the page URL, if any.
	ReferralTag string
	// Store is the document store flushes are written to. Required.
	Store docstore.Store
	// FlushInterval is the periodic flush cadence (default 30s).
	FlushInterval time.Duration
	// MinFlushInterval is the throttle floor between flushes (default 10s).
	MinFlushInterval time.Duration
	// ActiveWindow controls the "active" flag on session documents.
	ActiveWindow time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker owns one visitor session end to end: it is constructed when the
// profile page loads, fed every tracked event, and torn down exactly once by
// End. All storage writes for the session go through the tracker, serialized
// so a later flush can never land before an earlier one.
type Tracker struct {
	state      *SessionState
	writer     *SessionWriter
	aggregator *SummaryAggregator
	gate       *flushGate
	now        func() time.Time

	// flushMu serializes writes to the session document.
	flushMu sync.Mutex

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	endOnce sync.Once
	endedCh chan struct{}
}

// NewTracker creates a tracker, performs the immediate start flush, and
// begins periodic flushing. The caller must eventually call End.
func NewTracker(ctx context.Context, cfg TrackerConfig) (*Tracker, error) {
	if cfg.UserID == "" {
		return nil, errors.New("user ID is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	sessionID := NewSessionID(now().UTC())
	t := &Tracker{
		state:      NewSessionState(sessionID, cfg.UserID, cfg.ReferralTag, now),
		writer:     NewSessionWriter(cfg.Store, cfg.ActiveWindow),
		aggregator: NewSummaryAggregator(cfg.Store),
		gate:       newFlushGate(cfg.MinFlushInterval),
		now:        now,
		endedCh:    make(chan struct{}),
	}

	// The start flush is mandatory and immediate; a failure is logged and the
	// tracker still starts, since the next flush retries the same document.
	if _, err := t.flush(ctx, FlushStart); err != nil {
		log.Printf("analytics: start flush for session %s failed: %v", sessionID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.wg.Add(1)
	go t.runPeriodic(runCtx, flushInterval)

	return t, nil
}

// SessionID returns the tracker's session identifier.
func (t *Tracker) SessionID() string {
	return t.state.SessionID()
}

// UserID returns the profile owner being visited.
func (t *Tracker) UserID() string {
	return t.state.UserID()
}

// Snapshot returns a copy of the current session state.
func (t *Tracker) Snapshot() Snapshot {
	return t.state.Snapshot()
}

// TrackScroll records a scroll position update.
func (t *Tracker) TrackScroll(scrollOffset, maxScrollable float64) bool {
	return t.observe("scroll", t.state.RecordScroll(scrollOffset, maxScrollable))
}

// TrackSectionView records a section becoming visible.
func (t *Tracker) TrackSectionView(name string, durationSeconds float64) bool {
	return t.observe("section", t.state.RecordSectionView(name, durationSeconds))
}

// TrackInteraction records a named interaction.
func (t *Tracker) TrackInteraction(kind InteractionKind) bool {
	return t.observe("interaction", t.state.RecordInteraction(kind))
}

// TrackChatbotEvent records a chat-widget lifecycle event.
func (t *Tracker) TrackChatbotEvent(action ChatAction, metadata string) bool {
	return t.observe("chatbot", t.state.RecordChatbotEvent(action, metadata))
}

// Hidden flushes immediately when the page becomes hidden. This is a
// mandatory flush: it may be the last chance to persist before the tab dies.
// It reports whether the flush was actually written.
func (t *Tracker) Hidden(ctx context.Context) (bool, error) {
	return t.Flush(ctx, FlushHidden)
}

// Visible flushes (throttle-gated) when a hidden page becomes visible again.
// It reports whether the flush was actually written.
func (t *Tracker) Visible(ctx context.Context) (bool, error) {
	return t.Flush(ctx, FlushVisible)
}

// Flush persists current session state for the given reason and reports
// whether a write happened. Throttled flushes return false with no error;
// storage failures are logged and returned but leave in-memory state
// untouched, so the next trigger retries.
func (t *Tracker) Flush(ctx context.Context, reason FlushReason) (bool, error) {
	if t.state.Ended() {
		return false, ErrTrackerEnded
	}
	return t.flush(ctx, reason)
}

// End terminally closes the session: it stops the periodic timer, performs
// the final mandatory flush, and merges terminal metrics into the hourly
// summary. End is idempotent; only the first call does the work, and it runs
// to completion even when the surrounding page is tearing down.
func (t *Tracker) End(ctx context.Context) error {
	var err error
	t.endOnce.Do(func() {
		// Stop the periodic timer first so no flush can fire after teardown.
		t.cancel()
		t.wg.Wait()
		close(t.endedCh)

		t.state.End()

		if _, flushErr := t.flush(ctx, FlushEnd); flushErr != nil {
			err = flushErr
		}

		snap := t.state.Snapshot()
		if mergeErr := t.aggregator.Merge(ctx, snap); mergeErr != nil {
			log.Printf("analytics: summary merge for session %s failed: %v", snap.SessionID, mergeErr)
			observability.RecordSummaryMerge("error")
			if err == nil {
				err = mergeErr
			}
		} else {
			observability.RecordSummaryMerge("ok")
		}
	})
	return err
}

// Ended reports whether End has completed.
func (t *Tracker) Ended() bool {
	select {
	case <-t.endedCh:
		return true
	default:
		return false
	}
}

func (t *Tracker) runPeriodic(ctx context.Context, interval time.Duration) {
	defer t.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.flush(ctx, FlushPeriodic); err != nil {
				log.Printf("analytics: periodic flush for session %s failed: %v", t.SessionID(), err)
			}
		}
	}
}

func (t *Tracker) flush(ctx context.Context, reason FlushReason) (bool, error) {
	if !t.gate.allow(t.now().UTC(), reason) {
		observability.RecordFlushDropped(string(reason))
		return false, nil
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	snap := t.state.Snapshot()
	start := time.Now()
	if err := t.writer.Write(ctx, snap, reason); err != nil {
		observability.RecordFlush(string(reason), "error", time.Since(start))
		log.Printf("analytics: flush (%s) for session %s failed: %v", reason, snap.SessionID, err)
		return false, err
	}
	observability.RecordFlush(string(reason), "ok", time.Since(start))
	return true, nil
}

func (t *Tracker) observe(eventType string, recorded bool) bool {
	if recorded {
		observability.RecordEvent(eventType, "recorded")
	} else {
		observability.RecordEvent(eventType, "dropped")
	}
	return recorded
}
