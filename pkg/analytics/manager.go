package analytics

import (
	"context"
	"errors"
	"sync"

	"github.com/agentfolio/agentfolio/pkg/observability"
)

// ErrSessionNotFound is returned when no tracker exists for a session ID.
var ErrSessionNotFound = errors.New("session not found")

// Manager hosts the live trackers of a deployment, one per visitor session.
// Manager is safe for concurrent use.
type Manager struct {
	base     TrackerConfig
	trackers map[string]*Tracker
	mu       sync.RWMutex
}

// NewManager creates a manager. base supplies everything but the per-session
// user/referral identity.
func NewManager(base TrackerConfig) *Manager {
	return &Manager{
		base:     base,
		trackers: make(map[string]*Tracker),
	}
}

// Create starts a tracker for a new visitor session and registers it.
func (m *Manager) Create(ctx context.Context, userID, referralTag string) (*Tracker, error) {
	cfg := m.base
	cfg.UserID = userID
	cfg.ReferralTag = referralTag

	tracker, err := NewTracker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.trackers[tracker.SessionID()] = tracker
	m.mu.Unlock()
	observability.AddActiveSessions(1)

	return tracker, nil
}

// Get retrieves a live tracker by session ID.
func (m *Manager) Get(sessionID string) (*Tracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracker, ok := m.trackers[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return tracker, nil
}

// End tears down one session: terminal flush, summary merge, deregistration.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	tracker, ok := m.trackers[sessionID]
	if ok {
		delete(m.trackers, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	observability.AddActiveSessions(-1)
	return tracker.End(ctx)
}

// Len returns the number of live trackers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trackers)
}

// EndAll ends every live tracker. Used at shutdown so terminal flushes and
// summary merges complete before the process exits.
func (m *Manager) EndAll(ctx context.Context) error {
	m.mu.Lock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.trackers = make(map[string]*Tracker)
	m.mu.Unlock()

	var firstErr error
	for _, t := range trackers {
		observability.AddActiveSessions(-1)
		if err := t.End(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
