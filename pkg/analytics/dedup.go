package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// maxSeenFingerprints bounds the per-session seen set. Sessions are
// page-load scoped so the cap is effectively unreachable; past it the
// deduplicator stops remembering new fingerprints and duplicate suppression
// degrades to allowing events through rather than dropping them.
const maxSeenFingerprints = 10000

// EventDeduplicator rejects literal repeats of a tracking call within a
// session. The fingerprint folds in a second-granularity timestamp, so the
// same action repeated in a later second is intentionally NOT a duplicate;
// only repeats inside the same one-second window are suppressed.
type EventDeduplicator struct {
	sessionID string
	seen      map[string]struct{}
}

// NewEventDeduplicator creates a deduplicator scoped to one session.
func NewEventDeduplicator(sessionID string) *EventDeduplicator {
	return &EventDeduplicator{
		sessionID: sessionID,
		seen:      make(map[string]struct{}),
	}
}

// Fingerprint computes a stable hash of an event within its session and
// one-second window. parts is the operation name followed by its arguments.
func (d *EventDeduplicator) Fingerprint(at time.Time, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(d.sessionID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(at.Unix(), 10)))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Seen reports whether a fingerprint was already recorded this session.
func (d *EventDeduplicator) Seen(fingerprint string) bool {
	_, ok := d.seen[fingerprint]
	return ok
}

// MarkSeen records a fingerprint. Past the cap it is a no-op.
func (d *EventDeduplicator) MarkSeen(fingerprint string) {
	if len(d.seen) >= maxSeenFingerprints {
		return
	}
	d.seen[fingerprint] = struct{}{}
}

// Len returns the number of remembered fingerprints.
func (d *EventDeduplicator) Len() int {
	return len(d.seen)
}

// joinParts renders fingerprint parts for the event log payload.
func joinParts(parts ...string) string {
	return strings.Join(parts, "|")
}
