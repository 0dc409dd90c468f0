package analytics

import (
	"sync"
	"time"
)

// Default scheduling intervals, matching the reference page behavior.
const (
	DefaultFlushInterval    = 30 * time.Second
	DefaultMinFlushInterval = 10 * time.Second
)

// flushGate enforces the minimum interval between flushes. Throttle-gated
// reasons (periodic, visible) are dropped until minInterval has passed since
// the previous flush, whatever that flush's reason. Mandatory reasons always
// pass and restart the window, so a gated flush never lands sooner than
// minInterval after any flush.
type flushGate struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastFlush   time.Time
}

func newFlushGate(minInterval time.Duration) *flushGate {
	if minInterval <= 0 {
		minInterval = DefaultMinFlushInterval
	}
	return &flushGate{minInterval: minInterval}
}

// allow reports whether a flush with the given reason may proceed at now.
func (g *flushGate) allow(now time.Time, reason FlushReason) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !reason.Mandatory() && !g.lastFlush.IsZero() && now.Sub(g.lastFlush) < g.minInterval {
		return false
	}
	g.lastFlush = now
	return true
}
