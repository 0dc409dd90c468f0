package analytics

import (
	"context"
	"fmt"

	"github.com/agentfolio/agentfolio/pkg/docstore"
)

// Hourly summary field names. Additive fields are merged with atomic
// increments; extremal fields keep the maximum across sessions.
const (
	summaryTotalSessions      = "totalSessions"
	summaryTotalDuration      = "totalDuration"
	summaryTotalPageViews     = "totalPageViews"
	summaryTotalInteractions  = "totalInteractions"
	summaryTotalScrollEvents  = "totalScrollEvents"
	summaryTotalChatMessages  = "totalChatbotMessages"
	summaryTotalChatSessions  = "totalChatbotSessions"
	summaryMaxScrollDepth     = "maxScrollDepth"
	summaryMaxEngagementScore = "maxEngagementScore"
)

// SummaryAggregator merges one session's terminal metrics into the shared
// per-hour summary document. Additive fields use the store's atomic increment
// and stay exact under any number of concurrent writers. Extremal fields use
// read-then-write-max, which two racing writers can lose; that bounded
// imprecision is accepted for extremal fields only.
type SummaryAggregator struct {
	store docstore.Store
}

// NewSummaryAggregator creates an aggregator against the given store.
func NewSummaryAggregator(store docstore.Store) *SummaryAggregator {
	return &SummaryAggregator{store: store}
}

// Merge folds a terminal snapshot into the (userID, hourBucket) summary.
// The first writer to observe a missing document creates it, seeding the
// extremal fields from this session and setting the created marker.
func (a *SummaryAggregator) Merge(ctx context.Context, snap Snapshot) error {
	path := SummaryDocPath(snap.UserID, snap.HourBucket)

	// Read first: the increments below don't need it, but the extremal merge
	// does, and existence decides whether this call seeds the document.
	// A read failure is treated as "document absent" (the extremal seed may
	// then undercount other writers, which the design accepts).
	current, err := a.store.Get(ctx, path)
	seeding := err != nil

	increments := []struct {
		field string
		delta int64
	}{
		{summaryTotalSessions, 1},
		{summaryTotalDuration, roundSeconds(snap.Duration())},
		{summaryTotalPageViews, 1},
		{summaryTotalInteractions, int64(snap.TotalInteractions())},
		{summaryTotalScrollEvents, int64(snap.Scroll.TotalEvents)},
		{summaryTotalChatMessages, int64(snap.Chat.TotalMessages)},
		{summaryTotalChatSessions, int64(snap.Chat.SessionsOpened)},
	}
	for _, inc := range increments {
		if inc.delta == 0 && inc.field != summaryTotalSessions {
			continue
		}
		if err := a.store.Increment(ctx, path, inc.field, inc.delta); err != nil {
			return fmt.Errorf("increment summary %s.%s: %w", path, inc.field, err)
		}
	}

	return a.mergeExtremals(ctx, path, snap, current, seeding)
}

func (a *SummaryAggregator) mergeExtremals(ctx context.Context, path string, snap Snapshot, current docstore.Document, seeding bool) error {
	maxScroll := int64(snap.Scroll.MaxPercentage)
	maxScore := int64(Score(snap))

	fields := docstore.Document{
		"userId":     snap.UserID,
		"hourBucket": HourKey(snap.HourBucket),
		"updatedAt":  docstore.ServerTimestamp,
	}

	if seeding {
		fields["created"] = docstore.ServerTimestamp
		fields[summaryMaxScrollDepth] = maxScroll
		fields[summaryMaxEngagementScore] = maxScore
	} else {
		if cur, ok := docstore.Numeric(current[summaryMaxScrollDepth]); !ok || maxScroll > cur {
			fields[summaryMaxScrollDepth] = maxScroll
		}
		if cur, ok := docstore.Numeric(current[summaryMaxEngagementScore]); !ok || maxScore > cur {
			fields[summaryMaxEngagementScore] = maxScore
		}
	}

	if err := a.store.Set(ctx, path, fields, true); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}
