package tracking

import (
	"context"
	"sort"

	"chatbus/guardian"
	"chatbus/tools/errs"
)

// Options controls one aggregation call.
type Options struct {
	ChannelIDs []int64
	ThreadIDs  []int64

	// IncludeThreads adds per-thread tracking and the per-channel unread
	// thread overview.
	IncludeThreads bool
	// IncludeRead keeps fully-read entries in the report; when false, only
	// entries with unreads survive.
	IncludeRead bool
	// IncludeMissingMemberships synthesizes a zero entry for requested ids
	// the user has no membership for, so clients previewing a channel see
	// "0 unread" instead of nothing.
	IncludeMissingMemberships bool
	// IncludeLastReplyDetails attaches last-reply author/timestamp/excerpt
	// to thread overviews.
	IncludeLastReplyDetails bool
}

// DefaultOptions matches the common caller: read entries included,
// everything else off.
func DefaultOptions() Options {
	return Options{IncludeRead: true}
}

// Store is the read-model the aggregator queries. Implementations batch
// each call; the aggregator never loops single-row queries.
type Store interface {
	ChannelUnreads(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ChannelTracking, error)
	ThreadUnreadsByChannel(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ThreadTracking, error)
	ThreadUnreadsByThread(ctx context.Context, userID int64, threadIDs []int64, includeRead bool) ([]ThreadTracking, error)
	LastReplies(ctx context.Context, threadIDs []int64) (map[int64]LastReply, error)
}

// Query aggregates tracking state for one user. Inaccessible ids are
// dropped from the report, not raised: callers hand us id lists straight
// from possibly-stale client state.
type Query struct {
	store Store
}

func NewQuery(store Store) *Query {
	return &Query{store: store}
}

func (q *Query) Report(ctx context.Context, g guardian.Guardian, opts Options) (*Report, error) {
	report := NewReport()

	channelIDs := filterIDs(opts.ChannelIDs, g.CanSeeChannel)
	threadIDs := filterIDs(opts.ThreadIDs, g.CanSeeThread)

	if len(channelIDs) > 0 {
		rows, err := q.store.ChannelUnreads(ctx, g.UserID(), channelIDs, opts.IncludeRead)
		if err != nil {
			return nil, errs.Wrap(err, "channel unreads")
		}
		for i := range rows {
			row := rows[i]
			report.Channels[row.ChannelID] = &row
		}
		if opts.IncludeMissingMemberships {
			for _, id := range channelIDs {
				if report.Channels[id] == nil {
					report.Channels[id] = &ChannelTracking{ChannelID: id}
				}
			}
		}
	}

	if !opts.IncludeThreads {
		return report, nil
	}

	var threadRows []ThreadTracking
	if len(channelIDs) > 0 {
		rows, err := q.store.ThreadUnreadsByChannel(ctx, g.UserID(), channelIDs, opts.IncludeRead)
		if err != nil {
			return nil, errs.Wrap(err, "thread unreads by channel")
		}
		threadRows = append(threadRows, rows...)
	}
	if len(threadIDs) > 0 {
		rows, err := q.store.ThreadUnreadsByThread(ctx, g.UserID(), threadIDs, opts.IncludeRead)
		if err != nil {
			return nil, errs.Wrap(err, "thread unreads by thread")
		}
		threadRows = append(threadRows, rows...)
	}

	for i := range threadRows {
		row := threadRows[i]
		if report.Threads[row.ThreadID] == nil {
			report.Threads[row.ThreadID] = &row
		}
	}
	if opts.IncludeMissingMemberships {
		for _, id := range threadIDs {
			if report.Threads[id] == nil {
				report.Threads[id] = &ThreadTracking{ThreadID: id}
			}
		}
	}

	var overviewThreadIDs []int64
	for id, t := range report.Threads {
		if t.UnreadCount > 0 {
			overviewThreadIDs = append(overviewThreadIDs, id)
		}
	}
	sort.Slice(overviewThreadIDs, func(i, j int) bool {
		return overviewThreadIDs[i] < overviewThreadIDs[j]
	})

	var lastReplies map[int64]LastReply
	if opts.IncludeLastReplyDetails && len(overviewThreadIDs) > 0 {
		var err error
		lastReplies, err = q.store.LastReplies(ctx, overviewThreadIDs)
		if err != nil {
			return nil, errs.Wrap(err, "last replies")
		}
	}

	for _, id := range overviewThreadIDs {
		t := report.Threads[id]
		ov := ThreadOverview{ThreadID: id, UnreadCount: t.UnreadCount}
		if lr, ok := lastReplies[id]; ok {
			reply := lr
			ov.LastReply = &reply
		}
		report.ThreadsByChannel[t.ChannelID] = append(report.ThreadsByChannel[t.ChannelID], ov)
	}

	return report, nil
}

func filterIDs(ids []int64, allowed func(int64) bool) []int64 {
	var out []int64
	for _, id := range ids {
		if allowed(id) {
			out = append(out, id)
		}
	}
	return out
}
