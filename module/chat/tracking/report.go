// Package tracking computes per-user unread state. Tracking state is a
// cache of a query over the message and membership tables, never
// independently incremented storage, so counts cannot drift negative.
package tracking

import "time"

// ChannelTracking is one user's unread state for one channel.
type ChannelTracking struct {
	ChannelID         int64 `json:"channel_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
	UnreadCount       int64 `json:"unread_count"`
	MentionCount      int64 `json:"mention_count"`
}

// ThreadTracking is the thread-scoped variant.
type ThreadTracking struct {
	ThreadID          int64 `json:"thread_id"`
	ChannelID         int64 `json:"channel_id"`
	LastReadMessageID int64 `json:"last_read_message_id"`
	UnreadCount       int64 `json:"unread_count"`
	MentionCount      int64 `json:"mention_count"`
}

// LastReply summarizes a thread's most recent surviving reply for preview
// rendering.
type LastReply struct {
	MessageID int64     `json:"message_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Excerpt   string    `json:"excerpt"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadOverview is one row of a channel's unread-threads overview.
type ThreadOverview struct {
	ThreadID    int64      `json:"thread_id"`
	UnreadCount int64      `json:"unread_count"`
	LastReply   *LastReply `json:"last_reply,omitempty"`
}

// Report is the aggregator's result. Lookups return nil or empty when an
// entry is absent; absence is how inaccessible ids surface, never an error.
type Report struct {
	Channels         map[int64]*ChannelTracking
	Threads          map[int64]*ThreadTracking
	ThreadsByChannel map[int64][]ThreadOverview
}

func NewReport() *Report {
	return &Report{
		Channels:         map[int64]*ChannelTracking{},
		Threads:          map[int64]*ThreadTracking{},
		ThreadsByChannel: map[int64][]ThreadOverview{},
	}
}

func (r *Report) FindChannel(channelID int64) *ChannelTracking {
	return r.Channels[channelID]
}

func (r *Report) FindThread(threadID int64) *ThreadTracking {
	return r.Threads[threadID]
}

func (r *Report) FindChannelThreadOverviews(channelID int64) []ThreadOverview {
	return r.ThreadsByChannel[channelID]
}
