package tracking

import (
	"context"
	"fmt"

	"chatbus/tools/errs"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore runs the tracking read-model queries against Postgres. Counts are
// computed from the message table relative to the membership's last-read
// pointer on every call; nothing here is an incrementing counter.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, url string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errs.Wrap(err, "pg connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, "pg ping")
	}
	return &PgStore{pool: pool}, nil
}

func NewPgStoreFromPool(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Close() {
	s.pool.Close()
}

const channelUnreadsSQL = `
SELECT mem.channel_id,
       mem.last_read_message_id,
       COUNT(m.message_id) AS unread_count,
       COUNT(m.message_id) FILTER (WHERE men.user_id IS NOT NULL) AS mention_count
FROM user_chat_channel_memberships mem
LEFT JOIN chat_messages m
       ON m.channel_id = mem.channel_id
      AND m.message_id > mem.last_read_message_id
      AND m.deleted_at IS NULL
      AND m.user_id <> mem.user_id
      AND (m.thread_id IS NULL OR m.thread_om)
LEFT JOIN chat_mentions men
       ON men.message_id = m.message_id
      AND men.user_id = mem.user_id
WHERE mem.user_id = $1
  AND mem.channel_id = ANY($2)
  AND mem.following
GROUP BY mem.channel_id, mem.last_read_message_id`

func (s *PgStore) ChannelUnreads(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ChannelTracking, error) {
	sql := channelUnreadsSQL
	if !includeRead {
		sql += "\nHAVING COUNT(m.message_id) > 0"
	}
	rows, err := s.pool.Query(ctx, sql, userID, channelIDs)
	if err != nil {
		return nil, errs.Wrap(err, "channel unreads query")
	}
	defer rows.Close()

	var out []ChannelTracking
	for rows.Next() {
		var t ChannelTracking
		if err := rows.Scan(&t.ChannelID, &t.LastReadMessageID, &t.UnreadCount, &t.MentionCount); err != nil {
			return nil, errs.Wrap(err, "scan channel unreads")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const threadUnreadsSQL = `
SELECT tm.thread_id,
       t.channel_id,
       tm.last_read_message_id,
       COUNT(m.message_id) AS unread_count,
       COUNT(m.message_id) FILTER (WHERE men.user_id IS NOT NULL) AS mention_count
FROM user_chat_thread_memberships tm
JOIN chat_threads t ON t.thread_id = tm.thread_id
LEFT JOIN chat_messages m
       ON m.thread_id = tm.thread_id
      AND NOT m.thread_om
      AND m.message_id > tm.last_read_message_id
      AND m.deleted_at IS NULL
      AND m.user_id <> tm.user_id
LEFT JOIN chat_mentions men
       ON men.message_id = m.message_id
      AND men.user_id = tm.user_id
WHERE tm.user_id = $1
  AND %s = ANY($2)
GROUP BY tm.thread_id, t.channel_id, tm.last_read_message_id`

func (s *PgStore) threadUnreads(ctx context.Context, userID int64, scopeCol string, ids []int64, includeRead bool) ([]ThreadTracking, error) {
	sql := threadUnreadsSQL
	if !includeRead {
		sql += "\nHAVING COUNT(m.message_id) > 0"
	}
	// scopeCol is one of two fixed identifiers, never user input.
	rows, err := s.pool.Query(ctx, fmt.Sprintf(sql, scopeCol), userID, ids)
	if err != nil {
		return nil, errs.Wrap(err, "thread unreads query")
	}
	defer rows.Close()

	var out []ThreadTracking
	for rows.Next() {
		var t ThreadTracking
		if err := rows.Scan(&t.ThreadID, &t.ChannelID, &t.LastReadMessageID, &t.UnreadCount, &t.MentionCount); err != nil {
			return nil, errs.Wrap(err, "scan thread unreads")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PgStore) ThreadUnreadsByChannel(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ThreadTracking, error) {
	return s.threadUnreads(ctx, userID, "t.channel_id", channelIDs, includeRead)
}

func (s *PgStore) ThreadUnreadsByThread(ctx context.Context, userID int64, threadIDs []int64, includeRead bool) ([]ThreadTracking, error) {
	return s.threadUnreads(ctx, userID, "tm.thread_id", threadIDs, includeRead)
}

const lastRepliesSQL = `
SELECT DISTINCT ON (m.thread_id)
       m.thread_id, m.message_id, m.user_id, m.username, m.excerpt, m.created_at
FROM chat_messages m
WHERE m.thread_id = ANY($1)
  AND NOT m.thread_om
  AND m.deleted_at IS NULL
ORDER BY m.thread_id, m.message_id DESC`

func (s *PgStore) LastReplies(ctx context.Context, threadIDs []int64) (map[int64]LastReply, error) {
	rows, err := s.pool.Query(ctx, lastRepliesSQL, threadIDs)
	if err != nil {
		return nil, errs.Wrap(err, "last replies query")
	}
	defer rows.Close()

	out := map[int64]LastReply{}
	for rows.Next() {
		var threadID int64
		var lr LastReply
		if err := rows.Scan(&threadID, &lr.MessageID, &lr.UserID, &lr.Username, &lr.Excerpt, &lr.CreatedAt); err != nil {
			return nil, errs.Wrap(err, "scan last reply")
		}
		out[threadID] = lr
	}
	return out, rows.Err()
}

// MarkRead advances a channel membership's read pointer, never backwards.
func (s *PgStore) MarkRead(ctx context.Context, userID, channelID, messageID int64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE user_chat_channel_memberships
SET last_read_message_id = GREATEST(last_read_message_id, $3)
WHERE user_id = $1 AND channel_id = $2`, userID, channelID, messageID)
	return errs.Wrap(err, "mark read")
}

// MarkThreadRead is the thread-scoped variant.
func (s *PgStore) MarkThreadRead(ctx context.Context, userID, threadID, messageID int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_chat_thread_memberships (user_id, thread_id, last_read_message_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, thread_id)
DO UPDATE SET last_read_message_id = GREATEST(user_chat_thread_memberships.last_read_message_id, EXCLUDED.last_read_message_id)`,
		userID, threadID, messageID)
	return errs.Wrap(err, "mark thread read")
}

// ResetMembership clears the read pointer on channel re-join. This is an
// explicit fresh start, the one sanctioned decrease of the pointer.
func (s *PgStore) ResetMembership(ctx context.Context, userID, channelID int64) error {
	_, err := s.pool.Exec(ctx, `
UPDATE user_chat_channel_memberships
SET last_read_message_id = 0
WHERE user_id = $1 AND channel_id = $2`, userID, channelID)
	return errs.Wrap(err, "reset membership")
}

