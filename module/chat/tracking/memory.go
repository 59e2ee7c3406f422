package tracking

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process tracking read-model, the test double for
// PgStore. Counts are derived from the recorded messages on every query,
// matching the cache-of-a-query contract.
type MemoryStore struct {
	mu sync.RWMutex

	// message facts
	messages []memMessage
	mentions map[int64][]int64 // message id -> mentioned user ids

	channelReads map[[2]int64]int64 // (user, channel) -> last read message id
	threadReads  map[[2]int64]int64 // (user, thread) -> last read message id
	channelOf    map[int64]int64    // thread id -> channel id
}

type memMessage struct {
	ID        int64
	ChannelID int64
	ThreadID  int64
	ThreadOM  bool
	UserID    int64
	Username  string
	Excerpt   string
	CreatedAt time.Time
	Deleted   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mentions:     map[int64][]int64{},
		channelReads: map[[2]int64]int64{},
		threadReads:  map[[2]int64]int64{},
		channelOf:    map[int64]int64{},
	}
}

// AddMessage records a message fact. threadOM marks thread originals, which
// count toward the channel timeline rather than the thread.
func (s *MemoryStore) AddMessage(id, channelID, threadID int64, threadOM bool, userID int64, username, excerpt string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, memMessage{
		ID: id, ChannelID: channelID, ThreadID: threadID, ThreadOM: threadOM,
		UserID: userID, Username: username, Excerpt: excerpt, CreatedAt: createdAt,
	})
	if threadID != 0 {
		s.channelOf[threadID] = channelID
	}
}

func (s *MemoryStore) DeleteMessage(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Deleted = true
		}
	}
}

func (s *MemoryStore) AddMention(messageID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mentions[messageID] = append(s.mentions[messageID], userID)
}

// Join creates a channel membership with a zero read pointer.
func (s *MemoryStore) Join(userID, channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, channelID}
	if _, ok := s.channelReads[key]; !ok {
		s.channelReads[key] = 0
	}
}

// JoinThread creates a thread membership with a zero read pointer. Thread
// unread queries only report threads the user is a member of.
func (s *MemoryStore) JoinThread(userID, threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, threadID}
	if _, ok := s.threadReads[key]; !ok {
		s.threadReads[key] = 0
	}
}

// MarkRead advances the channel read pointer, never backwards.
func (s *MemoryStore) MarkRead(ctx context.Context, userID, channelID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, channelID}
	if messageID > s.channelReads[key] {
		s.channelReads[key] = messageID
	}
	return nil
}

func (s *MemoryStore) MarkThreadRead(ctx context.Context, userID, threadID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{userID, threadID}
	if messageID > s.threadReads[key] {
		s.threadReads[key] = messageID
	}
	return nil
}

// ResetMembership is the sanctioned fresh start on channel re-join.
func (s *MemoryStore) ResetMembership(ctx context.Context, userID, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channelReads[[2]int64{userID, channelID}] = 0
	return nil
}

func (s *MemoryStore) mentioned(messageID, userID int64) bool {
	for _, id := range s.mentions[messageID] {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) ChannelUnreads(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ChannelTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ChannelTracking
	for _, channelID := range channelIDs {
		key := [2]int64{userID, channelID}
		lastRead, ok := s.channelReads[key]
		if !ok {
			continue // no membership
		}
		t := ChannelTracking{ChannelID: channelID, LastReadMessageID: lastRead}
		for _, m := range s.messages {
			if m.ChannelID != channelID || m.Deleted || m.ID <= lastRead || m.UserID == userID {
				continue
			}
			if m.ThreadID != 0 && !m.ThreadOM {
				continue // thread replies don't count toward the channel
			}
			t.UnreadCount++
			if s.mentioned(m.ID, userID) {
				t.MentionCount++
			}
		}
		if !includeRead && t.UnreadCount == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) threadTracking(userID, threadID int64) ThreadTracking {
	lastRead := s.threadReads[[2]int64{userID, threadID}]
	t := ThreadTracking{
		ThreadID:          threadID,
		ChannelID:         s.channelOf[threadID],
		LastReadMessageID: lastRead,
	}
	for _, m := range s.messages {
		if m.ThreadID != threadID || m.ThreadOM || m.Deleted || m.ID <= lastRead || m.UserID == userID {
			continue
		}
		t.UnreadCount++
		if s.mentioned(m.ID, userID) {
			t.MentionCount++
		}
	}
	return t
}

func (s *MemoryStore) ThreadUnreadsByChannel(ctx context.Context, userID int64, channelIDs []int64, includeRead bool) ([]ThreadTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := map[int64]bool{}
	for _, id := range channelIDs {
		want[id] = true
	}
	// Membership-scoped: only threads the user has a read pointer for.
	var threadIDs []int64
	for key := range s.threadReads {
		if key[0] != userID {
			continue
		}
		if want[s.channelOf[key[1]]] {
			threadIDs = append(threadIDs, key[1])
		}
	}
	sort.Slice(threadIDs, func(i, j int) bool { return threadIDs[i] < threadIDs[j] })

	var out []ThreadTracking
	for _, threadID := range threadIDs {
		t := s.threadTracking(userID, threadID)
		if !includeRead && t.UnreadCount == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) ThreadUnreadsByThread(ctx context.Context, userID int64, threadIDs []int64, includeRead bool) ([]ThreadTracking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ThreadTracking
	for _, threadID := range threadIDs {
		if _, ok := s.threadReads[[2]int64{userID, threadID}]; !ok {
			continue
		}
		t := s.threadTracking(userID, threadID)
		if !includeRead && t.UnreadCount == 0 {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MemoryStore) LastReplies(ctx context.Context, threadIDs []int64) (map[int64]LastReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[int64]LastReply{}
	for _, threadID := range threadIDs {
		var best *memMessage
		for i := range s.messages {
			m := &s.messages[i]
			if m.ThreadID != threadID || m.ThreadOM || m.Deleted {
				continue
			}
			if best == nil || m.ID > best.ID {
				best = m
			}
		}
		if best != nil {
			out[threadID] = LastReply{
				MessageID: best.ID,
				UserID:    best.UserID,
				Username:  best.Username,
				Excerpt:   best.Excerpt,
				CreatedAt: best.CreatedAt,
			}
		}
	}
	return out, nil
}
