package store

import (
	"context"
	"sort"
	"sync"

	chatmodel "chatbus/module/chat/model"
	"chatbus/tools/errs"
)

// Memory is an in-process store double with the same query surface as the
// Mongo-backed Store. Single-node setups and tests use it directly.
type Memory struct {
	mu          sync.RWMutex
	channels    map[int64]*chatmodel.Channel
	messages    map[int64]*chatmodel.Message
	threads     map[int64]*chatmodel.Thread
	memberships []chatmodel.UserChannelMembership
}

func NewMemory() *Memory {
	return &Memory{
		channels: map[int64]*chatmodel.Channel{},
		messages: map[int64]*chatmodel.Message{},
		threads:  map[int64]*chatmodel.Thread{},
	}
}

func (s *Memory) PutChannel(c *chatmodel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[c.ID] = c
}

func (s *Memory) PutMessage(m *chatmodel.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m
}

func (s *Memory) PutThread(t *chatmodel.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[t.ID] = t
}

func (s *Memory) PutMembership(m chatmodel.UserChannelMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, m)
}

func (s *Memory) sortedMessageIDs() []int64 {
	ids := make([]int64, 0, len(s.messages))
	for id := range s.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Memory) LatestNotDeletedChannelMessageID(ctx context.Context, channelID, anchorID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best int64
	for _, id := range s.sortedMessageIDs() {
		m := s.messages[id]
		if m.ChannelID != channelID || m.ID >= anchorID || m.Deleted() {
			continue
		}
		if m.ThreadReply() {
			continue
		}
		best = m.ID
	}
	return best, nil
}

func (s *Memory) LatestNotDeletedThreadMessageID(ctx context.Context, threadID, anchorID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best int64
	for _, id := range s.sortedMessageIDs() {
		m := s.messages[id]
		if m.ThreadID != threadID || m.ID >= anchorID || m.Deleted() {
			continue
		}
		best = m.ID
	}
	return best, nil
}

func (s *Memory) GroupedMessagesByThread(ctx context.Context, messageIDs []int64) ([]chatmodel.ThreadGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byThread := map[int64][]int64{}
	var order []int64
	sorted := append([]int64(nil), messageIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, id := range sorted {
		m, ok := s.messages[id]
		if !ok || m.ThreadID == 0 {
			continue
		}
		if _, seen := byThread[m.ThreadID]; !seen {
			order = append(order, m.ThreadID)
		}
		byThread[m.ThreadID] = append(byThread[m.ThreadID], id)
	}

	var groups []chatmodel.ThreadGroup
	for _, threadID := range order {
		th, ok := s.threads[threadID]
		if !ok {
			return nil, errs.ErrRecordNotFound.Wrapf("thread %d", threadID)
		}
		groups = append(groups, chatmodel.ThreadGroup{
			ThreadID:          threadID,
			OriginalMessageID: th.OriginalMessageID,
			MessageIDs:        byThread[threadID],
		})
	}
	return groups, nil
}

func (s *Memory) Thread(ctx context.Context, threadID int64) (*chatmodel.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.threads[threadID]
	if !ok {
		return nil, errs.ErrRecordNotFound.Wrapf("thread %d", threadID)
	}
	return th, nil
}

func (s *Memory) ThreadParticipants(ctx context.Context, threadID int64, limit int) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedMessageIDs()
	seen := map[int64]bool{}
	var out []int64
	for i := len(ids) - 1; i >= 0; i-- {
		m := s.messages[ids[i]]
		if m.ThreadID != threadID || m.Deleted() || seen[m.UserID] {
			continue
		}
		seen[m.UserID] = true
		out = append(out, m.UserID)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) MembershipsWithUsers(ctx context.Context, channelID int64, userIDs []int64) ([]chatmodel.UserChannelMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := map[int64]bool{}
	for _, id := range userIDs {
		want[id] = true
	}
	var out []chatmodel.UserChannelMembership
	for _, m := range s.memberships {
		if m.ChannelID == channelID && want[m.UserID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Memory) BumpLastMessageBusID(ctx context.Context, channelID, busID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[channelID]
	if !ok {
		return nil
	}
	if busID > c.LastMessageBusID {
		c.LastMessageBusID = busID
	}
	return nil
}
