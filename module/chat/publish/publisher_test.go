package publish

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"chatbus/guardian"
	chatmodel "chatbus/module/chat/model"
	"chatbus/module/chat/store"
	"chatbus/module/chat/tracking"
	"chatbus/service/bus"
	"chatbus/tools/errs"

	"go.uber.org/zap"
)

func sampleMessage(id, channelID, threadID int64, threadOM bool) *chatmodel.Message {
	return &chatmodel.Message{
		ID:        id,
		ChannelID: channelID,
		ThreadID:  threadID,
		ThreadOM:  threadOM,
		UserID:    5,
		Username:  "sam",
		Message:   "hello there",
		Cooked:    "<p>hello there</p>",
		Excerpt:   "hello there",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	bus       *bus.MemoryBus
	store     *store.Memory
	tracker   *tracking.Query
	trackMem  *tracking.MemoryStore
	publisher *Publisher
	channel   *chatmodel.Channel
}

func newFixture(t *testing.T, threadingEnabled bool) *fixture {
	t.Helper()
	mb := bus.NewMemoryBus()
	ms := store.NewMemory()
	tm := tracking.NewMemoryStore()
	tq := tracking.NewQuery(tm)

	channel := &chatmodel.Channel{
		ID:               1,
		Name:             "general",
		Status:           chatmodel.ChannelStatusOpen,
		ThreadingEnabled: threadingEnabled,
		AllowedUserIDs:   []int64{5, 6},
		AllowedGroupIDs:  []int64{20},
	}
	ms.PutChannel(channel)

	return &fixture{
		bus:       mb,
		store:     ms,
		tracker:   tq,
		trackMem:  tm,
		publisher: NewPublisher(mb, ms, tq, zap.NewNop()),
		channel:   channel,
	}
}

func TestPublishNewOrdering(t *testing.T) {
	f := newFixture(t, false)
	msg := sampleMessage(10, 1, 0, false)

	if err := f.publisher.PublishNew(context.Background(), f.channel, msg, "staged-1", 0); err != nil {
		t.Fatal(err)
	}

	records := f.bus.Records()
	if len(records) != 2 {
		t.Fatalf("got %d publishes, want 2", len(records))
	}
	// Broadcast first, compact notice second.
	if records[0].Topic != "/chat/1" {
		t.Fatalf("first topic = %q", records[0].Topic)
	}
	if records[1].Topic != "/chat/1/new-messages" {
		t.Fatalf("second topic = %q", records[1].Topic)
	}
	if records[0].Payload["type"] != "sent" {
		t.Fatalf("broadcast type = %v", records[0].Payload["type"])
	}
	if records[0].Payload["staged_id"] != "staged-1" {
		t.Fatalf("staged_id = %v", records[0].Payload["staged_id"])
	}
	if records[1].Payload["type"] != "channel" {
		t.Fatalf("notice type = %v", records[1].Payload["type"])
	}
	// Both scoped to channel permissions.
	for _, r := range records {
		if !reflect.DeepEqual(r.Audience.UserIDs, []int64{5, 6}) ||
			!reflect.DeepEqual(r.Audience.GroupIDs, []int64{20}) {
			t.Fatalf("audience = %+v", r.Audience)
		}
	}
}

func TestPublishNewBumpsChannelBusID(t *testing.T) {
	f := newFixture(t, false)
	msg := sampleMessage(10, 1, 0, false)

	if err := f.publisher.PublishNew(context.Background(), f.channel, msg, "s", 0); err != nil {
		t.Fatal(err)
	}
	if f.channel.LastMessageBusID == 0 {
		t.Fatal("channel bus id bookkeeping not advanced")
	}
}

func TestPublishNewThreadReply(t *testing.T) {
	f := newFixture(t, true)
	f.store.PutThread(&chatmodel.Thread{ID: 7, ChannelID: 1, OriginalMessageID: 9, ReplyCount: 3})
	f.store.PutMessage(sampleMessage(9, 1, 7, true))
	reply := sampleMessage(10, 1, 7, false)
	f.store.PutMessage(reply)

	if err := f.publisher.PublishNew(context.Background(), f.channel, reply, "staged-1", 0); err != nil {
		t.Fatal(err)
	}

	records := f.bus.Records()
	if len(records) != 3 {
		t.Fatalf("got %d publishes, want 3", len(records))
	}
	if records[0].Topic != "/chat/1/thread/7" {
		t.Fatalf("broadcast topic = %q", records[0].Topic)
	}
	if records[1].Topic != "/chat/1/new-messages" || records[1].Payload["type"] != "thread" {
		t.Fatalf("notice = %q %v", records[1].Topic, records[1].Payload["type"])
	}
	// Thread preview metadata lands last, on the root topic.
	if records[2].Topic != "/chat/1" || records[2].Payload["type"] != "update_thread_original_message" {
		t.Fatalf("metadata = %q %v", records[2].Topic, records[2].Payload["type"])
	}
	if records[2].Payload["original_message_id"] != float64(9) {
		t.Fatalf("original_message_id = %v", records[2].Payload["original_message_id"])
	}
}

func TestPublishDeleteThreadScopedAnchor(t *testing.T) {
	f := newFixture(t, true)
	f.store.PutThread(&chatmodel.Thread{ID: 7, ChannelID: 1, OriginalMessageID: 9})
	f.store.PutMessage(sampleMessage(9, 1, 7, true))
	f.store.PutMessage(sampleMessage(11, 1, 7, false))
	f.store.PutMessage(sampleMessage(12, 1, 0, false)) // channel message, must not win

	deletedAt := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	deleted := sampleMessage(13, 1, 7, false)
	deleted.DeletedAt = &deletedAt
	deleted.DeletedByID = 6

	if err := f.publisher.PublishDelete(context.Background(), f.channel, deleted); err != nil {
		t.Fatal(err)
	}

	records := f.bus.Records()
	if len(records) != 1 {
		t.Fatalf("got %d publishes, want 1", len(records))
	}
	p := records[0].Payload
	if p["type"] != "delete" || p["deleted_id"] != float64(13) || p["deleted_by_id"] != float64(6) {
		t.Fatalf("payload = %v", p)
	}
	// Anchor scoped to the thread: 11, not the newer channel message 12.
	if p["latest_not_deleted_message_id"] != float64(11) {
		t.Fatalf("anchor = %v", p["latest_not_deleted_message_id"])
	}
}

func TestPublishBulkDeleteThreadPartition(t *testing.T) {
	// Scenario: 3 deleted ids, 2 in thread T (one of them T's original
	// message), 1 standalone. Expect a thread event with both thread ids
	// and a channel event with the standalone id plus the original.
	f := newFixture(t, true)
	f.store.PutThread(&chatmodel.Thread{ID: 7, ChannelID: 1, OriginalMessageID: 100})
	f.store.PutMessage(sampleMessage(100, 1, 7, true))
	f.store.PutMessage(sampleMessage(101, 1, 7, false))
	f.store.PutMessage(sampleMessage(102, 1, 0, false))

	deletedAt := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	err := f.publisher.PublishBulkDelete(context.Background(), f.channel, []int64{100, 101, 102}, deletedAt)
	if err != nil {
		t.Fatal(err)
	}

	threadRecords := f.bus.TopicRecords("/chat/1/thread/7")
	if len(threadRecords) != 1 {
		t.Fatalf("thread publishes = %d, want 1", len(threadRecords))
	}
	if got := toInt64s(threadRecords[0].Payload["deleted_ids"]); !reflect.DeepEqual(got, []int64{100, 101}) {
		t.Fatalf("thread deleted_ids = %v", got)
	}

	channelRecords := f.bus.TopicRecords("/chat/1")
	if len(channelRecords) != 1 {
		t.Fatalf("channel publishes = %d, want 1", len(channelRecords))
	}
	if got := toInt64s(channelRecords[0].Payload["deleted_ids"]); !reflect.DeepEqual(got, []int64{100, 102}) {
		t.Fatalf("channel deleted_ids = %v", got)
	}
}

func TestPublishBulkDeleteSkipsChannelEvent(t *testing.T) {
	// Every deleted id is a thread reply; nothing is visible on the
	// channel timeline, so no channel-level event.
	f := newFixture(t, true)
	f.store.PutThread(&chatmodel.Thread{ID: 7, ChannelID: 1, OriginalMessageID: 100})
	f.store.PutMessage(sampleMessage(101, 1, 7, false))
	f.store.PutMessage(sampleMessage(103, 1, 7, false))

	deletedAt := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	err := f.publisher.PublishBulkDelete(context.Background(), f.channel, []int64{101, 103}, deletedAt)
	if err != nil {
		t.Fatal(err)
	}

	if n := len(f.bus.TopicRecords("/chat/1")); n != 0 {
		t.Fatalf("channel publishes = %d, want 0", n)
	}
	if n := len(f.bus.TopicRecords("/chat/1/thread/7")); n != 1 {
		t.Fatalf("thread publishes = %d, want 1", n)
	}
}

// conflictingGroupStore returns groupings that violate the
// one-owning-thread rule, which no healthy store can produce.
type conflictingGroupStore struct {
	*store.Memory
}

func (conflictingGroupStore) GroupedMessagesByThread(ctx context.Context, messageIDs []int64) ([]chatmodel.ThreadGroup, error) {
	return []chatmodel.ThreadGroup{
		{ThreadID: 7, OriginalMessageID: 100, MessageIDs: []int64{100, 101}},
		{ThreadID: 8, OriginalMessageID: 101, MessageIDs: []int64{101}},
	}, nil
}

func TestPublishBulkDeleteRejectsConflictingGroups(t *testing.T) {
	f := newFixture(t, true)
	p := NewPublisher(f.bus, conflictingGroupStore{f.store}, f.tracker, zap.NewNop())

	deletedAt := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	err := p.PublishBulkDelete(context.Background(), f.channel, []int64{100, 101}, deletedAt)
	if !errors.Is(err, errs.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	// The corrupt grouping must abort the publish before anything hits
	// the bus.
	if n := len(f.bus.Records()); n != 0 {
		t.Fatalf("published %d events despite conflicting groups", n)
	}
}

func TestPublishFlagAudiences(t *testing.T) {
	f := newFixture(t, false)
	msg := sampleMessage(10, 1, 0, false)

	if err := f.publisher.PublishFlag(context.Background(), f.channel, msg, 5, 77, "pending"); err != nil {
		t.Fatal(err)
	}

	records := f.bus.TopicRecords("/chat/1")
	if len(records) != 2 {
		t.Fatalf("got %d publishes, want 2", len(records))
	}

	self := records[0]
	if self.Payload["type"] != "self_flagged" {
		t.Fatalf("first event type = %v", self.Payload["type"])
	}
	if !reflect.DeepEqual(self.Audience.UserIDs, []int64{5}) || self.Audience.GroupIDs != nil {
		t.Fatalf("self audience = %+v", self.Audience)
	}

	staff := records[1]
	if staff.Payload["type"] != "flag" || staff.Payload["reviewable_id"] != float64(77) {
		t.Fatalf("staff event = %v", staff.Payload)
	}
	if !reflect.DeepEqual(staff.Audience.GroupIDs, []int64{StaffGroupID}) || staff.Audience.UserIDs != nil {
		t.Fatalf("staff audience = %+v", staff.Audience)
	}
}

func TestPublishPresenceNotImplemented(t *testing.T) {
	f := newFixture(t, false)
	err := f.publisher.PublishPresence(context.Background(), f.channel, 5, "typing")
	if !errors.Is(err, errs.ErrNotImplemented) {
		t.Fatalf("err = %v, want ErrNotImplemented", err)
	}
}

func TestPublishKickUsers(t *testing.T) {
	f := newFixture(t, false)
	if err := f.publisher.PublishKickUsers(context.Background(), 1, []int64{5, 6}); err != nil {
		t.Fatal(err)
	}
	records := f.bus.TopicRecords("/chat/1/kick")
	if len(records) != 1 {
		t.Fatalf("got %d publishes, want 1", len(records))
	}
	if !reflect.DeepEqual(records[0].Audience.UserIDs, []int64{5, 6}) {
		t.Fatalf("audience = %+v", records[0].Audience)
	}
	if records[0].Payload["channel_id"] != float64(1) {
		t.Fatalf("payload = %v", records[0].Payload)
	}
}

func TestPublishNewChannelFansOutPerRecipient(t *testing.T) {
	f := newFixture(t, false)
	f.store.PutMembership(chatmodel.UserChannelMembership{UserID: 5, ChannelID: 1, Following: true, LastReadMessageID: 3})
	f.store.PutMembership(chatmodel.UserChannelMembership{UserID: 6, ChannelID: 1, Following: true})

	if err := f.publisher.PublishNewChannel(context.Background(), f.channel, []int64{5, 6}); err != nil {
		t.Fatal(err)
	}

	records := f.bus.TopicRecords(NewChannelTopic)
	if len(records) != 2 {
		t.Fatalf("got %d publishes, want 2", len(records))
	}
	for i, want := range []int64{5, 6} {
		if !reflect.DeepEqual(records[i].Audience.UserIDs, []int64{want}) {
			t.Fatalf("record %d audience = %+v", i, records[i].Audience)
		}
	}
}

func TestPublishUserTrackingStateThreadReply(t *testing.T) {
	f := newFixture(t, true)
	f.store.PutThread(&chatmodel.Thread{ID: 7, ChannelID: 1, OriginalMessageID: 9})

	f.trackMem.Join(6, 1)
	f.trackMem.JoinThread(6, 7)
	f.trackMem.AddMessage(9, 1, 7, true, 5, "sam", "om", time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC))
	f.trackMem.AddMessage(10, 1, 7, false, 5, "sam", "reply", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	reply := sampleMessage(10, 1, 7, false)
	g := guardian.AllowAll(6)

	if err := f.publisher.PublishUserTrackingState(context.Background(), g, f.channel, reply); err != nil {
		t.Fatal(err)
	}

	records := f.bus.TopicRecords("/chat/user-tracking-state/6")
	if len(records) != 1 {
		t.Fatalf("got %d publishes, want 1", len(records))
	}
	r := records[0]
	if !reflect.DeepEqual(r.Audience.UserIDs, []int64{6}) {
		t.Fatalf("audience = %+v", r.Audience)
	}
	p := r.Payload
	if p["channel_id"] != float64(1) || p["thread_id"] != float64(7) {
		t.Fatalf("payload = %v", p)
	}
	if _, ok := p["unread_thread_overview"]; !ok {
		t.Fatalf("missing unread_thread_overview: %v", p)
	}
	if _, ok := p["thread_tracking"]; !ok {
		t.Fatalf("missing thread_tracking: %v", p)
	}
}

type failingTracker struct{}

func (failingTracker) Report(ctx context.Context, g guardian.Guardian, opts tracking.Options) (*tracking.Report, error) {
	return nil, errs.New("boom")
}

func TestPublishBulkUserTrackingStateFailsLoudly(t *testing.T) {
	f := newFixture(t, false)
	p := NewPublisher(f.bus, f.store, failingTracker{}, zap.NewNop())

	err := p.PublishBulkUserTrackingState(context.Background(), guardian.AllowAll(6),
		map[int64]map[string]any{1: {"last_read_message_id": int64(10)}})
	if !errors.Is(err, errs.ErrTrackingAggregate) {
		t.Fatalf("err = %v, want ErrTrackingAggregate", err)
	}
	if n := len(f.bus.Records()); n != 0 {
		t.Fatalf("published %d events despite aggregator failure", n)
	}
}

func TestPublishBulkUserTrackingStateMerges(t *testing.T) {
	f := newFixture(t, false)
	f.trackMem.Join(6, 1)
	f.trackMem.AddMessage(10, 1, 0, false, 5, "sam", "hi", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	err := f.publisher.PublishBulkUserTrackingState(context.Background(), guardian.AllowAll(6),
		map[int64]map[string]any{1: {"last_read_message_id": int64(4)}})
	if err != nil {
		t.Fatal(err)
	}

	records := f.bus.TopicRecords("/chat/bulk-user-tracking-state/6")
	if len(records) != 1 {
		t.Fatalf("got %d publishes, want 1", len(records))
	}
	entry, ok := records[0].Payload["1"].(map[string]any)
	if !ok {
		t.Fatalf("payload = %v", records[0].Payload)
	}
	if entry["last_read_message_id"] != float64(4) {
		t.Fatalf("caller field lost: %v", entry)
	}
	if entry["unread_count"] != float64(1) {
		t.Fatalf("unread_count = %v", entry["unread_count"])
	}
}

func toInt64s(v any) []int64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(raw))
	for _, x := range raw {
		out = append(out, int64(x.(float64)))
	}
	return out
}
