package publish

import (
	"context"
	"strconv"
	"time"

	"chatbus/guardian"
	chatmodel "chatbus/module/chat/model"
	"chatbus/module/chat/tracking"
	"chatbus/service/bus"
	"chatbus/tools/errs"

	"go.uber.org/zap"
)

// Store is the slice of persisted chat state the publisher reads. All of it
// is owned by collaborators; the only write is the bus-sequence
// bookkeeping.
type Store interface {
	LatestNotDeletedChannelMessageID(ctx context.Context, channelID, anchorID int64) (int64, error)
	LatestNotDeletedThreadMessageID(ctx context.Context, threadID, anchorID int64) (int64, error)
	GroupedMessagesByThread(ctx context.Context, messageIDs []int64) ([]chatmodel.ThreadGroup, error)
	Thread(ctx context.Context, threadID int64) (*chatmodel.Thread, error)
	ThreadParticipants(ctx context.Context, threadID int64, limit int) ([]int64, error)
	MembershipsWithUsers(ctx context.Context, channelID int64, userIDs []int64) ([]chatmodel.UserChannelMembership, error)
	BumpLastMessageBusID(ctx context.Context, channelID, busID int64) error
}

// TrackingReporter aggregates per-user tracking state; see package
// tracking.
type TrackingReporter interface {
	Report(ctx context.Context, g guardian.Guardian, opts tracking.Options) (*tracking.Report, error)
}

// ChannelSerializer projects a channel for one recipient. Direct-message
// channel titles are recipient-relative, which is why new-channel events
// fan out per membership instead of broadcasting once.
type ChannelSerializer func(channel *chatmodel.Channel, membership *chatmodel.UserChannelMembership) map[string]any

func defaultChannelSerializer(channel *chatmodel.Channel, membership *chatmodel.UserChannelMembership) map[string]any {
	return map[string]any{
		"id":                channel.ID,
		"title":             channel.Name,
		"slug":              channel.Slug,
		"description":       channel.Description,
		"status":            channel.Status,
		"threading_enabled": channel.ThreadingEnabled,
		"memberships_count": channel.UserCount,
		"current_user_membership": map[string]any{
			"following":            membership.Following,
			"muted":                membership.Muted,
			"last_read_message_id": membership.LastReadMessageID,
		},
	}
}

// Publisher pushes chat events onto the bus. Every operation is
// fire-and-forget from the caller's side and idempotent from the bus's:
// duplicate delivery is expected under best-effort semantics and consumers
// de-duplicate by message id and version.
//
// Contract: the caller must have committed every relevant persisted write
// before invoking any operation here, or subscribers can receive an event
// before the data it references is queryable.
type Publisher struct {
	bus              bus.Bus
	store            Store
	tracker          TrackingReporter
	serializeChannel ChannelSerializer
	log              *zap.Logger
}

func NewPublisher(b bus.Bus, store Store, tracker TrackingReporter, log *zap.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		bus:              b,
		store:            store,
		tracker:          tracker,
		serializeChannel: defaultChannelSerializer,
		log:              log,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type Option func(*Publisher)

// WithChannelSerializer replaces the per-recipient channel projection.
func WithChannelSerializer(fn ChannelSerializer) Option {
	return func(p *Publisher) { p.serializeChannel = fn }
}

// publishToTargets pushes one payload to each target topic. aud nil means
// channel permissions. Root-topic publishes advance the channel's bus
// sequence bookkeeping.
func (p *Publisher) publishToTargets(ctx context.Context, targets []string, channel *chatmodel.Channel, payload map[string]any, aud *bus.Audience) error {
	if aud == nil {
		aud = Permissions(channel)
	}
	root := RootTopic(channel.ID)
	for _, topic := range targets {
		seq, err := p.bus.Publish(ctx, topic, payload, aud)
		if err != nil {
			return err
		}
		if topic == root {
			if err := p.store.BumpLastMessageBusID(ctx, channel.ID, seq); err != nil {
				return errs.Wrapf(err, "bump bus id for channel %d", channel.ID)
			}
		}
	}
	return nil
}

func (p *Publisher) publishToChannel(ctx context.Context, channel *chatmodel.Channel, payload map[string]any) error {
	return p.publishToTargets(ctx, []string{RootTopic(channel.ID)}, channel, payload, nil)
}

// PublishNew announces a freshly sent message. Order matters: the message
// broadcast lands before the compact new-message notice, which lands before
// the thread preview update, so subscribers never see an unread bump for a
// message they cannot fetch yet.
func (p *Publisher) PublishNew(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message, stagedID string, stagedThreadID int64) error {
	targets := ResolveTargets(channel, message, stagedThreadID)

	extra := map[string]any{"staged_id": stagedID}
	if stagedThreadID != 0 {
		extra["staged_thread_id"] = stagedThreadID
	}
	if err := p.publishToTargets(ctx, targets, channel, SerializeWithType(message, EventSent, extra), nil); err != nil {
		return err
	}

	threadReply := message.ThreadReply() && allowPublishToThread(channel)

	noticeType := EventChannelNotice
	if threadReply {
		noticeType = EventThreadNotice
	}
	notice := map[string]any{
		"type":       noticeType,
		"channel_id": channel.ID,
		"message":    SerializeMessage(message),
	}
	if message.ThreadID != 0 {
		notice["thread_id"] = message.ThreadID
	}
	if _, err := p.bus.Publish(ctx, NewMessagesTopic(channel.ID), notice, Permissions(channel)); err != nil {
		return err
	}

	if threadReply {
		thread, err := p.store.Thread(ctx, message.ThreadID)
		if err != nil {
			return err
		}
		return p.PublishThreadOriginalMessageMetadata(ctx, channel, thread)
	}
	return nil
}

// PublishThreadOriginalMessageMetadata refreshes the thread preview shown
// on the original message in the channel timeline.
func (p *Publisher) PublishThreadOriginalMessageMetadata(ctx context.Context, channel *chatmodel.Channel, thread *chatmodel.Thread) error {
	participants, err := p.store.ThreadParticipants(ctx, thread.ID, 10)
	if err != nil {
		return err
	}
	return p.publishToChannel(ctx, channel, map[string]any{
		"type":                EventUpdateThreadOM,
		"original_message_id": thread.OriginalMessageID,
		"preview": map[string]any{
			"reply_count":          thread.ReplyCount,
			"participant_user_ids": participants,
		},
	})
}

// PublishThreadCreated announces a new thread on the root channel.
func (p *Publisher) PublishThreadCreated(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message, threadID, stagedThreadID int64) error {
	extra := map[string]any{"thread_id": threadID}
	if stagedThreadID != 0 {
		extra["staged_thread_id"] = stagedThreadID
	}
	return p.publishToChannel(ctx, channel, SerializeWithType(message, EventThreadCreated, extra))
}

// PublishProcessed pushes the re-rendered body after background cooking.
func (p *Publisher) PublishProcessed(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message) error {
	targets := ResolveTargets(channel, message, 0)
	return p.publishToTargets(ctx, targets, channel, map[string]any{
		"type": EventProcessed,
		"chat_message": map[string]any{
			"id":     message.ID,
			"cooked": message.Cooked,
		},
	}, nil)
}

func (p *Publisher) PublishEdit(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message) error {
	targets := ResolveTargets(channel, message, 0)
	return p.publishToTargets(ctx, targets, channel, SerializeWithType(message, EventEdit, nil), nil)
}

func (p *Publisher) PublishRefresh(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message) error {
	targets := ResolveTargets(channel, message, 0)
	return p.publishToTargets(ctx, targets, channel, SerializeWithType(message, EventRefresh, nil), nil)
}

func (p *Publisher) PublishRestore(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message) error {
	targets := ResolveTargets(channel, message, 0)
	return p.publishToTargets(ctx, targets, channel, SerializeWithType(message, EventRestore, nil), nil)
}

func (p *Publisher) PublishReaction(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message, action string, user BasicUser, emoji string) error {
	targets := ResolveTargets(channel, message, 0)
	return p.publishToTargets(ctx, targets, channel, map[string]any{
		"type":            EventReaction,
		"action":          action,
		"user":            map[string]any{"id": user.ID, "username": user.Username},
		"emoji":           emoji,
		"chat_message_id": message.ID,
	}, nil)
}

// PublishPresence is deliberately unimplemented; presence travels over its
// own channel outside this pipeline. Calling it is a contract error.
func (p *Publisher) PublishPresence(ctx context.Context, channel *chatmodel.Channel, userID int64, typ string) error {
	return errs.ErrNotImplemented.Wrapf("publish presence channel=%d", channel.ID)
}

// PublishDelete announces a single deletion along with the latest surviving
// message id, so clients can re-anchor their view. The anchor is
// thread-scoped when the deleted message was a thread reply on a
// threading-enabled channel.
func (p *Publisher) PublishDelete(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message) error {
	targets := ResolveTargets(channel, message, 0)

	var anchorID int64
	var err error
	if message.ThreadReply() && channel.ThreadingEnabled {
		anchorID, err = p.store.LatestNotDeletedThreadMessageID(ctx, message.ThreadID, message.ID)
	} else {
		anchorID, err = p.store.LatestNotDeletedChannelMessageID(ctx, channel.ID, message.ID)
	}
	if err != nil {
		return err
	}

	payload := map[string]any{
		"type":                          EventDelete,
		"deleted_id":                    message.ID,
		"deleted_by_id":                 message.DeletedByID,
		"latest_not_deleted_message_id": anchorID,
	}
	if message.DeletedAt != nil {
		payload["deleted_at"] = message.DeletedAt.UTC().Format(time.RFC3339)
	}
	return p.publishToTargets(ctx, targets, channel, payload, nil)
}

// PublishBulkDelete partitions the deleted ids by owning thread, publishes
// one bulk_delete per thread topic, then one channel-level event carrying
// the directly-channel-scoped ids plus each thread's original message id
// (visible on the channel timeline). The channel event is skipped when
// nothing remains for it.
func (p *Publisher) PublishBulkDelete(ctx context.Context, channel *chatmodel.Channel, deletedIDs []int64, deletedAt time.Time) error {
	groups, err := p.store.GroupedMessagesByThread(ctx, deletedIDs)
	if err != nil {
		return err
	}

	// Each message id must map to at most one thread; the data model
	// guarantees it, and a violation here would double-count ids below.
	owner := map[int64]int64{}
	for _, g := range groups {
		for _, id := range g.MessageIDs {
			if prev, ok := owner[id]; ok && prev != g.ThreadID {
				return errs.ErrInvariantViolation.Wrapf(
					"message %d grouped under threads %d and %d", id, prev, g.ThreadID)
			}
			owner[id] = g.ThreadID
		}
	}

	deletedAtStr := deletedAt.UTC().Format(time.RFC3339)
	channelPerms := Permissions(channel)

	remaining := append([]int64(nil), deletedIDs...)
	for _, g := range groups {
		if _, err := p.bus.Publish(ctx, ThreadTopic(channel.ID, g.ThreadID), map[string]any{
			"type":        EventBulkDelete,
			"deleted_ids": g.MessageIDs,
			"deleted_at":  deletedAtStr,
		}, channelPerms); err != nil {
			return err
		}

		// The thread topic covered these; keep only the original message
		// id, which also shows on the channel timeline.
		remaining = subtractExcept(remaining, g.MessageIDs, g.OriginalMessageID)
	}

	if len(remaining) == 0 {
		return nil
	}
	return p.publishToChannel(ctx, channel, map[string]any{
		"type":        EventBulkDelete,
		"deleted_ids": remaining,
		"deleted_at":  deletedAtStr,
	})
}

// subtractExcept removes drop from ids, keeping keep even if present in
// drop.
func subtractExcept(ids, drop []int64, keep int64) []int64 {
	dropSet := map[int64]bool{}
	for _, id := range drop {
		if id != keep {
			dropSet[id] = true
		}
	}
	var out []int64
	for _, id := range ids {
		if !dropSet[id] {
			out = append(out, id)
		}
	}
	return out
}

// PublishFlag tells the flagging user their flag landed and tells staff
// there is something to review. Same targets, two audiences: the flagger
// gets their own status, staff get the reviewable reference.
func (p *Publisher) PublishFlag(ctx context.Context, channel *chatmodel.Channel, message *chatmodel.Message, flaggerID int64, reviewableID int64, flagStatus string) error {
	targets := ResolveTargets(channel, message, 0)

	if err := p.publishToTargets(ctx, targets, channel, map[string]any{
		"type":             EventSelfFlagged,
		"user_flag_status": flagStatus,
		"chat_message_id":  message.ID,
	}, bus.Users(flaggerID)); err != nil {
		return err
	}

	return p.publishToTargets(ctx, targets, channel, map[string]any{
		"type":            EventFlag,
		"chat_message_id": message.ID,
		"reviewable_id":   reviewableID,
	}, bus.Groups(StaffGroupID))
}

// PublishUserTrackingState pushes one user's tracking snapshot for one
// channel to their private topic, with thread detail when the triggering
// message was a thread reply on a threading-enabled channel.
func (p *Publisher) PublishUserTrackingState(ctx context.Context, g guardian.Guardian, channel *chatmodel.Channel, message *chatmodel.Message) error {
	data := map[string]any{
		"channel_id":           channel.ID,
		"last_read_message_id": message.ID,
	}
	if message.ThreadID != 0 {
		data["thread_id"] = message.ThreadID
	}

	report, err := p.tracker.Report(ctx, g, tracking.Options{
		ChannelIDs:                []int64{channel.ID},
		IncludeRead:               true,
		IncludeMissingMemberships: true,
	})
	if err != nil {
		return errs.Wrapf(err, "tracking state for user %d channel %d", g.UserID(), channel.ID)
	}
	if ct := report.FindChannel(channel.ID); ct != nil {
		data["unread_count"] = ct.UnreadCount
		data["mention_count"] = ct.MentionCount
	}

	if channel.ThreadingEnabled && message.ThreadReply() {
		overviewReport, err := p.tracker.Report(ctx, g, tracking.Options{
			ChannelIDs:              []int64{channel.ID},
			IncludeThreads:          true,
			IncludeRead:             false,
			IncludeLastReplyDetails: true,
		})
		if err != nil {
			return errs.Wrapf(err, "thread overview for user %d channel %d", g.UserID(), channel.ID)
		}
		data["unread_thread_overview"] = overviewReport.FindChannelThreadOverviews(channel.ID)

		threadReport, err := p.tracker.Report(ctx, g, tracking.Options{
			ThreadIDs:                 []int64{message.ThreadID},
			IncludeThreads:            true,
			IncludeRead:               true,
			IncludeMissingMemberships: true,
		})
		if err != nil {
			return errs.Wrapf(err, "thread tracking for user %d thread %d", g.UserID(), message.ThreadID)
		}
		data["thread_tracking"] = threadReport.FindThread(message.ThreadID)
	}

	_, err = p.bus.Publish(ctx, UserTrackingStateTopic(g.UserID()), data, bus.Users(g.UserID()))
	return err
}

// PublishBulkUserTrackingState merges tracking state for many channels into
// the caller-supplied per-channel map and publishes once. One aggregator
// call covers every channel, avoiding N+1 queries. Aggregation failure is
// fatal: a silently wrong unread count is worse than no publish.
func (p *Publisher) PublishBulkUserTrackingState(ctx context.Context, g guardian.Guardian, lastReadByChannel map[int64]map[string]any) error {
	channelIDs := make([]int64, 0, len(lastReadByChannel))
	for id := range lastReadByChannel {
		channelIDs = append(channelIDs, id)
	}

	report, err := p.tracker.Report(ctx, g, tracking.Options{
		ChannelIDs:                channelIDs,
		IncludeRead:               true,
		IncludeMissingMemberships: true,
	})
	if err != nil {
		return errs.ErrTrackingAggregate.Wrapf(
			"user_id=%d channel_ids=%v: %v", g.UserID(), channelIDs, err)
	}

	payload := make(map[string]any, len(lastReadByChannel))
	for id, entry := range lastReadByChannel {
		merged := make(map[string]any, len(entry)+2)
		for k, v := range entry {
			merged[k] = v
		}
		if ct := report.FindChannel(id); ct != nil {
			merged["unread_count"] = ct.UnreadCount
			merged["mention_count"] = ct.MentionCount
		}
		payload[strconv.FormatInt(id, 10)] = merged
	}

	_, err = p.bus.Publish(ctx, BulkUserTrackingStateTopic(g.UserID()), payload, bus.Users(g.UserID()))
	return err
}

// PublishNewMention points one user at a message that mentioned them.
func (p *Publisher) PublishNewMention(ctx context.Context, userID, channelID, messageID int64) error {
	_, err := p.bus.Publish(ctx, NewMentionsTopic(channelID), map[string]any{
		"message_id": messageID,
		"channel_id": channelID,
	}, bus.Users(userID))
	return err
}

// MentionWarning lists the mentions in a message that will not notify
// anyone and why. Delivered only to the message author.
type MentionWarning struct {
	CannotSee         []BasicUser
	WithoutMembership []BasicUser
	TooManyMembers    []string
	MentionsDisabled  []string
}

func (p *Publisher) PublishInaccessibleMentions(ctx context.Context, userID int64, message *chatmodel.Message, warning MentionWarning) error {
	_, err := p.bus.Publish(ctx, RootTopic(message.ChannelID), map[string]any{
		"type":                         EventMentionWarning,
		"chat_message_id":              message.ID,
		"cannot_see":                   basicUsers(warning.CannotSee),
		"without_membership":           basicUsers(warning.WithoutMembership),
		"groups_with_too_many_members": warning.TooManyMembers,
		"group_mentions_disabled":      warning.MentionsDisabled,
	}, bus.Users(userID))
	return err
}

func basicUsers(users []BasicUser) []map[string]any {
	out := make([]map[string]any, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]any{"id": u.ID, "username": u.Username})
	}
	return out
}

// PublishNewChannel fans a channel announcement out per recipient, because
// the serialized payload is recipient-dependent.
func (p *Publisher) PublishNewChannel(ctx context.Context, channel *chatmodel.Channel, userIDs []int64) error {
	memberships, err := p.store.MembershipsWithUsers(ctx, channel.ID, userIDs)
	if err != nil {
		return err
	}
	for i := range memberships {
		m := memberships[i]
		payload := map[string]any{"channel": p.serializeChannel(channel, &m)}
		if _, err := p.bus.Publish(ctx, NewChannelTopic, payload, bus.Users(m.UserID)); err != nil {
			return err
		}
	}
	return nil
}

// PublishKickUsers force-disconnects the given users from a channel's
// real-time subscription.
func (p *Publisher) PublishKickUsers(ctx context.Context, channelID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := p.bus.Publish(ctx, KickTopic(channelID), map[string]any{
		"channel_id": channelID,
	}, &bus.Audience{UserIDs: userIDs})
	return err
}

// PublishNotice sends a transient text notice to a single user on the
// channel topic.
func (p *Publisher) PublishNotice(ctx context.Context, userID, channelID int64, textContent string) error {
	_, err := p.bus.Publish(ctx, RootTopic(channelID), map[string]any{
		"type":         EventNotice,
		"text_content": textContent,
		"channel_id":   channelID,
	}, bus.Users(userID))
	return err
}
