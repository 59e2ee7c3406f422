// Package store holds the persistence lookups the publish pipeline
// consumes. Channel, message and thread state is read-only here; the only
// write is the per-channel bus sequence bookkeeping.
package store

import (
	"context"

	chatmodel "chatbus/module/chat/model"
	"chatbus/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	ChannelColl    *mongo.Collection // chat_channel
	MsgColl        *mongo.Collection // chat_message
	ThreadColl     *mongo.Collection // chat_thread
	MembershipColl *mongo.Collection // user_chat_channel_membership
}

func NewStore() *Store {
	ch := chatmodel.Channel{}
	msg := chatmodel.Message{}
	th := chatmodel.Thread{}
	mem := chatmodel.UserChannelMembership{}
	return &Store{
		ChannelColl:    ch.Collection(),
		MsgColl:        msg.Collection(),
		ThreadColl:     th.Collection(),
		MembershipColl: mem.Collection(),
	}
}

// LatestNotDeletedChannelMessageID finds the newest surviving message on
// the channel timeline strictly before the anchor. Thread replies are not
// on the channel timeline, so they are excluded; thread originals are not.
func (s *Store) LatestNotDeletedChannelMessageID(ctx context.Context, channelID, anchorID int64) (int64, error) {
	filter := bson.M{
		"channel_id": channelID,
		"message_id": bson.M{"$lt": anchorID},
		"deleted_at": bson.M{"$exists": false},
		"$or": []bson.M{
			{"thread_id": bson.M{"$exists": false}},
			{"thread_id": 0},
			{"thread_om": true},
		},
	}
	return s.latestMessageID(ctx, filter)
}

// LatestNotDeletedThreadMessageID is the thread-scoped variant.
func (s *Store) LatestNotDeletedThreadMessageID(ctx context.Context, threadID, anchorID int64) (int64, error) {
	filter := bson.M{
		"thread_id":  threadID,
		"message_id": bson.M{"$lt": anchorID},
		"deleted_at": bson.M{"$exists": false},
	}
	return s.latestMessageID(ctx, filter)
}

func (s *Store) latestMessageID(ctx context.Context, filter bson.M) (int64, error) {
	cur, err := s.MsgColl.Find(ctx, filter,
		options.Find().SetSort(bson.M{"message_id": -1}).SetLimit(1).
			SetProjection(bson.M{"message_id": 1}))
	if err != nil {
		return 0, errs.Wrap(err, "latest message query")
	}
	defer func() { _ = cur.Close(ctx) }()
	if cur.Next(ctx) {
		var m chatmodel.Message
		if err := cur.Decode(&m); err != nil {
			return 0, errs.Wrap(err, "decode message")
		}
		return m.ID, nil
	}
	return 0, nil
}

// GroupedMessagesByThread partitions the given message ids by owning
// thread. Ids without a thread are left out of every group.
func (s *Store) GroupedMessagesByThread(ctx context.Context, messageIDs []int64) ([]chatmodel.ThreadGroup, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	cur, err := s.MsgColl.Find(ctx, bson.M{
		"message_id": bson.M{"$in": messageIDs},
		"thread_id":  bson.M{"$gt": 0},
	}, options.Find().SetProjection(bson.M{"message_id": 1, "thread_id": 1}).
		SetSort(bson.M{"message_id": 1}))
	if err != nil {
		return nil, errs.Wrap(err, "grouped messages query")
	}
	defer func() { _ = cur.Close(ctx) }()

	byThread := map[int64][]int64{}
	var order []int64
	for cur.Next(ctx) {
		var m chatmodel.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errs.Wrap(err, "decode message")
		}
		if _, seen := byThread[m.ThreadID]; !seen {
			order = append(order, m.ThreadID)
		}
		byThread[m.ThreadID] = append(byThread[m.ThreadID], m.ID)
	}

	var groups []chatmodel.ThreadGroup
	for _, threadID := range order {
		th, err := s.Thread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, chatmodel.ThreadGroup{
			ThreadID:          threadID,
			OriginalMessageID: th.OriginalMessageID,
			MessageIDs:        byThread[threadID],
		})
	}
	return groups, nil
}

func (s *Store) Thread(ctx context.Context, threadID int64) (*chatmodel.Thread, error) {
	var th chatmodel.Thread
	err := s.ThreadColl.FindOne(ctx, bson.M{"thread_id": threadID}).Decode(&th)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.Wrapf("thread %d", threadID)
	}
	if err != nil {
		return nil, errs.Wrap(err, "thread query")
	}
	return &th, nil
}

// ThreadParticipants returns the distinct authors of a thread's surviving
// messages, newest writers first, capped at limit.
func (s *Store) ThreadParticipants(ctx context.Context, threadID int64, limit int) ([]int64, error) {
	cur, err := s.MsgColl.Find(ctx, bson.M{
		"thread_id":  threadID,
		"deleted_at": bson.M{"$exists": false},
	}, options.Find().SetSort(bson.M{"message_id": -1}).
		SetProjection(bson.M{"user_id": 1}))
	if err != nil {
		return nil, errs.Wrap(err, "thread participants query")
	}
	defer func() { _ = cur.Close(ctx) }()

	seen := map[int64]bool{}
	var out []int64
	for cur.Next(ctx) {
		var m chatmodel.Message
		if err := cur.Decode(&m); err != nil {
			return nil, errs.Wrap(err, "decode message")
		}
		if seen[m.UserID] {
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

// MembershipsWithUsers batch-fetches the memberships of the given users in
// one channel.
func (s *Store) MembershipsWithUsers(ctx context.Context, channelID int64, userIDs []int64) ([]chatmodel.UserChannelMembership, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	cur, err := s.MembershipColl.Find(ctx, bson.M{
		"channel_id": channelID,
		"user_id":    bson.M{"$in": userIDs},
	})
	if err != nil {
		return nil, errs.Wrap(err, "memberships query")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []chatmodel.UserChannelMembership
	for cur.Next(ctx) {
		var m chatmodel.UserChannelMembership
		if err := cur.Decode(&m); err != nil {
			return nil, errs.Wrap(err, "decode membership")
		}
		out = append(out, m)
	}
	return out, nil
}

// BumpLastMessageBusID advances the channel's bus sequence bookkeeping.
func (s *Store) BumpLastMessageBusID(ctx context.Context, channelID, busID int64) error {
	ch := chatmodel.Channel{}
	_, err := ch.BumpLastMessageBusID(ctx, channelID, busID)
	return err
}
