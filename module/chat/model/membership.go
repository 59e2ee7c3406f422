package model

import (
	"chatbus/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// UserChannelMembership carries a user's per-channel read pointer. The
// unread counters are never stored on it; they are always derived from the
// message table against LastReadMessageID.
type UserChannelMembership struct {
	UserID            int64  `bson:"user_id" json:"user_id"`
	Username          string `bson:"username" json:"-"`
	ChannelID         int64  `bson:"channel_id" json:"channel_id"`
	LastReadMessageID int64  `bson:"last_read_message_id" json:"last_read_message_id"`
	Following         bool   `bson:"following" json:"following"`
	Muted             bool   `bson:"muted" json:"muted"`
}

func (m *UserChannelMembership) GetTableName() string {
	return "user_chat_channel_membership"
}

func (m *UserChannelMembership) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// UserThreadMembership is the thread-scoped read pointer, present only for
// threads the user has interacted with.
type UserThreadMembership struct {
	UserID            int64 `bson:"user_id" json:"user_id"`
	ThreadID          int64 `bson:"thread_id" json:"thread_id"`
	LastReadMessageID int64 `bson:"last_read_message_id" json:"last_read_message_id"`
}

func (m *UserThreadMembership) GetTableName() string {
	return "user_chat_thread_membership"
}

func (m *UserThreadMembership) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}
