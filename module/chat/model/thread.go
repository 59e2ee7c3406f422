package model

import (
	"time"

	"chatbus/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Thread groups reply messages under an original channel message. A thread
// only exists when threading is enabled on its channel, and always belongs
// to the same channel as its original message.
type Thread struct {
	ID                int64  `bson:"thread_id" json:"id"`
	ChannelID         int64  `bson:"channel_id" json:"channel_id"`
	OriginalMessageID int64  `bson:"original_message_id" json:"original_message_id"`
	Title             string `bson:"title,omitempty" json:"title,omitempty"`
	ReplyCount        int    `bson:"reply_count" json:"reply_count"`

	CreateTime time.Time `bson:"create_time" json:"-"`
}

func (t *Thread) GetTableName() string {
	return "chat_thread"
}

func (t *Thread) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(t.GetTableName())
}

// ThreadGroup is the partition of a set of message ids by owning thread,
// as returned by the grouped-messages query.
type ThreadGroup struct {
	ThreadID          int64
	OriginalMessageID int64
	MessageIDs        []int64
}
