package model

import (
	"time"

	"chatbus/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Message is a chat message. Immutable once published except for the
// edit/delete/restore transitions, each of which is its own publishable
// event.
type Message struct {
	ID        int64 `bson:"message_id" json:"id"`
	ChannelID int64 `bson:"channel_id" json:"chat_channel_id"`

	// ThreadID is zero for plain channel messages. ThreadOM marks the
	// thread's original message, which stays visible on the channel
	// timeline.
	ThreadID int64 `bson:"thread_id,omitempty" json:"thread_id,omitempty"`
	ThreadOM bool  `bson:"thread_om,omitempty" json:"-"`

	UserID   int64  `bson:"user_id" json:"user_id"`
	Username string `bson:"username" json:"username"`

	Message string `bson:"message" json:"message"`
	Cooked  string `bson:"cooked" json:"cooked"`
	Excerpt string `bson:"excerpt" json:"excerpt"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	EditedAt    *time.Time `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	DeletedAt   *time.Time `bson:"deleted_at,omitempty" json:"-"`
	DeletedByID int64      `bson:"deleted_by_id,omitempty" json:"-"`
}

func (m *Message) GetTableName() string {
	return "chat_message"
}

func (m *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// InThread reports whether the message belongs to a thread at all.
func (m *Message) InThread() bool {
	return m.ThreadID != 0
}

// ThreadReply reports whether the message is a thread reply, i.e. in a
// thread but not its original message.
func (m *Message) ThreadReply() bool {
	return m.InThread() && !m.ThreadOM
}

func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}
