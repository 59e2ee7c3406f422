package model

import (
	"context"
	"time"

	"chatbus/service/mgo"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ChannelStatus string

const (
	ChannelStatusOpen     ChannelStatus = "open"
	ChannelStatusReadOnly ChannelStatus = "read_only"
	ChannelStatusClosed   ChannelStatus = "closed"
	ChannelStatusArchived ChannelStatus = "archived"
)

// Channel is a chat channel. The publish pipeline reads it and only ever
// writes the last-message-bus-id bookkeeping.
type Channel struct {
	ID               int64         `bson:"channel_id" json:"id"`
	Name             string        `bson:"name" json:"name"`
	Slug             string        `bson:"slug" json:"slug"`
	Description      string        `bson:"description" json:"description"`
	Status           ChannelStatus `bson:"status" json:"status"`
	ThreadingEnabled bool          `bson:"threading_enabled" json:"threading_enabled"`
	DirectMessage    bool          `bson:"direct_message" json:"direct_message"`

	AllowedUserIDs  []int64 `bson:"allowed_user_ids" json:"-"`
	AllowedGroupIDs []int64 `bson:"allowed_group_ids" json:"-"`

	UserCount int `bson:"user_count" json:"user_count"`

	// Monotonic bus sequence bookkeeping; consumers use it to detect gaps.
	LastMessageBusID int64 `bson:"last_message_bus_id" json:"-"`

	CreateTime time.Time `bson:"create_time" json:"-"`
}

func (c *Channel) GetTableName() string {
	return "chat_channel"
}

func (c *Channel) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.GetTableName())
}

// BumpLastMessageBusID advances the bookkeeping id, never backwards.
func (c *Channel) BumpLastMessageBusID(ctx context.Context, channelID, busID int64) (updated bool, err error) {
	if busID <= 0 {
		return false, nil
	}
	filter := bson.M{
		"channel_id":          channelID,
		"last_message_bus_id": bson.M{"$lt": busID},
	}
	update := bson.M{
		"$set": bson.M{"last_message_bus_id": busID},
	}
	res, err := c.Collection().UpdateOne(ctx, filter, update, options.Update())
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}
