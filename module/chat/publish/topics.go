package publish

import "fmt"

// Channel-lifecycle topics are fixed strings; everything else is templated
// per channel, thread or user.
const (
	NewChannelTopic           = "/chat/new-channel"
	ChannelEditsTopic         = "/chat/channel-edits"
	ChannelStatusTopic        = "/chat/channel-status"
	ChannelMetadataTopic      = "/chat/channel-metadata"
	ChannelArchiveStatusTopic = "/chat/channel-archive-status"
)

func RootTopic(channelID int64) string {
	return fmt.Sprintf("/chat/%d", channelID)
}

func ThreadTopic(channelID, threadID int64) string {
	return fmt.Sprintf("%s/thread/%d", RootTopic(channelID), threadID)
}

func NewMessagesTopic(channelID int64) string {
	return RootTopic(channelID) + "/new-messages"
}

func NewMentionsTopic(channelID int64) string {
	return fmt.Sprintf("/chat/%d/new-mentions", channelID)
}

func KickTopic(channelID int64) string {
	return fmt.Sprintf("/chat/%d/kick", channelID)
}

func UserTrackingStateTopic(userID int64) string {
	return fmt.Sprintf("/chat/user-tracking-state/%d", userID)
}

func BulkUserTrackingStateTopic(userID int64) string {
	return fmt.Sprintf("/chat/bulk-user-tracking-state/%d", userID)
}
