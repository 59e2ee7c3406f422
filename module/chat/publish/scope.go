package publish

import (
	chatmodel "chatbus/module/chat/model"
	"chatbus/service/bus"
)

// StaffGroupID is the automatic staff group; flag events for moderators are
// scoped to it.
const StaffGroupID int64 = 3

// Permissions is the channel-broadcast audience: the channel's allow-lists,
// verbatim. Point-to-point notifications (tracking state, warnings) bypass
// this and address a single user id instead.
func Permissions(channel *chatmodel.Channel) *bus.Audience {
	return &bus.Audience{
		UserIDs:  channel.AllowedUserIDs,
		GroupIDs: channel.AllowedGroupIDs,
	}
}
