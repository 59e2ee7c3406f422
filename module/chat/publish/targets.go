package publish

import (
	chatmodel "chatbus/module/chat/model"
)

// ResolveTargets computes the broadcast topics for one message. Pure over
// its inputs.
//
// With threading disabled the root topic is the only audience; threads are
// invisible on the bus. A thread's original message goes to both root and
// thread listeners. A thread reply goes to the thread topic only, plus the
// staged-thread topic when the client sent to a thread that had not been
// persisted yet, so its optimistic placeholder hears the confirmation.
func ResolveTargets(channel *chatmodel.Channel, message *chatmodel.Message, stagedThreadID int64) []string {
	if !allowPublishToThread(channel) {
		return []string{RootTopic(channel.ID)}
	}

	if message.ThreadOM {
		return []string{
			RootTopic(channel.ID),
			ThreadTopic(channel.ID, message.ThreadID),
		}
	}

	if stagedThreadID != 0 || message.ThreadReply() {
		var targets []string
		if message.ThreadID != 0 {
			targets = append(targets, ThreadTopic(channel.ID, message.ThreadID))
		}
		if stagedThreadID != 0 && stagedThreadID != message.ThreadID {
			targets = append(targets, ThreadTopic(channel.ID, stagedThreadID))
		}
		return targets
	}

	return []string{RootTopic(channel.ID)}
}

func allowPublishToThread(channel *chatmodel.Channel) bool {
	return channel.ThreadingEnabled
}
