package publish

import (
	"reflect"
	"testing"

	chatmodel "chatbus/module/chat/model"
)

func TestResolveTargets(t *testing.T) {
	plain := &chatmodel.Channel{ID: 1}
	threaded := &chatmodel.Channel{ID: 1, ThreadingEnabled: true}

	tests := []struct {
		name           string
		channel        *chatmodel.Channel
		message        *chatmodel.Message
		stagedThreadID int64
		want           []string
	}{
		{
			name:    "plain message, threading disabled",
			channel: plain,
			message: &chatmodel.Message{ID: 10, ChannelID: 1},
			want:    []string{"/chat/1"},
		},
		{
			name:    "reply-like payload still goes to root when threading disabled",
			channel: plain,
			message: &chatmodel.Message{ID: 10, ChannelID: 1, ThreadID: 7},
			want:    []string{"/chat/1"},
		},
		{
			name:    "thread original message goes to root first, then thread",
			channel: threaded,
			message: &chatmodel.Message{ID: 10, ChannelID: 1, ThreadID: 7, ThreadOM: true},
			want:    []string{"/chat/1", "/chat/1/thread/7"},
		},
		{
			name:    "thread reply goes to thread only",
			channel: threaded,
			message: &chatmodel.Message{ID: 10, ChannelID: 1, ThreadID: 7},
			want:    []string{"/chat/1/thread/7"},
		},
		{
			name:           "staged thread id adds a second thread target",
			channel:        threaded,
			message:        &chatmodel.Message{ID: 10, ChannelID: 1, ThreadID: 7},
			stagedThreadID: 99,
			want:           []string{"/chat/1/thread/7", "/chat/1/thread/99"},
		},
		{
			name:           "staged id equal to the real thread id is not duplicated",
			channel:        threaded,
			message:        &chatmodel.Message{ID: 10, ChannelID: 1, ThreadID: 7},
			stagedThreadID: 7,
			want:           []string{"/chat/1/thread/7"},
		},
		{
			name:           "staged id alone targets the staged thread",
			channel:        threaded,
			message:        &chatmodel.Message{ID: 10, ChannelID: 1},
			stagedThreadID: 99,
			want:           []string{"/chat/1/thread/99"},
		},
		{
			name:    "plain message on threaded channel goes to root",
			channel: threaded,
			message: &chatmodel.Message{ID: 10, ChannelID: 1},
			want:    []string{"/chat/1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveTargets(tc.channel, tc.message, tc.stagedThreadID)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ResolveTargets = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTopicFormats(t *testing.T) {
	if got := RootTopic(42); got != "/chat/42" {
		t.Fatalf("RootTopic = %q", got)
	}
	if got := ThreadTopic(42, 7); got != "/chat/42/thread/7" {
		t.Fatalf("ThreadTopic = %q", got)
	}
	if got := NewMessagesTopic(42); got != "/chat/42/new-messages" {
		t.Fatalf("NewMessagesTopic = %q", got)
	}
	if got := NewMentionsTopic(42); got != "/chat/42/new-mentions" {
		t.Fatalf("NewMentionsTopic = %q", got)
	}
	if got := KickTopic(42); got != "/chat/42/kick" {
		t.Fatalf("KickTopic = %q", got)
	}
	if got := UserTrackingStateTopic(9); got != "/chat/user-tracking-state/9" {
		t.Fatalf("UserTrackingStateTopic = %q", got)
	}
	if got := BulkUserTrackingStateTopic(9); got != "/chat/bulk-user-tracking-state/9" {
		t.Fatalf("BulkUserTrackingStateTopic = %q", got)
	}
}
