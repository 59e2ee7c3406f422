package publish

import (
	"time"

	chatmodel "chatbus/module/chat/model"
)

// Event type discriminators carried in the "type" payload field.
const (
	EventSent            = "sent"
	EventEdit            = "edit"
	EventRefresh         = "refresh"
	EventDelete          = "delete"
	EventBulkDelete      = "bulk_delete"
	EventRestore         = "restore"
	EventReaction        = "reaction"
	EventProcessed       = "processed"
	EventThreadCreated   = "thread_created"
	EventSelfFlagged     = "self_flagged"
	EventFlag            = "flag"
	EventMentionWarning  = "mention_warning"
	EventNotice          = "notice"
	EventUpdateThreadOM  = "update_thread_original_message"
	EventChannelNotice   = "channel"
	EventThreadNotice    = "thread"
	ReactionActionAdd    = "add"
	ReactionActionRemove = "remove"
)

// SerializeMessage projects a message for the wire with the anonymous
// scope: identity, author, content, nothing recipient-relative. The output
// is deterministic for identical input; every timestamp comes off the
// message itself, never the wall clock.
func SerializeMessage(message *chatmodel.Message) map[string]any {
	payload := map[string]any{
		"id":              message.ID,
		"chat_channel_id": message.ChannelID,
		"message":         message.Message,
		"cooked":          message.Cooked,
		"excerpt":         message.Excerpt,
		"created_at":      message.CreatedAt.UTC().Format(time.RFC3339),
		"user": map[string]any{
			"id":       message.UserID,
			"username": message.Username,
		},
	}
	if message.ThreadID != 0 {
		payload["thread_id"] = message.ThreadID
	}
	if message.EditedAt != nil {
		payload["edited_at"] = message.EditedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// SerializeWithType adds the event discriminator and merges extra fields
// last, so extras may override generated ones (staged ids on initial send
// rely on this).
func SerializeWithType(message *chatmodel.Message, eventType string, extra map[string]any) map[string]any {
	payload := SerializeMessage(message)
	payload["type"] = eventType
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

// BasicUser is the minimal author/actor projection used in reaction and
// warning payloads.
type BasicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
