package publish

import (
	"context"

	chatmodel "chatbus/module/chat/model"
)

// Channel-lifecycle events go to fixed global topics scoped by the
// channel's own permissions; clients watching the lifecycle topics only see
// events for channels they could see anyway.

// ArchiveStatus summarizes an archive run for one channel.
type ArchiveStatus struct {
	Failed           bool
	Completed        bool
	ArchivedMessages int
	TotalMessages    int
	ArchiveTopicID   int64
}

func (p *Publisher) PublishChannelEdit(ctx context.Context, channel *chatmodel.Channel) error {
	_, err := p.bus.Publish(ctx, ChannelEditsTopic, map[string]any{
		"chat_channel_id": channel.ID,
		"name":            channel.Name,
		"description":     channel.Description,
		"slug":            channel.Slug,
	}, Permissions(channel))
	return err
}

func (p *Publisher) PublishChannelStatus(ctx context.Context, channel *chatmodel.Channel) error {
	_, err := p.bus.Publish(ctx, ChannelStatusTopic, map[string]any{
		"chat_channel_id": channel.ID,
		"status":          channel.Status,
	}, Permissions(channel))
	return err
}

func (p *Publisher) PublishChannelMetadata(ctx context.Context, channel *chatmodel.Channel) error {
	_, err := p.bus.Publish(ctx, ChannelMetadataTopic, map[string]any{
		"chat_channel_id":   channel.ID,
		"memberships_count": channel.UserCount,
	}, Permissions(channel))
	return err
}

func (p *Publisher) PublishArchiveStatus(ctx context.Context, channel *chatmodel.Channel, status ArchiveStatus) error {
	_, err := p.bus.Publish(ctx, ChannelArchiveStatusTopic, map[string]any{
		"chat_channel_id":   channel.ID,
		"archive_failed":    status.Failed,
		"archive_completed": status.Completed,
		"archived_messages": status.ArchivedMessages,
		"total_messages":    status.TotalMessages,
		"archive_topic_id":  status.ArchiveTopicID,
	}, Permissions(channel))
	return err
}
