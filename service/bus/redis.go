package bus

import (
	"context"

	"chatbus/tools/errs"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes over Redis pub/sub, with sequence ids from the shared
// RedisSequencer, so they are monotonic across every server process sharing
// the Redis instance.
type RedisBus struct {
	client *redis.Client
	seq    *RedisSequencer
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, seq: NewRedisSequencer(client)}
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	seq, err := b.seq.Next(ctx, topic)
	if err != nil {
		return 0, err
	}
	raw, err := encodeEnvelope(seq, topic, payload, aud)
	if err != nil {
		return 0, err
	}
	if err := b.client.Publish(ctx, topic, raw).Err(); err != nil {
		return 0, errs.Wrapf(err, "publish to %s", topic)
	}
	return seq, nil
}
