package bus

import (
	"context"
	"sync"

	"chatbus/tools/errs"

	"github.com/redis/go-redis/v9"
)

const seqKeyPrefix = "chatbus:seq:"

// Sequencer hands out the per-topic sequence ids the envelope carries. The
// id must be known before the frame hits the broker, so broker-assigned
// offsets cannot serve here; the sequencer is the one source of truth for
// gap detection.
type Sequencer interface {
	Next(ctx context.Context, topic string) (int64, error)
}

// LocalSequencer counts per topic in process memory. Gap detection with it
// only holds within a single server process.
type LocalSequencer struct {
	mu   sync.Mutex
	seqs map[string]int64
}

func NewLocalSequencer() *LocalSequencer {
	return &LocalSequencer{seqs: map[string]int64{}}
}

func (s *LocalSequencer) Next(ctx context.Context, topic string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[topic]++
	return s.seqs[topic], nil
}

// RedisSequencer draws ids from a per-topic INCR key, so they are monotonic
// across every process sharing the Redis instance. Backing the NATS and
// Kafka buses with it restores cross-process gap detection there too.
type RedisSequencer struct {
	client *redis.Client
}

func NewRedisSequencer(client *redis.Client) *RedisSequencer {
	return &RedisSequencer{client: client}
}

func (s *RedisSequencer) Next(ctx context.Context, topic string) (int64, error) {
	seq, err := s.client.Incr(ctx, seqKeyPrefix+topic).Result()
	if err != nil {
		return 0, errs.Wrapf(err, "incr sequence for %s", topic)
	}
	return seq, nil
}
