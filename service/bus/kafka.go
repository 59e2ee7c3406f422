package bus

import (
	"context"

	"chatbus/tools/errs"

	"github.com/Shopify/sarama"
)

// KafkaBus writes every publish to a single Kafka topic keyed by the chat
// topic string, so per-chat-topic FIFO order is preserved by partition
// assignment. Used as a firehose for downstream consumers (audit, webhooks)
// rather than for interactive delivery. Sequence ids come from the
// configured Sequencer; back it with the shared Redis sequencer to keep gap
// detection valid across processes.
type KafkaBus struct {
	producer sarama.SyncProducer
	topic    string
	seq      Sequencer
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// Seq overrides the sequence source; nil means process-local.
	Seq Sequencer
}

func NewKafkaBus(cfg KafkaConfig) (*KafkaBus, error) {
	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errs.Wrap(err, "kafka producer")
	}
	seq := cfg.Seq
	if seq == nil {
		seq = NewLocalSequencer()
	}
	return &KafkaBus{producer: producer, topic: cfg.Topic, seq: seq}, nil
}

func (b *KafkaBus) Close() error {
	return b.producer.Close()
}

func (b *KafkaBus) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	seq, err := b.seq.Next(ctx, topic)
	if err != nil {
		return 0, err
	}
	raw, err := encodeEnvelope(seq, topic, payload, aud)
	if err != nil {
		return 0, err
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.topic,
		Key:   sarama.StringEncoder(topic),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return 0, errs.Wrapf(err, "kafka publish to %s", topic)
	}
	return seq, nil
}

// Tee mirrors every publish on the primary bus to a secondary one. The
// secondary write is best-effort; its error is returned but the primary
// sequence id stands.
type Tee struct {
	Primary   Bus
	Secondary Bus
}

func (t *Tee) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	seq, err := t.Primary.Publish(ctx, topic, payload, aud)
	if err != nil {
		return 0, err
	}
	if _, serr := t.Secondary.Publish(ctx, topic, payload, aud); serr != nil {
		return seq, errs.Wrapf(serr, "mirror publish to %s", topic)
	}
	return seq, nil
}
