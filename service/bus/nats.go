package bus

import (
	"context"
	"strings"

	"chatbus/tools/errs"
	"chatbus/tools/ids"

	"github.com/nats-io/nats.go"
)

// NatsBus publishes over NATS core. Topics map to subjects by swapping the
// path separator ("/chat/42/thread/7" -> "chat.42.thread.7"). Sequence ids
// come from the configured Sequencer; back it with the shared Redis
// sequencer to keep gap detection valid across processes.
type NatsBus struct {
	conn *nats.Conn
	seq  Sequencer
}

type NatsConfig struct {
	Servers []string
	Name    string
	// Seq overrides the sequence source; nil means process-local.
	Seq Sequencer
}

func NewNatsBus(cfg NatsConfig) (*NatsBus, error) {
	conn, err := nats.Connect(strings.Join(cfg.Servers, ","), nats.Name(cfg.Name))
	if err != nil {
		return nil, errs.Wrap(err, "nats connect")
	}
	seq := cfg.Seq
	if seq == nil {
		seq = NewLocalSequencer()
	}
	return &NatsBus{conn: conn, seq: seq}, nil
}

func (b *NatsBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

func (b *NatsBus) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	seq, err := b.seq.Next(ctx, topic)
	if err != nil {
		return 0, err
	}
	raw, err := encodeEnvelope(seq, topic, payload, aud)
	if err != nil {
		return 0, err
	}
	msg := nats.NewMsg(subjectFor(topic))
	msg.Data = raw
	// Dedup id so JetStream consumers can drop redelivered frames.
	msg.Header.Set(nats.MsgIdHdr, ids.GenerateString())
	if err := b.conn.PublishMsg(msg); err != nil {
		return 0, errs.Wrapf(err, "nats publish to %s", topic)
	}
	return seq, nil
}

func subjectFor(topic string) string {
	s := strings.Trim(topic, "/")
	return strings.ReplaceAll(s, "/", ".")
}
