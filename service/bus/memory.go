package bus

import (
	"context"
	"encoding/json"
	"sync"
)

// Record is one captured publish on the in-memory bus.
type Record struct {
	Seq      int64
	Topic    string
	Payload  map[string]any
	Audience *Audience
}

// MemoryBus keeps everything in process. Used by tests and by single-node
// setups that have no external broker.
type MemoryBus struct {
	mu      sync.Mutex
	seqs    map[string]int64
	records []Record
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{seqs: map[string]int64{}}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	// Round-trip through JSON so tests observe exactly what would go over
	// the wire.
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs[topic]++
	seq := b.seqs[topic]
	b.records = append(b.records, Record{Seq: seq, Topic: topic, Payload: decoded, Audience: aud})
	return seq, nil
}

// Records returns a copy of every captured publish in order.
func (b *MemoryBus) Records() []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// TopicRecords returns the publishes captured for one topic, in order.
func (b *MemoryBus) TopicRecords(topic string) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Record
	for _, r := range b.records {
		if r.Topic == topic {
			out = append(out, r)
		}
	}
	return out
}

func (b *MemoryBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seqs = map[string]int64{}
	b.records = nil
}
