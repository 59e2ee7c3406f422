package bus

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestMemoryBusPerTopicSequences(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Publish(ctx, "/chat/1", map[string]any{"n": i}, nil); err != nil {
			t.Fatal(err)
		}
	}
	seq, err := b.Publish(ctx, "/chat/2", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Sequences are per topic, not global.
	if seq != 1 {
		t.Fatalf("fresh topic seq = %d, want 1", seq)
	}

	records := b.TopicRecords("/chat/1")
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, r := range records {
		if r.Seq != int64(i+1) {
			t.Fatalf("record %d seq = %d", i, r.Seq)
		}
	}
}

func TestMemoryBusRecordOrder(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	topics := []string{"/chat/1", "/chat/1/new-messages", "/chat/1"}
	for _, topic := range topics {
		if _, err := b.Publish(ctx, topic, map[string]any{}, nil); err != nil {
			t.Fatal(err)
		}
	}

	records := b.Records()
	if len(records) != len(topics) {
		t.Fatalf("got %d records", len(records))
	}
	for i, r := range records {
		if r.Topic != topics[i] {
			t.Fatalf("record %d topic = %q, want %q", i, r.Topic, topics[i])
		}
	}

	b.Reset()
	if len(b.Records()) != 0 {
		t.Fatal("records survived reset")
	}
	if seq, _ := b.Publish(ctx, "/chat/1", map[string]any{}, nil); seq != 1 {
		t.Fatalf("seq after reset = %d, want 1", seq)
	}
}

func TestLocalSequencerPerTopic(t *testing.T) {
	s := NewLocalSequencer()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Next(ctx, "/chat/1")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("seq = %d, want %d", got, want)
		}
	}
	if got, _ := s.Next(ctx, "/chat/2"); got != 1 {
		t.Fatalf("fresh topic seq = %d, want 1", got)
	}
}

type failBus struct{}

func (failBus) Publish(ctx context.Context, topic string, payload any, aud *Audience) (int64, error) {
	return 0, errors.New("broker down")
}

func TestTeeMirrorsPublishes(t *testing.T) {
	primary := NewMemoryBus()
	secondary := NewMemoryBus()
	tee := &Tee{Primary: primary, Secondary: secondary}

	seq, err := tee.Publish(context.Background(), "/chat/1", map[string]any{"type": "sent"}, Users(5))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Fatalf("seq = %d, want primary's 1", seq)
	}
	if n := len(primary.TopicRecords("/chat/1")); n != 1 {
		t.Fatalf("primary records = %d", n)
	}
	if n := len(secondary.TopicRecords("/chat/1")); n != 1 {
		t.Fatalf("secondary records = %d", n)
	}
}

func TestTeeSecondaryFailureKeepsPrimarySeq(t *testing.T) {
	primary := NewMemoryBus()
	tee := &Tee{Primary: primary, Secondary: failBus{}}

	seq, err := tee.Publish(context.Background(), "/chat/1", map[string]any{}, nil)
	if err == nil {
		t.Fatal("expected mirror failure to surface")
	}
	// The primary delivery succeeded; its sequence id stands.
	if seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}
	if n := len(primary.TopicRecords("/chat/1")); n != 1 {
		t.Fatalf("primary records = %d", n)
	}
}

func TestEncodeEnvelope(t *testing.T) {
	raw, err := encodeEnvelope(7, "/chat/1", map[string]any{"type": "sent"}, &Audience{
		UserIDs:  []int64{5},
		GroupIDs: []int64{3},
	})
	if err != nil {
		t.Fatal(err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.ID != 7 || env.Topic != "/chat/1" {
		t.Fatalf("envelope = %+v", env)
	}
	if !reflect.DeepEqual(env.UserIDs, []int64{5}) || !reflect.DeepEqual(env.GroupIDs, []int64{3}) {
		t.Fatalf("audience = %v %v", env.UserIDs, env.GroupIDs)
	}

	var data map[string]any
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["type"] != "sent" {
		t.Fatalf("data = %v", data)
	}
}

func TestEncodeEnvelopeNilAudience(t *testing.T) {
	raw, err := encodeEnvelope(1, "/chat/new-channel", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// user_ids/group_ids must be omitted entirely, not sent as null, so
	// consumers can treat their absence as "everyone".
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		t.Fatal(err)
	}
	if _, ok := probe["user_ids"]; ok {
		t.Fatal("user_ids present for nil audience")
	}
	if _, ok := probe["group_ids"]; ok {
		t.Fatal("group_ids present for nil audience")
	}
}
